package formulary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adultText = `ASPIRIN
Indications and dose
Cardiovascular disease secondary prevention
By mouth
Adult: 75 mg daily.

METFORMIN HYDROCHLORIDE
Type 2 diabetes mellitus
By mouth using immediate-release medicines
Adult: Initially 500 mg once daily.`

const childrenText = `PARACETAMOL
Pain and pyrexia with discomfort
Child 1-2 months: 30-60 mg every 8 hours as required.`

func TestSearchFindsDrugAndReportsCorpora(t *testing.T) {
	idx := FromText(Text{"adult", adultText}, Text{"children", childrenText})

	res := idx.Search("Aspirin", "acetylsalicylic acid")
	require.True(t, res.Found())
	assert.Equal(t, "Found in BNF adult", res.Status)
	assert.Equal(t, []string{"adult"}, res.FoundIn)
	assert.Contains(t, res.Detail, "ASPIRIN Indications and dose")
	assert.True(t, strings.HasPrefix(res.Hits[0].Context, "..."))
}

func TestSearchUsesINNWhenNameMissing(t *testing.T) {
	idx := FromText(Text{"adult", adultText}, Text{"children", childrenText})

	res := idx.Search("Панадол", "paracetamol")
	assert.Equal(t, "Found in BNF children", res.Status)
	assert.Equal(t, "paracetamol", res.Hits[0].Term)
}

func TestSearchMatchesWholeWordsOnly(t *testing.T) {
	idx := FromText(Text{"adult", "Metformin hydrochloride and metforminum"})
	res := idx.Search("metformi", "")
	assert.False(t, res.Found())
	assert.Equal(t, "Not found", res.Status)
	assert.Empty(t, res.Detail)
}

func TestSearchCyrillicWordBoundaries(t *testing.T) {
	idx := FromText(Text{"adult", "Применение: аспирин 100 мг. Аспиринкардио не путать."})
	res := idx.Search("АСПИРИН", "")
	require.True(t, res.Found())
	assert.Contains(t, res.Hits[0].Context, "аспирин 100 мг")
}

func TestSearchFindsInBothCorpora(t *testing.T) {
	idx := FromText(Text{"adult", "PARACETAMOL adult dose"}, Text{"children", childrenText})
	res := idx.Search("paracetamol", "paracetamol")
	assert.Equal(t, "Found in BNF adult, children", res.Status)
	assert.Len(t, res.Hits, 2)
}

func TestSearchTermIsQuoted(t *testing.T) {
	idx := FromText(Text{"adult", "co-amoxiclav (amoxicillin + clavulanic acid) 625 mg"})
	res := idx.Search("amoxicillin + clavulanic acid", "")
	assert.True(t, res.Found())
}

func TestContextWindowBounds(t *testing.T) {
	text := strings.Repeat("a ", 200) + "TARGET" + strings.Repeat(" b", 300)
	idx := FromText(Text{"adult", text})
	res := idx.Search("target", "")
	require.True(t, res.Found())
	ctx := strings.Trim(res.Hits[0].Context, ".")
	// 100 runes before and 200 after, with single spaces kept.
	assert.Equal(t, 100+len("TARGET")+200, len(ctx))
}

func TestLoadMissingFileIsEmptyCorpus(t *testing.T) {
	dir := t.TempDir()
	adult := filepath.Join(dir, "adult.txt")
	require.NoError(t, os.WriteFile(adult, []byte(adultText), 0o600))

	idx := Load(nil, Corpus{Name: "adult", Path: adult}, Corpus{Name: "children", Path: filepath.Join(dir, "missing.txt")})
	require.True(t, idx.Available())
	stats := idx.Stats()
	require.Len(t, stats, 2)
	assert.True(t, stats[0].Loaded)
	assert.False(t, stats[1].Loaded)
	assert.Equal(t, 0, stats[1].Chars)
	assert.True(t, idx.Search("metformin", "").Found())
}

func TestLoadDecodesLatin1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latin1.txt")
	// "Pénicilline" in ISO-8859-1.
	require.NoError(t, os.WriteFile(path, []byte{'P', 0xe9, 'n', 'i', 'c', 'i', 'l', 'l', 'i', 'n', 'e'}, 0o600))
	idx := Load(nil, Corpus{Name: "adult", Path: path})
	assert.True(t, idx.Search("pénicilline", "").Found())
}

func TestNilIndexIsEmpty(t *testing.T) {
	var idx *Index
	assert.False(t, idx.Available())
	assert.False(t, idx.Search("aspirin", "").Found())
}

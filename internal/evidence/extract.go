package evidence

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hadesus/analyzerforCP/internal/model"
)

const longSentenceRunes = 40

type gradeKeyword struct {
	grade model.Grade
	re    *regexp.Regexp
}

// gradeKeywords are ordered most specific first so that "very low" is never
// read as "low" when both match at the same position.
var gradeKeywords = []gradeKeyword{
	{model.GradeVeryLow, wordRe(`very[\s_-]*low|verylow|очень\s+низк\p{L}*`)},
	{model.GradeModerate, wordRe(`moderate|умеренн\p{L}*|средн\p{L}*`)},
	{model.GradeHigh, wordRe(`high|высок\p{L}*`)},
	{model.GradeLow, wordRe(`low|низк\p{L}*`)},
}

var (
	gradeLineRe     = regexp.MustCompile(`(?im)^[\s*_#>-]*(?:grade|уровень(?:\s+доказательности)?|оценка|ud_ai_grade)[^\n:]*[:：]\s*(.+)$`)
	justificationRe = regexp.MustCompile(`(?im)^[\s*_#>-]*(?:justification|rationale|обоснование|ud_ai_justification)[\s*_"]*[:：-]\s*(.+)$`)
	noteRe          = regexp.MustCompile(`(?im)^[\s*_#>-]*(?:clinician note|summary note|note|заметка(?:\s+для\s+клинициста)?|примечание|ai_summary_note)[\s*_"]*[:：-]\s*(.+)$`)
	sentenceEndRe   = regexp.MustCompile(`[.!?…]+(?:\s+|$)`)
)

// wordRe matches alternatives case-insensitively on Unicode word boundaries.
func wordRe(alternatives string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + alternatives + `)(?:$|[^\p{L}\p{N}_])`)
}

// ExtractGrade finds a grade keyword in English or Russian. A labelled grade
// line is searched before the rest of the text.
func ExtractGrade(text string) (model.Grade, bool) {
	if m := gradeLineRe.FindStringSubmatch(text); m != nil {
		if g, ok := matchGrade(m[1]); ok {
			return g, true
		}
	}
	return matchGrade(text)
}

// matchGrade returns the grade whose keyword appears first, so that a
// qualifier later in the sentence ("no high-quality trials") does not
// override the stated level.
func matchGrade(text string) (model.Grade, bool) {
	best := -1
	var out model.Grade
	for _, kw := range gradeKeywords {
		loc := kw.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if best < 0 || loc[0] < best {
			best = loc[0]
			out = kw.grade
		}
	}
	return out, best >= 0
}

// ExtractJustification returns a justification-labelled line, or else the
// first long sentence.
func ExtractJustification(text string) string {
	if m := justificationRe.FindStringSubmatch(text); m != nil {
		return cleanLine(m[1])
	}
	long := longSentences(text)
	if len(long) == 0 {
		return ""
	}
	return long[0]
}

// ExtractNote returns a note-labelled line, or else up to two trailing long
// sentences.
func ExtractNote(text string) string {
	if m := noteRe.FindStringSubmatch(text); m != nil {
		return cleanLine(m[1])
	}
	// The first long sentence is taken by the justification.
	long := longSentences(text)
	if len(long) < 2 {
		return ""
	}
	n := min(2, len(long)-1)
	return strings.Join(long[len(long)-n:], " ")
}

func longSentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	var out []string
	start := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		out = appendLong(out, text[start:loc[1]])
		start = loc[1]
	}
	out = appendLong(out, text[start:])
	return out
}

func appendLong(out []string, s string) []string {
	s = cleanLine(s)
	if utf8.RuneCountInString(s) >= longSentenceRunes {
		out = append(out, s)
	}
	return out
}

func cleanLine(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `*_"'`+"`"))
}

package formulary

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

const (
	contextBefore = 100
	contextAfter  = 200
)

// Corpus names a reference text and where to load it from.
type Corpus struct {
	Name string
	Path string
}

type corpus struct {
	name   string
	path   string
	text   string
	loaded bool
}

// CorpusStats is reported by the health endpoint.
type CorpusStats struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Loaded bool   `json:"loaded"`
	Chars  int    `json:"chars"`
}

type Hit struct {
	Corpus  string `json:"corpus"`
	Term    string `json:"term"`
	Context string `json:"context"`
}

type SearchResult struct {
	Status  string   `json:"status"`
	FoundIn []string `json:"found_in"`
	Detail  string   `json:"detail,omitempty"`
	Hits    []Hit    `json:"hits,omitempty"`
}

func (r SearchResult) Found() bool { return len(r.FoundIn) > 0 }

// Index holds the reference corpora in memory. It is read-only after Load.
type Index struct {
	corpora []corpus
}

// Load reads each corpus once. A missing or unreadable file is logged and
// kept as an empty corpus.
func Load(logger *zap.Logger, sources ...Corpus) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("formulary")
	idx := &Index{}
	for _, src := range sources {
		c := corpus{name: src.Name, path: src.Path}
		text, err := readCorpus(src.Path)
		if err != nil {
			logger.Warn("formulary corpus unavailable", zap.String("corpus", src.Name), zap.String("path", src.Path), zap.Error(err))
		} else {
			c.text = text
			c.loaded = true
			logger.Info("formulary corpus loaded", zap.String("corpus", src.Name), zap.Int("chars", utf8.RuneCountInString(text)))
		}
		idx.corpora = append(idx.corpora, c)
	}
	return idx
}

// Text is an in-memory corpus.
type Text struct {
	Name string
	Body string
}

// FromText builds an index from in-memory corpora.
func FromText(texts ...Text) *Index {
	idx := &Index{}
	for _, t := range texts {
		idx.corpora = append(idx.corpora, corpus{name: t.Name, text: t.Body, loaded: true})
	}
	return idx
}

func readCorpus(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("no path configured")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(b) {
		return string(b), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode latin-1: %w", err)
	}
	return string(decoded), nil
}

// Available reports whether at least one corpus has text.
func (x *Index) Available() bool {
	if x == nil {
		return false
	}
	for _, c := range x.corpora {
		if c.loaded && c.text != "" {
			return true
		}
	}
	return false
}

func (x *Index) Stats() []CorpusStats {
	if x == nil {
		return nil
	}
	out := make([]CorpusStats, 0, len(x.corpora))
	for _, c := range x.corpora {
		out = append(out, CorpusStats{Name: c.name, Path: c.path, Loaded: c.loaded, Chars: utf8.RuneCountInString(c.text)})
	}
	return out
}

// Search looks for drugName and, when it differs, inn in every corpus. The
// first hit per corpus contributes a context window to Detail.
func (x *Index) Search(drugName, inn string) SearchResult {
	res := SearchResult{Status: "Not found", FoundIn: []string{}}
	if x == nil {
		return res
	}
	terms := searchTerms(drugName, inn)
	if len(terms) == 0 {
		return res
	}
	patterns := make([]*regexp.Regexp, 0, len(terms))
	for _, t := range terms {
		patterns = append(patterns, termPattern(t))
	}

	var details []string
	for _, c := range x.corpora {
		if c.text == "" {
			continue
		}
		for i, re := range patterns {
			loc := re.FindStringSubmatchIndex(c.text)
			if loc == nil {
				continue
			}
			window := contextWindow(c.text, loc[2], loc[3])
			res.FoundIn = append(res.FoundIn, c.name)
			res.Hits = append(res.Hits, Hit{Corpus: c.name, Term: terms[i], Context: window})
			details = append(details, fmt.Sprintf("%s: %s", c.name, window))
			break
		}
	}
	if len(res.FoundIn) > 0 {
		res.Status = "Found in BNF " + strings.Join(res.FoundIn, ", ")
		res.Detail = strings.Join(details, "\n")
	}
	return res
}

func searchTerms(drugName, inn string) []string {
	var out []string
	name := strings.TrimSpace(drugName)
	if name != "" {
		out = append(out, name)
	}
	i := strings.TrimSpace(inn)
	if i != "" && !strings.EqualFold(i, name) {
		out = append(out, i)
	}
	return out
}

// termPattern matches term case-insensitively on word boundaries. RE2's \b
// only knows ASCII word characters, so boundaries are spelled out with
// Unicode classes to work for Cyrillic names too.
func termPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(` + regexp.QuoteMeta(term) + `)(?:$|[^\p{L}\p{N}_])`)
}

// contextWindow returns the whitespace-collapsed text around [start,end).
func contextWindow(text string, start, end int) string {
	from := start
	for n := 0; n < contextBefore && from > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(text[:from])
		from -= size
	}
	to := end
	for n := 0; n < contextAfter && to < len(text); n++ {
		_, size := utf8.DecodeRuneInString(text[to:])
		to += size
	}
	return "..." + strings.Join(strings.Fields(text[from:to]), " ") + "..."
}

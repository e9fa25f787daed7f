package literature

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Strategy is one PubMed query tried in order until one yields articles.
type Strategy struct {
	Name  string
	Query string
}

// diseasePatterns are tried in order against the lower-cased context; the
// first match wins.
var diseasePatterns = compileDiseasePatterns(
	// Russian stems
	`диабет[а-я]*`, `гипертони[а-я]*`, `астм[а-я]*`, `пневмони[а-я]*`, `инфекци[а-я]*`,
	`воспалени[а-я]*`, `артрит[а-я]*`, `депресси[а-я]*`, `тревог[а-я]*`, `эпилепси[а-я]*`,
	`мигрен[а-я]*`, `бол[а-я]*`, `рак[а-я]*`, `опухол[а-я]*`, `лейкеми[а-я]*`, `лимфом[а-я]*`,
	`саркома[а-я]*`, `карцином[а-я]*`, `ишеми[а-я]*`, `инфаркт[а-я]*`, `инсульт[а-я]*`,
	`тромбоз[а-я]*`, `эмболи[а-я]*`,
	// English terms
	`diabetes?`, `hypertension`, `asthma`, `pneumonia`, `infection`, `inflammation`,
	`arthritis`, `depression`, `anxiety`, `epilepsy`, `migraine`, `pain`, `cancer`, `tumou?r`,
	`leukemia`, `lymphoma`, `sarcoma`, `carcinoma`, `ischemia`, `infarction`, `stroke`,
	`thrombosis`, `embolism`,
)

func compileDiseasePatterns(stems ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(stems))
	for _, s := range stems {
		out = append(out, regexp.MustCompile(`(?:^|[^\p{L}])(`+s+`)`))
	}
	return out
}

// ExtractDisease picks the main condition from free-text indication context.
// Without a known condition it falls back to the first four words, keeping
// those longer than three characters.
func ExtractDisease(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, re := range diseasePatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			return m[1]
		}
	}
	words := strings.Fields(text)
	if len(words) > 4 {
		words = words[:4]
	}
	kept := words[:0]
	for _, w := range words {
		if utf8.RuneCountInString(w) > 3 {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// BuildStrategies returns the query cascade for a drug: disease-specific
// high-quality evidence first (only when a disease is known), then clinical
// studies, then a broad search over a longer period.
func BuildStrategies(q Query) []Strategy {
	inn := quoteSafe(q.INN)
	brand := quoteSafe(q.Brand)

	terms := []string{fmt.Sprintf(`"%s"[Title/Abstract]`, inn)}
	if brand != "" && !strings.EqualFold(brand, inn) {
		terms = append(terms, fmt.Sprintf(`"%s"[Title/Abstract]`, brand))
	}
	drugQuery := strings.Join(terms, " OR ")

	var out []Strategy
	if disease := quoteSafe(ExtractDisease(q.Context)); disease != "" {
		out = append(out, Strategy{
			Name: "disease_high_quality",
			Query: fmt.Sprintf(`(%s) AND ("%s"[Title/Abstract] OR "%s"[MeSH Terms]) AND (%s) AND ("last 10 years"[PDat])`,
				drugQuery, disease, disease,
				`"systematic review"[Publication Type] OR "meta-analysis"[Publication Type] OR "randomized controlled trial"[Publication Type]`),
		})
	}
	out = append(out,
		Strategy{
			Name: "clinical_studies",
			Query: fmt.Sprintf(`(%s) AND (%s) AND ("last 10 years"[PDat])`, drugQuery,
				`"clinical trial"[Publication Type] OR "randomized controlled trial"[Publication Type] OR "review"[Publication Type]`),
		},
		Strategy{
			Name:  "broad",
			Query: fmt.Sprintf(`"%s"[Title/Abstract] AND ("last 15 years"[PDat])`, inn),
		},
	)
	return out
}

func quoteSafe(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, `"`, "")), " ")
}

package report

import (
	"fmt"
	"strings"

	"github.com/hadesus/analyzerforCP/internal/model"
)

// Markdown renders the analysis as a GitHub-flavoured Markdown report: an
// overview table followed by one section per drug.
func Markdown(doc model.DocumentAnalysis, language string) string {
	l := labelsFor(language)
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", l.title)
	if doc.ID != "" {
		fmt.Fprintf(&b, "**%s:** `%s`\n\n", l.analysisID, doc.ID)
	}
	if s := strings.TrimSpace(doc.DocumentSummary); s != "" {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", l.summary, s)
	}

	fmt.Fprintf(&b, "## %s\n\n", l.drugs)
	if len(doc.Results) == 0 {
		fmt.Fprintf(&b, "%s\n", l.noDrugs)
		return b.String()
	}

	cols := overviewColumns(language)
	b.WriteString("| # |")
	for _, c := range cols {
		fmt.Fprintf(&b, " %s |", c.Header)
	}
	b.WriteString("\n|---|" + strings.Repeat("---|", len(cols)) + "\n")
	for i, a := range doc.Results {
		row := Flatten(a)
		fmt.Fprintf(&b, "| %d |", i+1)
		for _, c := range cols {
			fmt.Fprintf(&b, " %s |", cell(Value(row, c.Path)))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n## %s\n\n", l.details)
	for i, a := range doc.Results {
		row := Flatten(a)
		heading := a.Mention.SourceName
		if inn := a.Normalization.INNValue(); inn != "" && !strings.EqualFold(inn, heading) {
			heading += " (" + inn + ")"
		}
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, heading)
		fmt.Fprintf(&b, "- **GRADE:** %s\n", Value(row, "ai_analysis.ud_ai_grade"))
		fmt.Fprintf(&b, "- **%s:** %s\n", l.justification, Value(row, "ai_analysis.ud_ai_justification"))
		fmt.Fprintf(&b, "- **%s:** %s\n\n", l.note, Value(row, "ai_analysis.ai_summary_note"))
		fmt.Fprintf(&b, "**%s**\n\n", l.articles)
		if len(a.Literature) == 0 {
			fmt.Fprintf(&b, "%s\n\n", l.noArticles)
			continue
		}
		for _, r := range a.Literature {
			meta := strings.Join(nonEmpty(r.Authors, r.Journal, r.PublicationDate), ", ")
			if meta != "" {
				meta = " " + meta + "."
			}
			fmt.Fprintf(&b, "- [%s](%s)%s\n", escapeLinkText(r.Title), r.Link, meta)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// overviewColumns drops the long free-text columns, which go to the per-drug
// sections instead.
func overviewColumns(language string) []Column {
	var out []Column
	for _, c := range Columns(language) {
		switch c.Path {
		case "ai_analysis.ud_ai_justification", "ai_analysis.ai_summary_note", "pubmed_articles":
			continue
		}
		out = append(out, c)
	}
	return out
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", "<br>")
}

func escapeLinkText(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}

func nonEmpty(vals ...string) []string {
	out := vals[:0:0]
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" && v != missing {
			out = append(out, v)
		}
	}
	return out
}

package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hadesus/analyzerforCP/internal/model"
)

const missing = "N/A"

// Flatten maps one drug analysis onto dotted field paths matching its JSON
// shape, e.g. "regulatory_checks.FDA.status". Absent values become "N/A".
func Flatten(a model.DrugAnalysis) map[string]string {
	out := map[string]string{
		"source_data.drug_name_source":    a.Mention.SourceName,
		"source_data.dosage_source":       a.Mention.DosageText,
		"source_data.route_source":        a.Mention.RouteText,
		"source_data.ud_source":           a.Mention.EvidenceLevelText,
		"source_data.context_indication":  a.Mention.IndicationContext,
		"normalization.inn_name":          a.Normalization.INNValue(),
		"normalization.source":            string(a.Normalization.Source),
		"normalization.confidence":        string(a.Normalization.Confidence),
		"dosage_check.comparison_result":  dosageLabel(a.DosageCheck),
		"dosage_check.detail":             a.DosageCheck.Detail,
		"pubmed_articles":                 articleLines(a.Literature),
		"pubmed_articles.count":           strconv.Itoa(len(a.Literature)),
		"ai_analysis.ud_ai_grade":         string(a.Evidence.Grade),
		"ai_analysis.ud_ai_justification": a.Evidence.Justification,
		"ai_analysis.ai_summary_note":     a.Evidence.ClinicianNote,
	}
	for _, r := range model.Regulators {
		st, ok := a.Checks[r]
		if !ok {
			continue
		}
		prefix := "regulatory_checks." + string(r)
		out[prefix+".status"] = string(st.Status)
		out[prefix+".detail"] = st.Detail
		out[prefix+".standard_dosage"] = st.StandardDosage
	}
	for k, v := range out {
		if strings.TrimSpace(v) == "" {
			out[k] = missing
		}
	}
	return out
}

// Value looks a dotted path up in a flattened row.
func Value(row map[string]string, path string) string {
	if v, ok := row[path]; ok {
		return v
	}
	return missing
}

func dosageLabel(d model.DosageComparison) string {
	if d.Result == "" {
		return ""
	}
	if !d.Evaluated && d.Detail != "" {
		return string(d.Result) + " (not evaluated)"
	}
	return string(d.Result)
}

func articleLines(recs []model.LiteratureRecord) string {
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, fmt.Sprintf("%s (%s)", r.Title, r.Link))
	}
	return strings.Join(lines, "\n")
}

// Column is one exported table column.
type Column struct {
	Path   string
	Header string
}

// Columns returns the spreadsheet and table layout in the given language.
func Columns(language string) []Column {
	l := labelsFor(language)
	return []Column{
		{"source_data.drug_name_source", l.colName},
		{"normalization.inn_name", l.colINN},
		{"source_data.dosage_source", l.colDosage},
		{"ai_analysis.ud_ai_grade", l.colGrade},
		{"ai_analysis.ud_ai_justification", l.colJustification},
		{"ai_analysis.ai_summary_note", l.colNote},
		{"regulatory_checks.FDA.status", l.colFDA},
		{"regulatory_checks.EMA.status", l.colEMA},
		{"regulatory_checks.LocalFormulary.status", l.colBNF},
		{"regulatory_checks.EssentialMedicinesList.status", l.colEML},
		{"dosage_check.comparison_result", l.colDosageCheck},
		{"pubmed_articles", l.colArticles},
	}
}

package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/hadesus/analyzerforCP/internal/model"
	"github.com/xuri/excelize/v2"
)

const maxCellRunes = 32000

var columnWidths = map[string]float64{
	"source_data.drug_name_source":    22,
	"normalization.inn_name":          20,
	"source_data.dosage_source":       24,
	"ai_analysis.ud_ai_grade":         14,
	"ai_analysis.ud_ai_justification": 50,
	"ai_analysis.ai_summary_note":     50,
	"dosage_check.comparison_result":  18,
	"pubmed_articles":                 60,
}

// WriteXLSX writes a workbook with one row per drug on the first sheet and
// the document summary on the second.
func WriteXLSX(w io.Writer, doc model.DocumentAnalysis, language string) error {
	l := labelsFor(language)
	f := excelize.NewFile()
	defer f.Close()

	sheet := l.sheetResults
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	cols := Columns(language)

	header := make([]any, 0, len(cols))
	for _, c := range cols {
		header = append(header, c.Header)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, a := range doc.Results {
		row := Flatten(a)
		values := make([]any, 0, len(cols))
		for _, c := range cols {
			values = append(values, truncateCell(Value(row, c.Path)))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	bodyStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return fmt.Errorf("body style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(cols))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", headerStyle); err != nil {
		return err
	}
	if len(doc.Results) > 0 {
		if err := f.SetCellStyle(sheet, "A2", fmt.Sprintf("%s%d", lastCol, len(doc.Results)+1), bodyStyle); err != nil {
			return err
		}
	}
	for i, c := range cols {
		name, _ := excelize.ColumnNumberToName(i + 1)
		width, ok := columnWidths[c.Path]
		if !ok {
			width = 16
		}
		if err := f.SetColWidth(sheet, name, name, width); err != nil {
			return err
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if err := writeSummarySheet(f, doc, l); err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummarySheet(f *excelize.File, doc model.DocumentAnalysis, l labels) error {
	sheet := l.sheetSummary
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("add summary sheet: %w", err)
	}
	rows := [][]any{
		{l.analysisID, doc.ID},
		{l.summary, truncateCell(doc.DocumentSummary)},
		{l.drugs, len(doc.Results)},
	}
	if doc.Message != "" {
		rows = append(rows, []any{"message", doc.Message})
	}
	if doc.Error != "" {
		rows = append(rows, []any{"error", doc.Error})
	}
	for i, r := range rows {
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+1), &r); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	if err := f.SetColWidth(sheet, "A", "A", 20); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "B", "B", 100)
}

// truncateCell keeps values under the spreadsheet cell limit.
func truncateCell(s string) string {
	r := []rune(s)
	if len(r) <= maxCellRunes {
		return s
	}
	return strings.TrimSpace(string(r[:maxCellRunes])) + "..."
}

package report

import "strings"

type labels struct {
	title            string
	analysisID       string
	summary          string
	drugs            string
	details          string
	noDrugs          string
	articles         string
	noArticles       string
	justification    string
	note             string
	page             string
	of               string
	sheetResults     string
	sheetSummary     string
	colName          string
	colINN           string
	colDosage        string
	colGrade         string
	colJustification string
	colNote          string
	colFDA           string
	colEMA           string
	colBNF           string
	colEML           string
	colDosageCheck   string
	colArticles      string
}

func labelsFor(language string) labels {
	if strings.EqualFold(strings.TrimSpace(language), "english") {
		return labels{
			title:            "Clinical Protocol Analysis",
			analysisID:       "Analysis ID",
			summary:          "Document summary",
			drugs:            "Drugs",
			details:          "Details",
			noDrugs:          "No drugs were found in the document.",
			articles:         "PubMed articles",
			noArticles:       "No articles found.",
			justification:    "Justification",
			note:             "Clinician note",
			page:             "Page",
			of:               "of",
			sheetResults:     "Protocol Analysis",
			sheetSummary:     "Summary",
			colName:          "Name (source)",
			colINN:           "INN",
			colDosage:        "Dosage (source)",
			colGrade:         "Evidence level (AI/GRADE)",
			colJustification: "Justification (AI)",
			colNote:          "Note (AI)",
			colFDA:           "FDA status",
			colEMA:           "EMA status",
			colBNF:           "BNF status",
			colEML:           "WHO EML status",
			colDosageCheck:   "Dosage comparison",
			colArticles:      "PubMed links",
		}
	}
	return labels{
		title:            "Анализ клинического протокола",
		analysisID:       "ID анализа",
		summary:          "Резюме документа",
		drugs:            "Препараты",
		details:          "Подробности",
		noDrugs:          "В документе не найдено лекарственных препаратов.",
		articles:         "Статьи PubMed",
		noArticles:       "Статьи не найдены.",
		justification:    "Обоснование",
		note:             "Заметка для клинициста",
		page:             "Стр.",
		of:               "из",
		sheetResults:     "Анализ Протокола",
		sheetSummary:     "Резюме",
		colName:          "Название (Источник)",
		colINN:           "МНН",
		colDosage:        "Дозировка (Источник)",
		colGrade:         "Уровень док-ти (AI/GRADE)",
		colJustification: "Обоснование (AI)",
		colNote:          "Заметка (AI)",
		colFDA:           "Статус FDA",
		colEMA:           "Статус EMA",
		colBNF:           "Статус BNF",
		colEML:           "Статус WHO EML",
		colDosageCheck:   "Сравнение доз",
		colArticles:      "PubMed Ссылки",
	}
}

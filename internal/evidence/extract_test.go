package evidence

import (
	"testing"

	"github.com/hadesus/analyzerforCP/internal/model"
)

func TestExtractGradeVeryLowIsNotLow(t *testing.T) {
	cases := map[string]model.Grade{
		"The certainty of evidence is very low.":                   model.GradeVeryLow,
		"Overall: VERY_LOW":                                        model.GradeVeryLow,
		"Уровень доказательности очень низкий из-за малых выборок": model.GradeVeryLow,
		"Качество доказательств: Очень низкое":                     model.GradeVeryLow,
		"The certainty of evidence is low.":                        model.GradeLow,
		"Уровень доказательности низкий":                           model.GradeLow,
	}
	for in, want := range cases {
		got, ok := ExtractGrade(in)
		if !ok || got != want {
			t.Fatalf("ExtractGrade(%q) = %q, %v want %q", in, got, ok, want)
		}
	}
}

func TestExtractGradeOtherLevels(t *testing.T) {
	cases := map[string]model.Grade{
		"Evidence quality: High":              model.GradeHigh,
		"высокий уровень доказательности":     model.GradeHigh,
		"moderate certainty":                  model.GradeModerate,
		"Умеренный уровень":                   model.GradeModerate,
		"GRADE: Low\nnot high quality at all": model.GradeLow,
	}
	for in, want := range cases {
		if got, ok := ExtractGrade(in); !ok || got != want {
			t.Fatalf("ExtractGrade(%q) = %q want %q", in, got, want)
		}
	}
}

func TestExtractGradeEarliestKeywordWins(t *testing.T) {
	cases := map[string]model.Grade{
		"The evidence is low because there are no high-quality randomized trials.":    model.GradeLow,
		"Уровень доказательности низкий, так как нет исследований высокого качества.": model.GradeLow,
		"Moderate certainty; a high-quality trial is still pending.":                  model.GradeModerate,
		"Very low certainty, although one high quality cohort exists.":                model.GradeVeryLow,
	}
	for in, want := range cases {
		if got, ok := ExtractGrade(in); !ok || got != want {
			t.Fatalf("ExtractGrade(%q) = %q want %q", in, got, want)
		}
	}
}

func TestExtractGradeIgnoresEmbeddedWords(t *testing.T) {
	for _, in := range []string{"see below", "the following trials", "highlights of prescribing"} {
		if g, ok := ExtractGrade(in); ok {
			t.Fatalf("ExtractGrade(%q) matched %q", in, g)
		}
	}
}

func TestExtractJustificationAndNote(t *testing.T) {
	text := "**Обоснование:** Найдено несколько РКИ с противоречивыми результатами.\n**Заметка для клинициста:** Рассмотрите альтернативу."
	if got := ExtractJustification(text); got != "Найдено несколько РКИ с противоречивыми результатами." {
		t.Fatalf("justification = %q", got)
	}
	if got := ExtractNote(text); got != "Рассмотрите альтернативу." {
		t.Fatalf("note = %q", got)
	}
}

func TestExtractFromUnlabelledSentences(t *testing.T) {
	text := "Low. Multiple randomized trials support the indication in adults. Short one. " +
		"Regulatory approval is broad across FDA and EMA markets today. Clinicians should monitor renal function in elderly patients."
	if got := ExtractJustification(text); got != "Multiple randomized trials support the indication in adults." {
		t.Fatalf("justification = %q", got)
	}
	want := "Regulatory approval is broad across FDA and EMA markets today. Clinicians should monitor renal function in elderly patients."
	if got := ExtractNote(text); got != want {
		t.Fatalf("note = %q", got)
	}
}

func TestExtractNoteNeedsTwoLongSentences(t *testing.T) {
	if got := ExtractNote("Only one sentence here that is long enough to count."); got != "" {
		t.Fatalf("note = %q", got)
	}
}

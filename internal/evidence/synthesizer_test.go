package evidence

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hadesus/analyzerforCP/internal/llm"
	"github.com/hadesus/analyzerforCP/internal/model"
)

type fakeLLMCaller struct {
	response string
	err      error
	panics   bool
	calls    int
	opts     llm.Options
	prompt   string
}

func (f *fakeLLMCaller) Generate(_ context.Context, prompt string, opts llm.Options) (string, error) {
	f.calls++
	f.prompt, f.opts = prompt, opts
	if f.panics {
		panic("unexpected nil")
	}
	return f.response, f.err
}

func (f *fakeLLMCaller) ModelName() string { return "test-model" }

func dossier() model.DrugDossier {
	return model.DrugDossier{
		Mention:          model.DrugMention{SourceName: "Аспирин", DosageText: "100 мг", INNGuess: "acetylsalicylic acid"},
		Normalization:    model.NormalizationResult{INN: model.StringPtr("acetylsalicylic acid"), Source: model.SourceTerminology, Confidence: model.ConfidenceHigh},
		RegulatoryReport: model.EmptyRegulatoryReport(),
		Literature:       []model.LiteratureRecord{{PMID: "1", Title: "Aspirin trial"}},
	}
}

func TestSynthesizeSchemaPath(t *testing.T) {
	caller := &fakeLLMCaller{response: `{"ud_ai_grade":"Moderate","ud_ai_justification":"Several RCTs.","ai_summary_note":"Подходит для профилактики."}`}
	s := NewSynthesizer(caller, "", nil)

	got := s.Synthesize(context.Background(), dossier())

	if got.Grade != model.GradeModerate || got.Justification != "Several RCTs." || got.ClinicianNote != "Подходит для профилактики." {
		t.Fatalf("unexpected assessment %+v", got)
	}
	if caller.opts.Schema == nil || caller.opts.Schema.Name != "record_evidence_assessment" {
		t.Fatalf("expected schema-constrained call, got %+v", caller.opts)
	}
	if !strings.Contains(caller.prompt, `"drug_name_source": "Аспирин"`) || !strings.Contains(caller.prompt, "in Russian") {
		t.Fatalf("prompt missing dossier or language:\n%s", caller.prompt)
	}
}

func TestSynthesizeCleansFencedJSON(t *testing.T) {
	caller := &fakeLLMCaller{response: "Here you go:\n```json\n{\"ud_ai_grade\": \"very_low\", \"ud_ai_justification\": \"Case reports only.\", \"ai_summary_note\": \"Use with caution.\"}\n```\nThanks"}
	got := NewSynthesizer(caller, "English", nil).Synthesize(context.Background(), dossier())
	if got.Grade != model.GradeVeryLow || got.Justification != "Case reports only." {
		t.Fatalf("unexpected assessment %+v", got)
	}
}

func TestSynthesizeTextFallback(t *testing.T) {
	caller := &fakeLLMCaller{response: `GRADE: Very Low
Justification: only two small observational studies were identified in PubMed.
Note: the drug should be used only after reviewing the local guidelines.`}
	got := NewSynthesizer(caller, "English", nil).Synthesize(context.Background(), dossier())
	if got.Grade != model.GradeVeryLow {
		t.Fatalf("expected Very Low, got %s", got.Grade)
	}
	if got.Justification != "only two small observational studies were identified in PubMed." {
		t.Fatalf("justification = %q", got.Justification)
	}
	if got.ClinicianNote != "the drug should be used only after reviewing the local guidelines." {
		t.Fatalf("note = %q", got.ClinicianNote)
	}
}

func TestSynthesizeUnparseableIsUnknown(t *testing.T) {
	caller := &fakeLLMCaller{response: "I am not able to assess this."}
	got := NewSynthesizer(caller, "", nil).Synthesize(context.Background(), dossier())
	if got.Grade != model.GradeUnknown || got.Justification == "" || got.ClinicianNote == "" {
		t.Fatalf("unexpected assessment %+v", got)
	}
}

func TestSynthesizeTransportErrorIsError(t *testing.T) {
	got := NewSynthesizer(&fakeLLMCaller{err: errors.New("status code: 500")}, "", nil).Synthesize(context.Background(), dossier())
	if got.Grade != model.GradeError || got.Justification != "Ошибка при генерации анализа ИИ." {
		t.Fatalf("unexpected assessment %+v", got)
	}
}

func TestSynthesizeRecoversPanic(t *testing.T) {
	got := NewSynthesizer(&fakeLLMCaller{panics: true}, "English", nil).Synthesize(context.Background(), dossier())
	if got.Grade != model.GradeError || got.ClinicianNote == "" {
		t.Fatalf("unexpected assessment %+v", got)
	}
}

func TestSynthesizeWithoutLLM(t *testing.T) {
	got := NewSynthesizer(nil, "", nil).Synthesize(context.Background(), dossier())
	if got.Grade != model.GradeError {
		t.Fatalf("expected Error grade, got %s", got.Grade)
	}
}

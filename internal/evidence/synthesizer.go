package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hadesus/analyzerforCP/internal/llm"
	"github.com/hadesus/analyzerforCP/internal/logging"
	"github.com/hadesus/analyzerforCP/internal/metrics"
	"github.com/hadesus/analyzerforCP/internal/model"
	"go.uber.org/zap"
)

const (
	DefaultLanguage = "Russian"

	pathSchema   = "schema"
	pathFallback = "default"
	pathError    = "error"
)

var assessmentSchema = &llm.Schema{
	Name:        "record_evidence_assessment",
	Description: "Record the GRADE evidence assessment for one drug.",
	Properties: map[string]any{
		"ud_ai_grade": map[string]any{
			"type":        "string",
			"enum":        []string{"High", "Moderate", "Low", "Very Low"},
			"description": "GRADE level of evidence",
		},
		"ud_ai_justification": map[string]any{
			"type":        "string",
			"description": "One-sentence justification of the grade",
		},
		"ai_summary_note": map[string]any{
			"type":        "string",
			"description": "Short note for the clinician, one or two sentences",
		},
	},
	Required: []string{"ud_ai_grade", "ud_ai_justification", "ai_summary_note"},
}

type assessmentPayload struct {
	Grade         string `json:"ud_ai_grade"`
	Justification string `json:"ud_ai_justification"`
	Note          string `json:"ai_summary_note"`
}

func (p *assessmentPayload) Validate() error {
	if _, ok := model.ParseGrade(p.Grade); !ok {
		return fmt.Errorf("unrecognised grade %q", p.Grade)
	}
	return nil
}

// Synthesizer asks the LLM for a graded assessment of a drug dossier.
type Synthesizer struct {
	llm      llm.Caller
	language string
	text     messages
	chain    llm.ParseChain
	logger   *zap.Logger
}

func NewSynthesizer(caller llm.Caller, language string, logger *zap.Logger) *Synthesizer {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		llm:      caller,
		language: language,
		text:     messagesFor(language),
		chain:    llm.ParseChain{llm.StrictJSON, llm.CleanupJSON, TextPatterns},
		logger:   logger.Named("evidence"),
	}
}

// Synthesize never fails: transport errors and panics become an Error
// grade, unparseable answers become Unknown.
func (s *Synthesizer) Synthesize(ctx context.Context, d model.DrugDossier) (out model.EvidenceAssessment) {
	path := pathError
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("evidence synthesis panicked", zap.String("drug", d.Mention.SourceName), zap.Any("panic", r))
			out, path = s.errorAssessment(), pathError
		}
		metrics.RecordEvidenceGrade(string(out.Grade), path)
	}()
	out, path = s.synthesize(ctx, d)
	return out
}

func (s *Synthesizer) synthesize(ctx context.Context, d model.DrugDossier) (model.EvidenceAssessment, string) {
	if s.llm == nil {
		return s.errorAssessment(), pathError
	}
	prompt, err := s.prompt(d)
	if err != nil {
		s.logger.Error("evidence prompt build failed", zap.Error(err))
		return s.errorAssessment(), pathError
	}
	raw, err := s.llm.Generate(ctx, prompt, llm.Options{Temperature: 0.1, MaxTokens: 2048, Schema: assessmentSchema})
	if err != nil {
		s.logger.Warn("evidence llm call failed", zap.String("drug", d.Mention.SourceName), zap.Error(err))
		return s.errorAssessment(), pathError
	}

	var p assessmentPayload
	parser, err := s.chain.Parse(raw, &p)
	if err != nil {
		s.logger.Warn("evidence response unparseable", zap.String("drug", d.Mention.SourceName), zap.String("response", logging.Truncate(raw, 300)), zap.Error(err))
		return s.defaultAssessment(raw), pathFallback
	}
	if parser != llm.StrictJSON.Name() {
		s.logger.Info("evidence response recovered", zap.String("drug", d.Mention.SourceName), zap.String("parser", parser))
	}
	grade, _ := model.ParseGrade(p.Grade)
	return model.EvidenceAssessment{
		Grade:         grade,
		Justification: orDefault(p.Justification, s.text.noJustification),
		ClinicianNote: orDefault(p.Note, s.text.noNote),
	}, pathFor(parser)
}

func pathFor(parser string) string {
	switch parser {
	case llm.StrictJSON.Name():
		return pathSchema
	case "":
		return pathFallback
	default:
		return parser
	}
}

func (s *Synthesizer) prompt(d model.DrugDossier) (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`You are a clinical pharmacologist and evidence-based medicine expert. Review the drug data gathered from a clinical protocol and give a final assessment.

Drug data:
%s

Tasks:
1. Assign a GRADE level of evidence: "High", "Moderate", "Low" or "Very Low".
2. Give a one-sentence justification.
3. Write a short note for the clinician in %s (one or two sentences).

Rules of thumb:
- Several high-quality trials and broad regulatory approval: High.
- Some trials or partial approval: Moderate.
- Limited data: Low.
- Minimal or contradictory data, or no approvals: Very Low.
Take into account the evidence level stated in the protocol, the PubMed articles found, the regulatory statuses and the dosage check.`, data, s.language), nil
}

func (s *Synthesizer) errorAssessment() model.EvidenceAssessment {
	return model.EvidenceAssessment{Grade: model.GradeError, Justification: s.text.errJustification, ClinicianNote: s.text.errNote}
}

// defaultAssessment keeps whatever justification and note can still be
// salvaged from an answer without a recognisable grade.
func (s *Synthesizer) defaultAssessment(raw string) model.EvidenceAssessment {
	return model.EvidenceAssessment{
		Grade:         model.GradeUnknown,
		Justification: orDefault(ExtractJustification(raw), s.text.parseJustification),
		ClinicianNote: orDefault(ExtractNote(raw), s.text.parseNote),
	}
}

// TextPatterns is the last parsing layer: it runs the keyword and label
// extractors over free text. It only accepts text with a recognisable grade.
var TextPatterns = llm.NewParser("text_patterns", func(raw string, out any) error {
	p, ok := out.(*assessmentPayload)
	if !ok {
		return fmt.Errorf("text_patterns: unsupported target %T", out)
	}
	grade, found := ExtractGrade(raw)
	if !found {
		return errors.New("no grade keyword in response")
	}
	*p = assessmentPayload{Grade: string(grade), Justification: ExtractJustification(raw), Note: ExtractNote(raw)}
	return nil
})

type messages struct {
	errJustification   string
	errNote            string
	parseJustification string
	parseNote          string
	noJustification    string
	noNote             string
}

func messagesFor(language string) messages {
	if strings.EqualFold(strings.TrimSpace(language), "russian") {
		return messages{
			errJustification:   "Ошибка при генерации анализа ИИ.",
			errNote:            "Произошла ошибка при генерации финального анализа.",
			parseJustification: "Не удалось разобрать ответ модели.",
			parseNote:          "Требуется ручная проверка уровня доказательности.",
			noJustification:    "Обоснование не предоставлено.",
			noNote:             "Заметка не сгенерирована.",
		}
	}
	return messages{
		errJustification:   "The AI analysis could not be generated.",
		errNote:            "An error occurred while generating the final analysis.",
		parseJustification: "The model response could not be parsed.",
		parseNote:          "Manual review of the evidence level is required.",
		noJustification:    "No justification provided.",
		noNote:             "No note generated.",
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

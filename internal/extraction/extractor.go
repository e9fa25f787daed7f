package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hadesus/analyzerforCP/internal/llm"
	"github.com/hadesus/analyzerforCP/internal/logging"
	"github.com/hadesus/analyzerforCP/internal/model"
	"go.uber.org/zap"
)

const (
	SummaryInputRunes    = 10000
	ExtractionInputRunes = 30000
)

var drugsSchema = &llm.Schema{
	Name:        "record_drug_mentions",
	Description: "Record every drug mentioned in the clinical protocol.",
	Properties: map[string]any{
		"drugs": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"drug_name_source":   map[string]any{"type": "string", "description": "Drug name exactly as written in the document"},
					"dosage_source":      map[string]any{"type": "string", "description": "Dosage as written, empty if absent"},
					"route_source":       map[string]any{"type": "string", "description": "Route of administration as written, empty if absent"},
					"ud_source":          map[string]any{"type": "string", "description": "Level of evidence stated in the document, empty if absent"},
					"context_indication": map[string]any{"type": "string", "description": "Disease or indication the drug is used for"},
					"inn_name":           map[string]any{"type": "string", "description": "Best guess of the International Nonproprietary Name in English"},
				},
				"required": []string{"drug_name_source"},
			},
		},
	},
	Required: []string{"drugs"},
}

// drugList accepts both {"drugs":[...]} and a bare array.
type drugList struct {
	Drugs []model.DrugMention `json:"drugs"`
}

func (l *drugList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		return json.Unmarshal(b, &l.Drugs)
	}
	var obj struct {
		Drugs *[]model.DrugMention `json:"drugs"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Drugs == nil {
		return errors.New(`missing "drugs" field`)
	}
	l.Drugs = *obj.Drugs
	return nil
}

// Extractor runs the two document-level LLM calls: the summary and the
// unified drug extraction.
type Extractor struct {
	llm      llm.Caller
	language string
	logger   *zap.Logger
}

func New(caller llm.Caller, language string, logger *zap.Logger) *Extractor {
	if strings.TrimSpace(language) == "" {
		language = "Russian"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{llm: caller, language: language, logger: logger.Named("extraction")}
}

// PlaceholderSummary is used when the summary call fails.
func (e *Extractor) PlaceholderSummary() string {
	if strings.EqualFold(e.language, "russian") {
		return "Не удалось сгенерировать общее резюме для документа."
	}
	return "The document summary could not be generated."
}

// Summarize returns a 3-5 sentence overview of the protocol.
func (e *Extractor) Summarize(ctx context.Context, text string) (string, error) {
	if e.llm == nil {
		return "", errors.New("no llm configured")
	}
	prompt := fmt.Sprintf(`Analyse the following text from a clinical protocol and write a summary of 3-5 sentences in %s.
The summary should cover the key topics of the document: the main disease, the target patient population and the general treatment approaches.

Text:
---
%s
---`, e.language, headRunes(text, SummaryInputRunes))
	out, err := e.llm.Generate(ctx, prompt, llm.Options{Temperature: 0.2, MaxTokens: 1024})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("summarize: empty response")
	}
	return out, nil
}

// ExtractDrugs returns every drug mention in document order. Duplicates are
// kept; mentions with an empty name are left for the caller to reject.
func (e *Extractor) ExtractDrugs(ctx context.Context, text string) ([]model.DrugMention, error) {
	if e.llm == nil {
		return nil, errors.New("no llm configured")
	}
	prompt := fmt.Sprintf(`You are a clinical pharmacologist. Find every drug mentioned in the clinical protocol text below.
For each mention record the drug name exactly as written, the dosage, the route of administration, the level of evidence stated in the text (if any), the indication it is used for, and your best guess of its International Nonproprietary Name in English.
Use empty strings for fields that are not present. Do not merge repeated mentions. Do not invent drugs.

Text:
---
%s
---`, headRunes(text, ExtractionInputRunes))
	raw, err := e.llm.Generate(ctx, prompt, llm.Options{Temperature: 0, MaxTokens: 8192, Schema: drugsSchema})
	if err != nil {
		return nil, fmt.Errorf("extract drugs: %w", err)
	}
	var list drugList
	parser, err := llm.JSONChain().Parse(raw, &list)
	if err != nil {
		e.logger.Warn("drug extraction response unparseable", zap.String("response", logging.Truncate(raw, 300)), zap.Error(err))
		return nil, fmt.Errorf("extract drugs: %w", err)
	}
	out := make([]model.DrugMention, 0, len(list.Drugs))
	for _, m := range list.Drugs {
		out = append(out, clean(m))
	}
	e.logger.Info("drugs extracted", zap.Int("count", len(out)), zap.String("parser", parser))
	return out, nil
}

func clean(m model.DrugMention) model.DrugMention {
	return model.DrugMention{
		SourceName:        strings.TrimSpace(m.SourceName),
		DosageText:        strings.TrimSpace(m.DosageText),
		RouteText:         strings.TrimSpace(m.RouteText),
		EvidenceLevelText: strings.TrimSpace(m.EvidenceLevelText),
		IndicationContext: strings.TrimSpace(m.IndicationContext),
		INNGuess:          strings.TrimSpace(m.INNGuess),
	}
}

// headRunes returns at most n runes of s.
func headRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

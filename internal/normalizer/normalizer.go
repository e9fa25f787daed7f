package normalizer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hadesus/analyzerforCP/internal/llm"
	"github.com/hadesus/analyzerforCP/internal/model"
	"go.uber.org/zap"
)

// IngredientResolver is the terminology-service contract.
type IngredientResolver interface {
	ResolveIngredient(ctx context.Context, name string) (string, error)
}

// Normalizer maps free-text drug names to an INN: terminology lookup first,
// LLM second. It never returns an error.
type Normalizer struct {
	terminology IngredientResolver
	llm         llm.Caller
	logger      *zap.Logger
}

func New(terminology IngredientResolver, caller llm.Caller, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{terminology: terminology, llm: caller, logger: logger.Named("normalizer")}
}

func (n *Normalizer) Normalize(ctx context.Context, raw string) model.NormalizationResult {
	name := strings.TrimSpace(raw)
	if model.IsSentinelName(name) {
		return model.Unresolved()
	}

	if n.terminology != nil {
		inn, err := n.terminology.ResolveIngredient(ctx, name)
		if err == nil && !model.IsSentinelName(inn) {
			n.logger.Debug("resolved via terminology", zap.String("name", name), zap.String("inn", inn))
			return model.NormalizationResult{INN: model.StringPtr(inn), Source: model.SourceTerminology, Confidence: model.ConfidenceHigh}
		}
		n.logger.Info("terminology lookup found nothing", zap.String("name", name), zap.Error(err))
	}

	if n.llm != nil {
		resp, err := n.llm.Generate(ctx, buildINNPrompt(name), llm.Options{Temperature: 0, MaxTokens: 50})
		if err != nil {
			n.logger.Warn("llm normalization failed", zap.String("name", name), zap.Error(err))
			return model.Unresolved()
		}
		if inn, ok := cleanINN(resp); ok {
			n.logger.Debug("resolved via llm", zap.String("name", name), zap.String("inn", inn))
			return model.NormalizationResult{INN: model.StringPtr(inn), Source: model.SourceLLM, Confidence: model.ConfidenceMedium}
		}
		n.logger.Info("llm normalization unusable", zap.String("name", name), zap.String("response", resp))
	}
	return model.Unresolved()
}

func buildINNPrompt(name string) string {
	return fmt.Sprintf(`What is the International Nonproprietary Name (INN) of the drug "%s"?
The name may be a brand or generic name in any language.
Answer with the INN in English only, nothing else. If you do not know, answer "unknown".`, name)
}

var innPrefixRe = regexp.MustCompile(`(?i)^\s*(?:the\s+)?(?:inn|мнн|answer|ответ|international nonproprietary name)(?:\s+is)?\s*[:\-–]\s*|^\s*(?:the\s+)?(?:inn|international nonproprietary name)\s+is\s+`)

// cleanINN strips label prefixes, quotes and trailing punctuation and keeps
// the first line.
func cleanINN(resp string) (string, bool) {
	s := strings.TrimSpace(resp)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = innPrefixRe.ReplaceAllString(s, "")
	s = strings.Trim(s, " \t\"'`*«».")
	if utf8.RuneCountInString(s) <= 2 || model.IsSentinelName(s) {
		return "", false
	}
	return s, true
}

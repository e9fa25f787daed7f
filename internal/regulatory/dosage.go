package regulatory

import (
	"context"
	"fmt"
	"strings"

	"github.com/hadesus/analyzerforCP/internal/llm"
	"github.com/hadesus/analyzerforCP/internal/model"
	"go.uber.org/zap"
)

// LLMDosageComparer asks the LLM for a coarse four-way classification. No
// unit-aware arithmetic is attempted.
type LLMDosageComparer struct {
	llm    llm.Caller
	logger *zap.Logger
}

func NewLLMDosageComparer(caller llm.Caller, logger *zap.Logger) *LLMDosageComparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMDosageComparer{llm: caller, logger: logger.Named("dosage")}
}

func (d *LLMDosageComparer) Compare(ctx context.Context, source, standard string) model.DosageComparison {
	source = strings.TrimSpace(source)
	standard = strings.TrimSpace(standard)
	switch {
	case source == "":
		return notEvaluated("no source dosage")
	case standard == "":
		return notEvaluated("no standard dosage available")
	case d.llm == nil:
		return notEvaluated("no llm configured")
	}
	resp, err := d.llm.Generate(ctx, buildDosagePrompt(source, standard), llm.Options{Temperature: 0, MaxTokens: 20})
	if err != nil {
		d.logger.Warn("dosage comparison failed", zap.Error(err))
		return notEvaluated("comparison call failed")
	}
	result, ok := parseDosageResult(resp)
	if !ok {
		d.logger.Info("dosage comparison unparseable", zap.String("response", resp))
		return notEvaluated("unrecognized classification")
	}
	return model.DosageComparison{Result: result, Evaluated: true}
}

func buildDosagePrompt(source, standard string) string {
	return fmt.Sprintf(`Compare the dosage used in a clinical protocol with the standard label dosage.

Protocol dosage: %s

Standard dosage (drug label):
%s

Classify the protocol dosage with exactly one token:
within_range, below_range, above_range, mismatch
Use mismatch when the dosages cannot be compared (different indication, route or units).
Answer with the token only.`, source, standard)
}

// parseDosageResult reads the classification from the first word of the
// response. Otherwise the earliest token that is not negated wins.
func parseDosageResult(resp string) (model.DosageResult, bool) {
	r := strings.ToLower(strings.TrimSpace(resp))
	r = strings.NewReplacer("-", "_", " range", "_range").Replace(r)
	if fields := strings.Fields(r); len(fields) > 0 {
		first := strings.Trim(fields[0], "`'\".,:;*")
		for _, tok := range model.DosageResults {
			if first == string(tok) {
				return tok, true
			}
		}
	}
	best := -1
	var out model.DosageResult
	for _, tok := range model.DosageResults {
		i := firstUnnegated(r, string(tok))
		if i >= 0 && (best < 0 || i < best) {
			best = i
			out = tok
		}
	}
	return out, best >= 0
}

func firstUnnegated(s, tok string) int {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], tok)
		if i < 0 {
			return -1
		}
		i += from
		if !strings.HasSuffix(strings.TrimRight(s[:i], " "), "not") {
			return i
		}
		from = i + len(tok)
	}
	return -1
}

func notEvaluated(reason string) model.DosageComparison {
	return model.DosageComparison{Result: model.DosageMismatch, Evaluated: false, Detail: "not evaluated: " + reason}
}

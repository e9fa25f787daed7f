package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hadesus/analyzerforCP/internal/literature"
	"github.com/hadesus/analyzerforCP/internal/metrics"
	"github.com/hadesus/analyzerforCP/internal/model"
	"github.com/hadesus/analyzerforCP/internal/regulatory"
	"github.com/hadesus/analyzerforCP/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const literatureContextRunes = 200

type Normalizer interface {
	Normalize(ctx context.Context, raw string) model.NormalizationResult
}

type RegulatoryChecker interface {
	CheckAll(ctx context.Context, s regulatory.Subject) model.RegulatoryReport
}

type LiteratureSearcher interface {
	Search(ctx context.Context, q literature.Query) []model.LiteratureRecord
}

type Synthesizer interface {
	Synthesize(ctx context.Context, d model.DrugDossier) model.EvidenceAssessment
}

// DrugPipeline takes one mention through normalization, enrichment and
// synthesis. Every stage failure is replaced by a placeholder.
type DrugPipeline struct {
	normalizer  Normalizer
	regulatory  RegulatoryChecker
	literature  LiteratureSearcher
	synthesizer Synthesizer
	maxArticles int
	text        placeholders
	logger      *zap.Logger
}

type DrugOption func(*DrugPipeline)

func WithMaxArticles(n int) DrugOption {
	return func(p *DrugPipeline) {
		if n > 0 {
			p.maxArticles = n
		}
	}
}

// WithLanguage selects the language of placeholder texts.
func WithLanguage(language string) DrugOption {
	return func(p *DrugPipeline) { p.text = placeholdersFor(language) }
}

func NewDrugPipeline(n Normalizer, r RegulatoryChecker, l LiteratureSearcher, s Synthesizer, logger *zap.Logger, opts ...DrugOption) *DrugPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &DrugPipeline{
		normalizer:  n,
		regulatory:  r,
		literature:  l,
		synthesizer: s,
		maxArticles: literature.DefaultMaxResults,
		text:        placeholdersFor("Russian"),
		logger:      logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run analyses one mention. ok is false only when the mention has no source
// name; such mentions are dropped by the caller.
func (p *DrugPipeline) Run(ctx context.Context, m model.DrugMention, docContext string) (model.DrugAnalysis, bool) {
	if strings.TrimSpace(m.SourceName) == "" {
		p.logger.Warn("skipping drug without source name", zap.String("dosage", m.DosageText))
		metrics.RecordDrugOutcome("rejected")
		return model.DrugAnalysis{}, false
	}

	ctx, span := telemetry.Tracer("pipeline").Start(ctx, "pipeline.drug")
	span.SetAttributes(attribute.String("drug.source_name", m.SourceName))
	defer span.End()
	start := time.Now()

	out := model.DrugAnalysis{Mention: m}
	norm, err := p.normalize(ctx, m)
	if err != nil {
		p.degrade(&out, err)
	}
	out.Normalization = norm

	if !norm.Resolved() {
		out.Normalization = model.Unresolved()
		out.RegulatoryReport = model.EmptyRegulatoryReport()
		out.Literature = []model.LiteratureRecord{}
		out.Evidence = model.EvidenceAssessment{Grade: model.GradeUnknown, Justification: p.text.noINNJustification, ClinicianNote: p.text.noINNNote}
		if err == nil {
			out.Degradations = append(out.Degradations, model.Degradation{Stage: "normalization", Reason: "no INN resolved"})
			metrics.RecordDegradation("normalization")
		}
		metrics.RecordDrugOutcome("partial")
		span.SetAttributes(attribute.String("drug.outcome", "partial"))
		p.logger.Info("drug analysis partial", zap.String("drug", m.SourceName), zap.Duration("elapsed", time.Since(start)))
		return out, true
	}

	inn := norm.INNValue()
	span.SetAttributes(attribute.String("drug.inn", inn))
	p.enrich(ctx, &out, inn, literatureContext(m, docContext))

	dossier := model.DrugDossier{Mention: out.Mention, Normalization: out.Normalization, RegulatoryReport: out.RegulatoryReport, Literature: out.Literature}
	err = recovered("evidence", func() error {
		out.Evidence = p.synthesizer.Synthesize(ctx, dossier)
		return nil
	})
	if err != nil {
		out.Evidence = model.EvidenceAssessment{Grade: model.GradeError, Justification: p.text.errJustification, ClinicianNote: p.text.errNote}
		p.degrade(&out, err)
	} else if out.Evidence.Grade == model.GradeError {
		p.degrade(&out, &StageError{Stage: "evidence", Err: errors.New("synthesis failed")})
	}

	metrics.RecordDrugOutcome("complete")
	span.SetAttributes(attribute.String("drug.outcome", "complete"), attribute.String("drug.grade", string(out.Evidence.Grade)))
	p.logger.Info("drug analysis complete",
		zap.String("drug", m.SourceName),
		zap.String("inn", inn),
		zap.Int("articles", len(out.Literature)),
		zap.String("grade", string(out.Evidence.Grade)),
		zap.Int("degradations", len(out.Degradations)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, true
}

func (p *DrugPipeline) normalize(ctx context.Context, m model.DrugMention) (res model.NormalizationResult, err error) {
	res = model.Unresolved()
	err = recovered("normalization", func() error {
		res = p.normalizer.Normalize(ctx, m.SourceName)
		return nil
	})
	return res, err
}

// enrich runs the regulatory checks and the literature search concurrently.
// Each side falls back to its own placeholder.
func (p *DrugPipeline) enrich(ctx context.Context, out *model.DrugAnalysis, inn, litContext string) {
	var (
		report   model.RegulatoryReport
		articles []model.LiteratureRecord
		regErr   error
		litErr   error
		g        errgroup.Group
	)
	g.Go(func() error {
		regErr = recovered("regulatory", func() error {
			report = p.regulatory.CheckAll(ctx, regulatory.Subject{INN: inn, SourceName: out.Mention.SourceName, SourceDosage: out.Mention.DosageText})
			return nil
		})
		return nil
	})
	g.Go(func() error {
		litErr = recovered("literature", func() error {
			articles = p.literature.Search(ctx, literature.Query{
				INN:        inn,
				Brand:      out.Mention.SourceName,
				Context:    litContext,
				MaxResults: p.maxArticles,
			})
			return nil
		})
		return nil
	})
	_ = g.Wait()

	if regErr != nil {
		report = model.EmptyRegulatoryReport()
		p.degrade(out, regErr)
	}
	if litErr != nil {
		articles = nil
		p.degrade(out, litErr)
	}
	if report.Checks == nil {
		report.Checks = map[model.Regulator]model.RegulatoryStatus{}
	}
	if articles == nil {
		articles = []model.LiteratureRecord{}
	}
	for _, r := range model.Regulators {
		if st, ok := report.Checks[r]; ok && st.Status == model.StatusError {
			stage := "regulatory_" + strings.ToLower(string(r))
			out.Degradations = append(out.Degradations, model.Degradation{Stage: stage, Reason: st.Detail})
		}
	}
	out.RegulatoryReport = report
	out.Literature = articles
}

func (p *DrugPipeline) degrade(out *model.DrugAnalysis, err error) {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: "unknown", Err: err}
	}
	p.logger.Error("drug stage failed", zap.String("drug", out.Mention.SourceName), zap.String("stage", se.Stage), zap.Error(se.Err))
	metrics.RecordDegradation(se.Stage)
	out.Degradations = append(out.Degradations, se.Degradation())
}

// literatureContext prefers the mention's own indication and falls back to
// the start of the document.
func literatureContext(m model.DrugMention, docContext string) string {
	if c := strings.TrimSpace(m.IndicationContext); c != "" {
		return c
	}
	r := []rune(strings.TrimSpace(docContext))
	if len(r) > literatureContextRunes {
		r = r[:literatureContextRunes]
	}
	return string(r)
}

type placeholders struct {
	noINNJustification string
	noINNNote          string
	errJustification   string
	errNote            string
}

func placeholdersFor(language string) placeholders {
	if strings.EqualFold(strings.TrimSpace(language), "russian") {
		return placeholders{
			noINNJustification: "Не удалось определить МНН препарата.",
			noINNNote:          "Требуется ручная проверка названия препарата.",
			errJustification:   "Ошибка при генерации анализа ИИ.",
			errNote:            "Произошла ошибка при генерации финального анализа.",
		}
	}
	return placeholders{
		noINNJustification: "The INN of the drug could not be determined.",
		noINNNote:          "Manual review of the drug name is required.",
		errJustification:   "The AI analysis could not be generated.",
		errNote:            "An error occurred while generating the final analysis.",
	}
}

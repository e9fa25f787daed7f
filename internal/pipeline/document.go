package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hadesus/analyzerforCP/internal/docx"
	"github.com/hadesus/analyzerforCP/internal/metrics"
	"github.com/hadesus/analyzerforCP/internal/model"
	"github.com/hadesus/analyzerforCP/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const messageNoDrugs = "no drugs found"

// DocumentExtractor runs the document-level LLM calls.
type DocumentExtractor interface {
	Summarize(ctx context.Context, text string) (string, error)
	ExtractDrugs(ctx context.Context, text string) ([]model.DrugMention, error)
	PlaceholderSummary() string
}

type DrugRunner interface {
	Run(ctx context.Context, m model.DrugMention, docContext string) (model.DrugAnalysis, bool)
}

// DocumentPipeline turns an uploaded protocol into a DocumentAnalysis.
type DocumentPipeline struct {
	extractor     DocumentExtractor
	drugs         DrugRunner
	maxConcurrent int
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string
}

type DocumentOption func(*DocumentPipeline)

// WithMaxConcurrentDrugs caps the number of drugs analysed at once. Zero
// means no cap.
func WithMaxConcurrentDrugs(n int) DocumentOption {
	return func(p *DocumentPipeline) { p.maxConcurrent = n }
}

func NewDocumentPipeline(extractor DocumentExtractor, drugs DrugRunner, logger *zap.Logger, opts ...DocumentOption) *DocumentPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &DocumentPipeline{
		extractor: extractor,
		drugs:     drugs,
		logger:    logger.Named("pipeline"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run reads a .docx file and analyses its text. The only errors are an
// unreadable file (docx.ErrMalformed) and an empty one (ErrEmptyDocument);
// both still come with a DocumentAnalysis carrying the error message.
func (p *DocumentPipeline) Run(ctx context.Context, data []byte) (model.DocumentAnalysis, error) {
	doc, err := docx.Parse(data)
	if err != nil {
		p.logger.Warn("document unreadable", zap.Int("bytes", len(data)), zap.Error(err))
		metrics.RecordDocument("malformed")
		return model.DocumentAnalysis{ID: p.newID(), Error: "document unreadable", Results: []model.DrugAnalysis{}}, err
	}
	return p.Analyze(ctx, doc.Text())
}

// Analyze runs the pipeline over already extracted document text.
func (p *DocumentPipeline) Analyze(ctx context.Context, text string) (model.DocumentAnalysis, error) {
	started := p.now()
	res := model.DocumentAnalysis{ID: p.newID(), Results: []model.DrugAnalysis{}}
	res.Stats.StartedAt = started

	ctx, span := telemetry.Tracer("pipeline").Start(ctx, "pipeline.document")
	span.SetAttributes(attribute.String("analysis.id", res.ID), attribute.Int("document.chars", len(text)))
	defer span.End()

	if strings.TrimSpace(text) == "" {
		p.logger.Warn("document empty", zap.String("analysis_id", res.ID))
		metrics.RecordDocument("empty")
		span.SetStatus(codes.Error, ErrEmptyDocument.Error())
		res.Error = ErrEmptyDocument.Error()
		return p.finish(res), ErrEmptyDocument
	}

	summary, mentions := p.extract(ctx, &res, text)
	res.DocumentSummary = summary
	res.Stats.DrugsExtracted = len(mentions)
	span.SetAttributes(attribute.Int("drugs.extracted", len(mentions)))

	if len(mentions) == 0 {
		p.logger.Info("no drugs found", zap.String("analysis_id", res.ID))
		metrics.RecordDocument("no_drugs")
		res.Message = messageNoDrugs
		return p.finish(res), nil
	}

	res.Results = p.fanOut(ctx, res.ID, mentions, text)
	res.Stats.DrugsAnalyzed = len(res.Results)
	res.Stats.DrugsDropped = len(mentions) - len(res.Results)
	span.SetAttributes(attribute.Int("drugs.analyzed", res.Stats.DrugsAnalyzed), attribute.Int("drugs.dropped", res.Stats.DrugsDropped))
	metrics.RecordDocument("ok")
	p.logger.Info("document analysis complete",
		zap.String("analysis_id", res.ID),
		zap.Int("drugs_extracted", res.Stats.DrugsExtracted),
		zap.Int("drugs_analyzed", res.Stats.DrugsAnalyzed),
		zap.Int("drugs_dropped", res.Stats.DrugsDropped),
		zap.Duration("elapsed", p.now().Sub(started)),
	)
	return p.finish(res), nil
}

// extract runs the summary and the drug extraction concurrently. Summary
// failure yields the placeholder, extraction failure an empty list.
func (p *DocumentPipeline) extract(ctx context.Context, res *model.DocumentAnalysis, text string) (string, []model.DrugMention) {
	var (
		summary              string
		mentions             []model.DrugMention
		summaryErr, drugsErr error
		g                    errgroup.Group
	)
	g.Go(func() error {
		summaryErr = recovered("summary", func() error {
			var err error
			summary, err = p.extractor.Summarize(ctx, text)
			return err
		})
		return nil
	})
	g.Go(func() error {
		drugsErr = recovered("extraction", func() error {
			var err error
			mentions, err = p.extractor.ExtractDrugs(ctx, text)
			return err
		})
		return nil
	})
	_ = g.Wait()

	if summaryErr != nil {
		summary = p.extractor.PlaceholderSummary()
		p.documentDegraded(res, summaryErr)
	}
	if drugsErr != nil {
		mentions = nil
		p.documentDegraded(res, drugsErr)
	}
	return summary, mentions
}

// fanOut runs one DrugPipeline per mention and keeps extraction order.
// Rejected or panicking drugs are dropped.
func (p *DocumentPipeline) fanOut(ctx context.Context, id string, mentions []model.DrugMention, text string) []model.DrugAnalysis {
	slots := make([]*model.DrugAnalysis, len(mentions))
	var g errgroup.Group
	if p.maxConcurrent > 0 {
		g.SetLimit(p.maxConcurrent)
	}
	for i, m := range mentions {
		i, m := i, m
		g.Go(func() error {
			err := recovered("drug", func() error {
				if a, ok := p.drugs.Run(ctx, m, text); ok {
					slots[i] = &a
				}
				return nil
			})
			if err != nil {
				p.logger.Error("drug analysis dropped", zap.String("analysis_id", id), zap.Int("index", i), zap.String("drug", m.SourceName), zap.Error(err))
				metrics.RecordDrugOutcome("dropped")
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.DrugAnalysis, 0, len(mentions))
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func (p *DocumentPipeline) documentDegraded(res *model.DocumentAnalysis, err error) {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: "document", Err: err}
	}
	p.logger.Error("document stage failed", zap.String("analysis_id", res.ID), zap.String("stage", se.Stage), zap.Error(se.Err))
	metrics.RecordDegradation(se.Stage)
	res.Degradations = append(res.Degradations, se.Degradation())
}

func (p *DocumentPipeline) finish(res model.DocumentAnalysis) model.DocumentAnalysis {
	n := len(res.Degradations)
	for _, r := range res.Results {
		n += len(r.Degradations)
	}
	res.Stats.Degradations = n
	res.Stats.CompletedAt = p.now()
	res.Stats.Duration = res.Stats.CompletedAt.Sub(res.Stats.StartedAt)
	return res
}

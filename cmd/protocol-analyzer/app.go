package main

import (
	"context"
	"time"

	"github.com/hadesus/analyzerforCP/internal/apiclient"
	"github.com/hadesus/analyzerforCP/internal/cache"
	"github.com/hadesus/analyzerforCP/internal/config"
	"github.com/hadesus/analyzerforCP/internal/evidence"
	"github.com/hadesus/analyzerforCP/internal/extraction"
	"github.com/hadesus/analyzerforCP/internal/formulary"
	"github.com/hadesus/analyzerforCP/internal/literature"
	"github.com/hadesus/analyzerforCP/internal/llm"
	"github.com/hadesus/analyzerforCP/internal/normalizer"
	"github.com/hadesus/analyzerforCP/internal/pipeline"
	"github.com/hadesus/analyzerforCP/internal/ratelimit"
	"github.com/hadesus/analyzerforCP/internal/regulatory"
	"github.com/hadesus/analyzerforCP/internal/report"
	"go.uber.org/zap"
)

const ncbiTool = "protocol-analyzer"

// app is the wired object graph shared by serve and analyze.
type app struct {
	cfg       config.Config
	cache     *cache.Gateway
	formulary *formulary.Index
	documents *pipeline.DocumentPipeline
	exporter  *report.Exporter
	logger    *zap.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	caller, err := llm.NewAnthropicCaller(llm.AnthropicConfig{
		APIKey:    cfg.AnthropicAPIKey,
		Model:     cfg.AnthropicModel,
		MaxTokens: cfg.LLMMaxTokens,
		Timeout:   cfg.LLMTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	gateway, err := cache.Open(ctx, cfg.CacheURL, logger)
	if err != nil {
		logger.Warn("cache unavailable, continuing without it", zap.String("cache_url", cfg.CacheURL), zap.Error(err))
		gateway = cache.Disabled()
	}

	index := formulary.Load(logger,
		formulary.Corpus{Name: "Adult", Path: cfg.FormularyAdultPath},
		formulary.Corpus{Name: "Children", Path: cfg.FormularyChildrenPath},
	)

	httpClient := func(service, baseURL string, rps float64) *apiclient.Client {
		return apiclient.New(apiclient.Config{
			Service:           service,
			BaseURL:           baseURL,
			Timeout:           cfg.HTTPTimeout,
			RequestsPerSecond: rps,
			Burst:             2,
		}, logger)
	}

	norm := normalizer.New(normalizer.NewRxNav(httpClient("rxnav", cfg.RxNavBaseURL, 15)), caller, logger)

	checker := regulatory.NewChecker([]regulatory.Check{
		regulatory.NewOpenFDA(httpClient("openfda", cfg.OpenFDABaseURL, 4), cfg.OpenFDAAPIKey),
		regulatory.NewEMA(httpClient("ema", cfg.EMABaseURL, 4)),
		regulatory.NewLocalFormulary(index, regulatory.NewListMembership("British National Formulary (BNF)", caller)),
		regulatory.NewEssentialMedicines(regulatory.NewListMembership("WHO Model List of Essential Medicines", caller)),
	}, regulatory.NewLLMDosageComparer(caller, logger), logger,
		regulatory.WithCheckTimeout(cfg.HTTPTimeout*3),
	)

	// PubMed pacing is owned by the sliding window, not the HTTP client.
	eutils := literature.NewEUtils(httpClient("pubmed", cfg.PubMedBaseURL, 0),
		literature.WithNCBIIdentity(cfg.NCBIAPIKey, ncbiTool, cfg.NCBIEmail),
	)
	lit := literature.NewClient(eutils, ratelimit.NewSlidingWindow("pubmed", cfg.PubMedRateLimit, logger), gateway, cfg.CacheTTL, logger)

	drugs := pipeline.NewDrugPipeline(norm, checker, lit,
		evidence.NewSynthesizer(caller, cfg.ClinicianLanguage, logger),
		logger,
		pipeline.WithMaxArticles(cfg.LiteratureMaxResults),
		pipeline.WithLanguage(cfg.ClinicianLanguage),
	)
	documents := pipeline.NewDocumentPipeline(
		extraction.New(caller, cfg.ClinicianLanguage, logger),
		drugs,
		logger,
		pipeline.WithMaxConcurrentDrugs(cfg.MaxConcurrentDrugs),
	)

	return &app{
		cfg:       cfg,
		cache:     gateway,
		formulary: index,
		documents: documents,
		exporter:  report.NewExporter(cfg.ClinicianLanguage, report.NewPDFRenderer(cfg.ChromePath)),
		logger:    logger,
	}, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("cache close failed", zap.Error(err))
	}
}

// shutdownTimeout bounds graceful HTTP shutdown and telemetry flush.
const shutdownTimeout = 15 * time.Second

func flush(shutdown func(context.Context) error, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = logger.Sync()
}

func describe(cfg config.Config) []zap.Field {
	return []zap.Field{
		zap.String("model", cfg.AnthropicModel),
		zap.String("language", cfg.ClinicianLanguage),
		zap.Int("max_concurrent_drugs", cfg.MaxConcurrentDrugs),
		zap.Int("pubmed_rate_limit", cfg.PubMedRateLimit),
		zap.Bool("cache", cfg.CacheURL != ""),
		zap.Bool("tracing", cfg.OTLPEndpoint != ""),
	}
}

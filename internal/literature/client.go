package literature

import (
	"context"
	"strconv"
	"time"

	"github.com/hadesus/analyzerforCP/internal/cache"
	"github.com/hadesus/analyzerforCP/internal/model"
	"github.com/hadesus/analyzerforCP/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxResults = 5
	cacheNamespace    = "pubmed_v3"
)

// Query describes one drug's literature lookup.
type Query struct {
	INN        string
	Brand      string
	Context    string
	MaxResults int
}

// Source is the search backend, normally *EUtils.
type Source interface {
	Search(ctx context.Context, term string, max int) ([]string, error)
	Fetch(ctx context.Context, ids []string) ([]model.LiteratureRecord, error)
}

// Limiter gates every outbound request.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Client runs the strategy cascade with caching, rate limiting and
// deduplication of identical in-flight strategies.
type Client struct {
	source  Source
	limiter Limiter
	cache   *cache.Gateway
	ttl     time.Duration
	logger  *zap.Logger
	flight  singleflight.Group
}

func NewClient(source Source, limiter Limiter, gateway *cache.Gateway, ttl time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gateway == nil {
		gateway = cache.Disabled()
	}
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Client{source: source, limiter: limiter, cache: gateway, ttl: ttl, logger: logger.Named("literature")}
}

// Search returns the articles of the first strategy that yields any. Every
// failure is logged and the next strategy is tried; when all are exhausted
// the result is an empty slice.
func (c *Client) Search(ctx context.Context, q Query) []model.LiteratureRecord {
	if model.IsSentinelName(q.INN) {
		c.logger.Debug("skipping literature search without inn")
		return []model.LiteratureRecord{}
	}
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}
	for i, st := range BuildStrategies(q) {
		records, err := c.runStrategy(ctx, i+1, st, q.MaxResults)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn("literature strategy failed", zap.String("inn", q.INN), zap.String("strategy", st.Name), zap.Error(err))
			continue
		}
		if len(records) > 0 {
			c.logger.Info("literature search done", zap.String("inn", q.INN), zap.String("strategy", st.Name), zap.Int("articles", len(records)))
			return records
		}
		c.logger.Debug("literature strategy empty", zap.String("inn", q.INN), zap.String("strategy", st.Name))
	}
	c.logger.Info("no literature found", zap.String("inn", q.INN))
	return []model.LiteratureRecord{}
}

func (c *Client) runStrategy(ctx context.Context, n int, st Strategy, max int) ([]model.LiteratureRecord, error) {
	ctx, span := telemetry.Tracer("literature").Start(ctx, "literature.strategy")
	span.SetAttributes(
		attribute.Int("strategy.index", n),
		attribute.String("strategy.name", st.Name),
		attribute.String("pubmed.query", st.Query),
	)
	defer span.End()

	key := cache.Key(cacheNamespace, st.Query, strconv.Itoa(max))
	var cached []model.LiteratureRecord
	if c.cache.GetJSON(ctx, key, &cached) {
		span.SetAttributes(attribute.Bool("cache.hit", true), attribute.Int("articles", len(cached)))
		return cached, nil
	}

	v, err, shared := c.flight.Do(key, func() (any, error) {
		return c.fetch(ctx, key, st.Query, max)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	records := v.([]model.LiteratureRecord)
	span.SetAttributes(attribute.Bool("cache.hit", false), attribute.Bool("shared", shared), attribute.Int("articles", len(records)))
	return records, nil
}

func (c *Client) fetch(ctx context.Context, key, query string, max int) ([]model.LiteratureRecord, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	ids, err := c.source.Search(ctx, query, max)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.LiteratureRecord{}, nil
	}
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	records, err := c.source.Fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		c.cache.SetJSON(ctx, key, records, c.ttl)
	}
	return records, nil
}

func (c *Client) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Acquire(ctx)
}

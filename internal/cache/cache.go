package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hadesus/analyzerforCP/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// ErrMiss is returned by backends when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

const DefaultTTL = 24 * time.Hour

// Backend is a string-keyed byte store with per-entry TTL.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Gateway wraps an optional Backend. Every failure is logged and reported
// to the caller as a miss; a nil backend turns the gateway into a no-op.
type Gateway struct {
	backend Backend
	logger  *zap.Logger
	timeout time.Duration
}

func NewGateway(backend Backend, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{backend: backend, logger: logger.Named("cache"), timeout: 2 * time.Second}
}

// Disabled returns a gateway that never stores anything.
func Disabled() *Gateway {
	return NewGateway(nil, nil)
}

func (g *Gateway) Enabled() bool {
	return g != nil && g.backend != nil
}

// Get returns the stored bytes and true on a hit.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, bool) {
	if !g.Enabled() {
		return nil, false
	}
	ns := namespaceOf(key)
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	val, err := g.backend.Get(ctx, key)
	switch {
	case errors.Is(err, ErrMiss):
		metrics.RecordCacheLookup(ns, "miss")
		return nil, false
	case err != nil:
		metrics.RecordCacheLookup(ns, "error")
		g.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	metrics.RecordCacheLookup(ns, "hit")
	return val, true
}

// Set stores value under key. Failures are logged and dropped.
func (g *Gateway) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !g.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.backend.Set(ctx, key, value, ttl); err != nil {
		g.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// GetJSON decodes a cached JSON value into dest. A decode failure counts as
// a miss.
func (g *Gateway) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, ok := g.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		g.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (g *Gateway) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if !g.Enabled() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		g.logger.Warn("cache entry unencodable", zap.String("key", key), zap.Error(err))
		return
	}
	g.Set(ctx, key, raw, ttl)
}

func (g *Gateway) Close() error {
	if !g.Enabled() {
		return nil
	}
	return g.backend.Close()
}

// Key builds a deterministic key from a namespace and the fully resolved
// query parts. Parts are NFC-normalized so visually identical Unicode input
// maps to the same key.
func Key(namespace string, parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(norm.NFC.String(p)))
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

func namespaceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "default"
}

// Open picks a backend from a URL: redis://, rediss://, sqlite://<path>,
// memory://. An empty URL disables caching.
func Open(ctx context.Context, rawURL string, logger *zap.Logger) (*Gateway, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return NewGateway(nil, logger), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	var backend Backend
	switch u.Scheme {
	case "redis", "rediss":
		backend, err = NewRedisBackendFromURL(ctx, rawURL, "analyzer:")
	case "sqlite":
		backend, err = NewSQLiteBackend(ctx, strings.TrimPrefix(rawURL, "sqlite://"))
	case "memory":
		backend = NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported cache scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, err
	}
	return NewGateway(backend, logger), nil
}

package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hadesus/analyzerforCP/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 4 << 20

// ErrNotFound is returned for HTTP 404 responses.
var ErrNotFound = errors.New("resource not found")

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status code: %d body=%s", e.StatusCode, e.Body)
}

type Config struct {
	// Service labels logs and metrics, e.g. "openfda".
	Service string
	BaseURL string
	// Timeout bounds each attempt.
	Timeout time.Duration
	// RequestsPerSecond of zero disables the politeness limiter.
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	RetryBackoff      time.Duration
	UserAgent         string
	HTTPClient        *http.Client
}

// Client performs GET requests against one external JSON/XML API with a
// per-attempt timeout, a token-bucket limiter and retries on 429/5xx.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "protocol-analyzer/1.0"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger.Named(cfg.Service),
	}
}

func (c *Client) Service() string { return c.cfg.Service }

// GetJSON decodes the response body of GET {base}{path}?{query} into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.cfg.Service, err)
	}
	return nil
}

// Get returns the raw response body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limiter: %w", c.cfg.Service, err)
		}
		start := time.Now()
		body, code, retryAfter, err := c.executeOnce(ctx, endpoint)
		if err == nil {
			metrics.RecordExternalCall(c.cfg.Service, "ok", time.Since(start))
			return body, nil
		}
		lastErr = err
		metrics.RecordExternalCall(c.cfg.Service, outcomeLabel(code, err), time.Since(start))
		if code == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", c.cfg.Service, ErrNotFound)
		}
		retryable := code == http.StatusTooManyRequests || code >= 500 || isTimeoutError(err)
		if !retryable || attempt == c.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		wait := retryAfter
		if wait <= 0 {
			wait = c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
		}
		c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Int("status", code), zap.Duration("wait", wait), zap.Error(err))
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, fmt.Errorf("%s: %w", c.cfg.Service, err)
		}
	}
	return nil, fmt.Errorf("%s: %w", c.cfg.Service, lastErr)
}

func (c *Client) executeOnce(ctx context.Context, endpoint string) ([]byte, int, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Accept", "application/json, application/xml;q=0.9, */*;q=0.8")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, res.StatusCode, 0, fmt.Errorf("read body: %w", err)
	}
	retryAfter := parseRetryAfter(res.Header.Get("Retry-After"))
	if res.StatusCode >= 400 {
		return nil, res.StatusCode, retryAfter, &StatusError{StatusCode: res.StatusCode, Body: truncate(string(b), 300)}
	}
	return b, res.StatusCode, retryAfter, nil
}

func outcomeLabel(code int, err error) string {
	switch {
	case isTimeoutError(err):
		return "timeout"
	case code == http.StatusNotFound:
		return "not_found"
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code >= 500:
		return "server_error"
	case code >= 400:
		return "client_error"
	default:
		return "transport_error"
	}
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func parseRetryAfter(v string) time.Duration {
	if strings.TrimSpace(v) == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

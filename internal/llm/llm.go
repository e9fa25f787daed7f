package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hadesus/analyzerforCP/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 2048

	systemPrompt = "You are a clinical pharmacology assistant reviewing clinical protocols. You answer conservatively, do not invent facts, and follow the requested output format exactly."
)

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+)(\d{3})`)

type failureClass int

const (
	failureNone failureClass = iota
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
)

// Schema describes a structured response. When set on Options the caller
// must return the JSON object matching it.
type Schema struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

type Options struct {
	Temperature float64
	MaxTokens   int
	Schema      *Schema
}

// Caller is the LLM service contract used by every stage.
type Caller interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	ModelName() string
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Timeout     time.Duration
	MaxAttempts int
}

// AnthropicCaller retries transient transport failures (timeouts, 429, 5xx)
// inside a single Generate call.
type AnthropicCaller struct {
	messages    AnthropicMessager
	model       string
	maxTokens   int
	timeout     time.Duration
	maxAttempts int
	logger      *zap.Logger
	sleep       func(context.Context, time.Duration) error
}

func NewAnthropicCaller(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicCaller{
		messages:    newAnthropicClient(apiKey),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger.Named("llm"),
		sleep:       sleepCtx,
	}, nil
}

func (a *AnthropicCaller) ModelName() string { return a.model }

func (a *AnthropicCaller) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	params := a.params(prompt, opts)
	for attempt := 1; ; attempt++ {
		start := time.Now()
		out, err := a.once(ctx, params, opts.Schema)
		if err == nil {
			metrics.RecordExternalCall("anthropic", "ok", time.Since(start))
			a.logger.Debug("llm call ok", zap.Int("attempt", attempt), zap.Duration("elapsed", time.Since(start)), zap.Int("response_chars", len(out)))
			return out, nil
		}
		class := classifyTransportError(err)
		metrics.RecordExternalCall("anthropic", failureLabel(class), time.Since(start))
		a.logger.Warn("llm call failed", zap.Int("attempt", attempt), zap.String("class", failureLabel(class)), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		retryable := class == failureTimeout || class == failureRateLimit || class == failureServer
		if !retryable || attempt >= a.maxAttempts || ctx.Err() != nil {
			return "", fmt.Errorf("llm generate: %w", err)
		}
		if err := a.sleep(ctx, backoffDelay(attempt)); err != nil {
			return "", fmt.Errorf("llm generate: %w", err)
		}
	}
}

func (a *AnthropicCaller) params(prompt string, opts Options) anthropic.MessageNewParams {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(maxTokens),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(opts.Temperature),
	}
	if s := opts.Schema; s != nil {
		tool := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: s.Properties,
			Required:   s.Required,
		}, s.Name)
		if s.Description != "" {
			tool.OfTool.Description = anthropic.String(s.Description)
		}
		params.Tools = []anthropic.ToolUnionParam{tool}
		params.ToolChoice = anthropic.ToolChoiceParamOfTool(s.Name)
	}
	return params
}

func (a *AnthropicCaller) once(ctx context.Context, params anthropic.MessageNewParams, schema *Schema) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	resp, err := a.messages.New(callCtx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		switch b.Type {
		case "tool_use":
			if schema != nil && b.Name == schema.Name && len(b.Input) > 0 {
				return string(b.Input), nil
			}
		case "text":
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

func classifyTransportError(err error) failureClass {
	if err == nil {
		return failureNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}
	msg := strings.ToLower(err.Error())
	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		var code int
		fmt.Sscanf(m[1], "%d", &code)
		return classifyStatus(code)
	}
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "overloaded"):
		return failureRateLimit
	case strings.Contains(msg, "server error"):
		return failureServer
	default:
		return failureServer
	}
}

func classifyStatus(code int) failureClass {
	switch {
	case code == 429 || code == 529:
		return failureRateLimit
	case code >= 500:
		return failureServer
	case code >= 400:
		return failureClient
	default:
		return failureServer
	}
}

func failureLabel(c failureClass) string {
	switch c {
	case failureTimeout:
		return "timeout"
	case failureRateLimit:
		return "rate_limited"
	case failureServer:
		return "server_error"
	case failureClient:
		return "client_error"
	default:
		return "ok"
	}
}

func backoffDelay(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
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

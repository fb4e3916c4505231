// Package optimizer turns user text into a single provider completion that
// rewrites it as a structured prompt.
package optimizer

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/manash/promptbridge/internal/metrics"
	"github.com/manash/promptbridge/internal/provider"
	"github.com/manash/promptbridge/pkg/models"
)

//go:embed system_prompt.md
var systemPrompt string

const DefaultTemperature = 0.7

var (
	ErrEmptyInput    = errors.New("please enter a prompt to optimize")
	ErrConfiguration = errors.New("no API key configured: run 'promptbridge keys set' or set the provider's API key environment variable")
	ErrEmptyResponse = errors.New("no response generated by the provider")
)

// ProviderError wraps a transport or API failure from the provider.
type ProviderError struct {
	Provider models.ProviderType
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("optimization failed: %v", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether re-issuing the same request could succeed
// without the user changing configuration or input.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) || errors.Is(err, ErrEmptyResponse)
}

type Client struct {
	provider    provider.Provider
	model       string
	temperature float64
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client for p. A nil provider means no credential is
// configured; every Optimize call then fails with ErrConfiguration.
func New(p provider.Provider, opts ...Option) *Client {
	c := &Client{
		provider:    p,
		temperature: DefaultTemperature,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect builds the provider through f. A missing API key is not an error
// here; the returned client reports ErrConfiguration when used.
func Connect(f *provider.Factory, providerType models.ProviderType, cfg *provider.Config, opts ...Option) (*Client, error) {
	p, err := f.New(providerType, cfg)
	if err != nil {
		if errors.Is(err, provider.ErrAPIKeyRequired) {
			return New(nil, opts...), nil
		}
		return nil, err
	}
	return New(p, opts...), nil
}

// Configured reports whether a provider credential is available.
func (c *Client) Configured() bool {
	return c.provider != nil
}

// BuildPayload prefixes text with the configuration block the system prompt
// consumes.
func BuildPayload(text string, mode models.OptimizationMode, target models.TargetAI) string {
	return fmt.Sprintf("[[CONFIG]]\nmode: %s\ntarget_model: %s\n[[/CONFIG]]\n\n%s", mode, target, text)
}

// SystemPrompt returns the fixed instruction sent with every request.
func SystemPrompt() string {
	return systemPrompt
}

// Optimize issues exactly one provider call and returns its text unmodified.
func (c *Client) Optimize(ctx context.Context, req models.OptimizeRequest) (string, error) {
	if c.provider == nil {
		return "", ErrConfiguration
	}
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyInput
	}

	mode := req.Mode
	if mode == "" {
		mode = models.ModeBalanced
	}
	target := req.Target
	if target == "" {
		target = models.TargetGeneral
	}

	name := string(c.provider.Name())
	start := time.Now()
	resp, err := c.provider.Complete(ctx, &models.CompletionRequest{
		Model:       c.model,
		System:      systemPrompt,
		Messages:    []models.Message{{Role: models.RoleUser, Content: BuildPayload(req.Text, mode, target)}},
		Temperature: c.temperature,
	})
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.ObserveOptimize(name, metrics.OutcomeError, elapsed)
		c.logger.Warn("Optimization failed", "provider", name, "error", err)
		if errors.Is(err, provider.ErrAPIKeyRequired) {
			return "", ErrConfiguration
		}
		return "", &ProviderError{Provider: c.provider.Name(), Err: err}
	}
	if resp == nil || resp.Content == "" {
		c.metrics.ObserveOptimize(name, metrics.OutcomeEmpty, elapsed)
		return "", ErrEmptyResponse
	}

	c.metrics.ObserveOptimize(name, metrics.OutcomeSuccess, elapsed)
	c.logger.Debug("Optimization complete",
		"provider", name,
		"model", resp.Model,
		"duration", elapsed,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return resp.Content, nil
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/manash/promptbridge/pkg/models"
)

// APIError is a non-2xx reply from a provider. Message carries the
// provider's own error text when the body contained one.
type APIError struct {
	Provider   models.ProviderType
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s request failed with status %d", e.Provider, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return ErrRequestFailed
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPClient posts JSON to a provider endpoint. Shared by the concrete
// providers so request logging and error decoding behave the same.
type HTTPClient struct {
	name          models.ProviderType
	client        *http.Client
	verbose       bool
	logger        *slog.Logger
	secretHeaders []string
}

func NewHTTPClient(name models.ProviderType, cfg *Config, defaultTimeout time.Duration, secretHeaders ...string) *HTTPClient {
	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		name:          name,
		client:        &http.Client{Timeout: timeout},
		verbose:       cfg.Verbose,
		logger:        logger,
		secretHeaders: append([]string{"Authorization"}, secretHeaders...),
	}
}

// PostJSON marshals in, posts it to url and decodes a 2xx reply into out.
func (c *HTTPClient) PostJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	c.logRequest(http.MethodPost, url, httpReq.Header, jsonData)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logResponse(resp.StatusCode, body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Provider: c.name, StatusCode: resp.StatusCode}
		var env errorEnvelope
		if json.Unmarshal(body, &env) == nil && env.Error != nil {
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *HTTPClient) logRequest(method, url string, headers http.Header, body []byte) {
	if !c.verbose {
		return
	}

	redacted := make(map[string]string, len(headers))
	for key := range headers {
		value := headers.Get(key)
		for _, secret := range c.secretHeaders {
			if strings.EqualFold(key, secret) {
				value = "[REDACTED]"
			}
		}
		redacted[key] = value
	}
	c.logger.Debug("Provider request",
		"provider", c.name,
		"method", method,
		"url", redactQuery(url),
		"headers", redacted,
		"body", string(body))
}

func (c *HTTPClient) logResponse(status int, body []byte) {
	if !c.verbose {
		return
	}
	c.logger.Debug("Provider response", "provider", c.name, "status", status, "body", string(body))
}

func redactQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i] + "?[REDACTED]"
	}
	return url
}

// ResolveModel picks the request model, then the configured one, then fallback.
func ResolveModel(req *models.CompletionRequest, cfg *Config, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	if cfg != nil && cfg.Model != "" {
		return cfg.Model
	}
	return fallback
}

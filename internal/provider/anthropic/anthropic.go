// Package anthropic implements provider.Provider for the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"strings"
	"time"

	"github.com/manash/promptbridge/internal/provider"
	"github.com/manash/promptbridge/pkg/models"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultTimeout   = 120 * time.Second
	defaultMaxTokens = 4096
	apiVersion       = "2023-06-01"
	DefaultModel     = "claude-3-5-haiku-latest"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type apiResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type Provider struct {
	apiKey  string
	baseURL string
	model   string
	http    *provider.HTTPClient
}

func New(cfg *provider.Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrAPIKeyRequired
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   provider.ResolveModel(&models.CompletionRequest{}, cfg, DefaultModel),
		http:    provider.NewHTTPClient(models.ProviderAnthropic, cfg, defaultTimeout, "x-api-key"),
	}, nil
}

func (p *Provider) Name() models.ProviderType {
	return models.ProviderAnthropic
}

func (p *Provider) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	apiReq := p.buildAPIRequest(req)

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": apiVersion,
	}
	var apiResp apiResponse
	if err := p.http.PostJSON(ctx, p.baseURL+"/messages", headers, apiReq, &apiResp); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	resp := &models.CompletionResponse{
		Content:      sb.String(),
		Model:        apiResp.Model,
		FinishReason: apiResp.StopReason,
		Usage: models.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}
	if resp.Model == "" {
		resp.Model = apiReq.Model
	}
	return resp, nil
}

// buildAPIRequest lifts system messages into the top-level system field,
// which is where the Messages API expects them.
func (p *Provider) buildAPIRequest(req *models.CompletionRequest) *apiRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	apiReq := &apiRequest{
		Model:       model,
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	for _, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			if apiReq.System != "" {
				apiReq.System += "\n\n"
			}
			apiReq.System += msg.Content
			continue
		}
		apiReq.Messages = append(apiReq.Messages, message{Role: string(msg.Role), Content: msg.Content})
	}
	return apiReq
}

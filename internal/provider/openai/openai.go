// Package openai implements provider.Provider for the OpenAI chat
// completions API and compatible endpoints.
package openai

import (
	"context"
	"strings"
	"time"

	"github.com/manash/promptbridge/internal/provider"
	"github.com/manash/promptbridge/pkg/models"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 120 * time.Second
	DefaultModel   = "gpt-4o-mini"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type apiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
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
		http:    provider.NewHTTPClient(models.ProviderOpenAI, cfg, defaultTimeout),
	}, nil
}

func (p *Provider) Name() models.ProviderType {
	return models.ProviderOpenAI
}

func (p *Provider) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	apiReq := p.buildAPIRequest(req)

	var apiResp apiResponse
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := p.http.PostJSON(ctx, p.baseURL+"/chat/completions", headers, apiReq, &apiResp); err != nil {
		return nil, err
	}

	resp := &models.CompletionResponse{
		Model: apiResp.Model,
		Usage: models.Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}
	if resp.Model == "" {
		resp.Model = apiReq.Model
	}
	if len(apiResp.Choices) > 0 {
		resp.Content = apiResp.Choices[0].Message.Content
		resp.FinishReason = apiResp.Choices[0].FinishReason
	}
	return resp, nil
}

func (p *Provider) buildAPIRequest(req *models.CompletionRequest) *apiRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}

	apiReq := &apiRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, chatMessage{Role: string(models.RoleSystem), Content: req.System})
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return apiReq
}

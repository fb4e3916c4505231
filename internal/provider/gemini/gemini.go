// Package gemini implements provider.Provider for the Google Gemini
// generateContent API.
package gemini

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/manash/promptbridge/internal/provider"
	"github.com/manash/promptbridge/pkg/models"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultTimeout = 60 * time.Second
	DefaultModel   = "gemini-2.5-flash"
)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type apiRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type apiResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
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
		http:    provider.NewHTTPClient(models.ProviderGemini, cfg, defaultTimeout, "x-goog-api-key"),
	}, nil
}

func (p *Provider) Name() models.ProviderType {
	return models.ProviderGemini
}

func (p *Provider) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	apiReq := buildAPIRequest(req)
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, url.PathEscape(model))

	var apiResp apiResponse
	headers := map[string]string{"x-goog-api-key": p.apiKey}
	if err := p.http.PostJSON(ctx, endpoint, headers, apiReq, &apiResp); err != nil {
		return nil, err
	}

	resp := &models.CompletionResponse{
		Model: model,
		Usage: models.Usage{
			InputTokens:  apiResp.UsageMetadata.PromptTokenCount,
			OutputTokens: apiResp.UsageMetadata.CandidatesTokenCount,
		},
	}
	if apiResp.ModelVersion != "" {
		resp.Model = apiResp.ModelVersion
	}
	if len(apiResp.Candidates) > 0 {
		cand := apiResp.Candidates[0]
		var sb strings.Builder
		for _, pt := range cand.Content.Parts {
			sb.WriteString(pt.Text)
		}
		resp.Content = sb.String()
		resp.FinishReason = cand.FinishReason
	}
	return resp, nil
}

func buildAPIRequest(req *models.CompletionRequest) *apiRequest {
	apiReq := &apiRequest{
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		apiReq.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleSystem:
			apiReq.SystemInstruction = &content{Parts: []part{{Text: msg.Content}}}
		case models.RoleAssistant:
			apiReq.Contents = append(apiReq.Contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		default:
			apiReq.Contents = append(apiReq.Contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		}
	}
	return apiReq
}

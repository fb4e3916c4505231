package optimizer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manash/promptbridge/internal/metrics"
	"github.com/manash/promptbridge/internal/provider"
	"github.com/manash/promptbridge/internal/provider/gemini"
	"github.com/manash/promptbridge/pkg/models"
)

type mockProvider struct {
	completeFunc func(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error)
	calls        atomic.Int32
	lastReq      *models.CompletionRequest
}

func (m *mockProvider) Name() models.ProviderType {
	return models.ProviderGemini
}

func (m *mockProvider) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	m.calls.Add(1)
	m.lastReq = req
	if m.completeFunc != nil {
		return m.completeFunc(ctx, req)
	}
	return &models.CompletionResponse{Content: "optimized"}, nil
}

func TestBuildPayload(t *testing.T) {
	got := BuildPayload("Write a poem", models.ModeCreative, models.TargetClaude)
	want := "[[CONFIG]]\nmode: creative\ntarget_model: claude\n[[/CONFIG]]\n\nWrite a poem"
	assert.Equal(t, want, got)
}

func TestOptimize_Success(t *testing.T) {
	p := &mockProvider{}
	c := New(p, WithModel("gemini-2.5-pro"), WithTemperature(0.3))

	out, err := c.Optimize(context.Background(), models.OptimizeRequest{
		Text:   "  make it better  ",
		Mode:   models.ModePrecise,
		Target: models.TargetChatGPT,
	})
	require.NoError(t, err)
	assert.Equal(t, "optimized", out)
	assert.Equal(t, int32(1), p.calls.Load())

	req := p.lastReq
	require.NotNil(t, req)
	assert.Equal(t, "gemini-2.5-pro", req.Model)
	assert.Equal(t, 0.3, req.Temperature)
	assert.Equal(t, SystemPrompt(), req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, models.RoleUser, req.Messages[0].Role)
	assert.Equal(t, BuildPayload("  make it better  ", models.ModePrecise, models.TargetChatGPT), req.Messages[0].Content)
}

func TestOptimize_DefaultsConfiguration(t *testing.T) {
	p := &mockProvider{}
	c := New(p)

	_, err := c.Optimize(context.Background(), models.OptimizeRequest{Text: "hello"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.lastReq.Messages[0].Content, "[[CONFIG]]\nmode: balanced\ntarget_model: general\n"))
	assert.Equal(t, DefaultTemperature, p.lastReq.Temperature)
}

func TestOptimize_ResponseReturnedVerbatim(t *testing.T) {
	raw := "[[CONFIG]]\nmode: balanced\n[[/CONFIG]]\n\n  ## Optimized Prompt  \n"
	p := &mockProvider{completeFunc: func(context.Context, *models.CompletionRequest) (*models.CompletionResponse, error) {
		return &models.CompletionResponse{Content: raw}, nil
	}}

	out, err := New(p).Optimize(context.Background(), models.OptimizeRequest{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestOptimize_NoCredential(t *testing.T) {
	c := New(nil)
	assert.False(t, c.Configured())

	_, err := c.Optimize(context.Background(), models.OptimizeRequest{Text: "hello"})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = c.Optimize(context.Background(), models.OptimizeRequest{Text: ""})
	assert.ErrorIs(t, err, ErrConfiguration, "credential is checked before input")
	assert.False(t, IsRetryable(err))
}

func TestConnect_EmptyCredentialNeverHitsNetwork(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	f := provider.NewFactory()
	f.Register(models.ProviderGemini, func(cfg *provider.Config) (provider.Provider, error) {
		return gemini.New(cfg)
	})

	c, err := Connect(f, models.ProviderGemini, &provider.Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = c.Optimize(context.Background(), models.OptimizeRequest{Text: "hello"})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, int32(0), hits.Load())
}

func TestConnect_UnknownProvider(t *testing.T) {
	_, err := Connect(provider.NewFactory(), models.ProviderOpenAI, &provider.Config{APIKey: "k"})
	assert.ErrorIs(t, err, provider.ErrProviderNotFound)
}

func TestOptimize_EmptyInput(t *testing.T) {
	p := &mockProvider{}
	c := New(p)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := c.Optimize(context.Background(), models.OptimizeRequest{Text: text})
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestOptimize_ProviderError(t *testing.T) {
	apiErr := &provider.APIError{Provider: models.ProviderGemini, StatusCode: 503, Message: "model overloaded"}
	p := &mockProvider{completeFunc: func(context.Context, *models.CompletionRequest) (*models.CompletionResponse, error) {
		return nil, apiErr
	}}

	_, err := New(p).Optimize(context.Background(), models.OptimizeRequest{Text: "x"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, models.ProviderGemini, pe.Provider)
	assert.ErrorIs(t, err, provider.ErrRequestFailed)
	assert.Equal(t, "optimization failed: model overloaded", err.Error())
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(1), p.calls.Load(), "no retry")
}

func TestOptimize_ProviderRejectsKey(t *testing.T) {
	p := &mockProvider{completeFunc: func(context.Context, *models.CompletionRequest) (*models.CompletionResponse, error) {
		return nil, provider.ErrAPIKeyRequired
	}}
	_, err := New(p).Optimize(context.Background(), models.OptimizeRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestOptimize_EmptyResponse(t *testing.T) {
	tests := []struct {
		name string
		resp *models.CompletionResponse
	}{
		{"nil response", nil},
		{"empty content", &models.CompletionResponse{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{completeFunc: func(context.Context, *models.CompletionRequest) (*models.CompletionResponse, error) {
				return tt.resp, nil
			}}
			_, err := New(p).Optimize(context.Background(), models.OptimizeRequest{Text: "x"})
			assert.ErrorIs(t, err, ErrEmptyResponse)
			assert.True(t, IsRetryable(err))
		})
	}
}

func TestOptimize_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ok := &mockProvider{}
	c := New(ok, WithMetrics(m))
	_, _ = c.Optimize(context.Background(), models.OptimizeRequest{Text: "x"})

	failing := &mockProvider{completeFunc: func(context.Context, *models.CompletionRequest) (*models.CompletionResponse, error) {
		return nil, errors.New("boom")
	}}
	_, _ = New(failing, WithMetrics(m)).Optimize(context.Background(), models.OptimizeRequest{Text: "x"})

	count, err := testutil.GatherAndCount(reg, "promptbridge_optimize_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSystemPrompt_DescribesConfigBlock(t *testing.T) {
	sp := SystemPrompt()
	assert.Contains(t, sp, "[[CONFIG]]")
	assert.Contains(t, sp, "never repeat it")
	assert.Contains(t, sp, "## Optimized Prompt")
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/manash/promptbridge/pkg/models"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrAPIKeyRequired   = errors.New("API key is required")
	ErrRequestFailed    = errors.New("completion request failed")
)

// Provider sends a single completion request to a text-generation service.
type Provider interface {
	Name() models.ProviderType
	Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error)
}

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	TimeoutSec int
	Verbose    bool
	Logger     *slog.Logger
}

// Constructor builds a provider from its configuration.
type Constructor func(cfg *Config) (Provider, error)

type Factory struct {
	constructors map[models.ProviderType]Constructor
}

func NewFactory() *Factory {
	return &Factory{constructors: make(map[models.ProviderType]Constructor)}
}

func (f *Factory) Register(providerType models.ProviderType, ctor Constructor) {
	f.constructors[providerType] = ctor
}

func (f *Factory) New(providerType models.ProviderType, cfg *Config) (Provider, error) {
	ctor, ok := f.constructors[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerType)
	}
	return ctor(cfg)
}

func (f *Factory) List() []models.ProviderType {
	types := make([]models.ProviderType, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/manash/promptbridge/internal/config"
	"github.com/manash/promptbridge/internal/display"
	"github.com/manash/promptbridge/internal/history"
	"github.com/manash/promptbridge/internal/keys"
	"github.com/manash/promptbridge/internal/metrics"
	"github.com/manash/promptbridge/internal/optimizer"
	"github.com/manash/promptbridge/internal/provider"
	"github.com/manash/promptbridge/internal/security"
	"github.com/manash/promptbridge/internal/session"
	"github.com/manash/promptbridge/internal/storage"
	"github.com/manash/promptbridge/pkg/models"
)

// env is everything a session-backed command needs.
type env struct {
	cfg       *config.Config
	logger    *slog.Logger
	kv        storage.KV
	db        *storage.SQLite
	history   *history.Store
	client    *optimizer.Client
	ctrl      *session.Controller
	displayer *display.Displayer
	metrics   *metrics.Metrics
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func configPath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, string, error) {
	path, err := configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func openKV(cfg *config.Config, logger *slog.Logger) (storage.KV, *storage.SQLite, error) {
	if flagEphemeral {
		return storage.NewMemory(), nil, nil
	}

	path := flagDB
	if path == "" {
		path = cfg.DBPath
	}
	var db *storage.SQLite
	var err error
	if path == "" {
		db, err = storage.NewStore(storage.WithLogger(logger))
	} else {
		db, err = storage.NewStoreWithPath(path, storage.WithLogger(logger))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return db, db, nil
}

// openStorage opens the KV and loads the stored session without touching
// providers. The controller it builds cannot optimize.
func (app *App) openStorage(ctx context.Context) (*env, error) {
	logger := newLogger(app.Err)
	slog.SetDefault(logger)

	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	kv, db, err := openKV(cfg, logger)
	if err != nil {
		return nil, err
	}

	hist := history.New(kv, history.WithLogger(logger))
	ctrl := session.NewController(nil, hist, kv, session.WithLogger(logger))
	ctrl.LoadSettings(ctx)

	return &env{
		cfg:       cfg,
		logger:    logger,
		kv:        kv,
		db:        db,
		history:   hist,
		ctrl:      ctrl,
		displayer: display.New(app.Out),
	}, nil
}

// openSession builds the full stack: storage, metrics, provider, optimizer
// client and session controller. A missing API key is not an error; the
// controller reports it when an optimization is attempted.
func (app *App) openSession(ctx context.Context) (*env, error) {
	e, err := app.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	providerType := models.ProviderType(e.cfg.Provider)
	if flagProvider != "" {
		providerType = models.ProviderType(flagProvider)
	}
	if !providerType.IsValid() {
		e.Close()
		return nil, fmt.Errorf("invalid provider %q: must be one of %v", providerType, models.ValidProviders())
	}
	if err := security.ValidateBaseURL(e.cfg.BaseURL); err != nil {
		e.Close()
		return nil, fmt.Errorf("invalid base_url: %w", err)
	}

	store, err := getKeyStore()
	if err != nil {
		e.logger.Debug("Key store unavailable", "error", err)
		store = nil
	}
	apiKey, source, err := keys.Resolve(flagAPIKey, providerType, store, app.GetEnv)
	if err != nil && !errors.Is(err, keys.ErrKeyNotFound) {
		e.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	e.metrics = metrics.New(reg)
	if flagMetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, flagMetricsAddr, reg, e.logger); err != nil {
				e.logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	model := e.cfg.Model
	if flagModel != "" {
		model = flagModel
	}
	client, err := optimizer.Connect(app.Providers, providerType, &provider.Config{
		APIKey:     apiKey,
		BaseURL:    e.cfg.BaseURL,
		Model:      model,
		TimeoutSec: e.cfg.TimeoutSec,
		Verbose:    flagVerbose,
		Logger:     e.logger,
	},
		optimizer.WithModel(model),
		optimizer.WithTemperature(e.cfg.Temperature),
		optimizer.WithLogger(e.logger),
		optimizer.WithMetrics(e.metrics),
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	e.client = client
	e.logger.Debug("Session ready", "provider", providerType, "key_source", source, "configured", client.Configured())

	e.ctrl = session.NewController(client, e.history, e.kv,
		session.WithDebounce(e.cfg.Debounce),
		session.WithAutoIterateDelay(e.cfg.AutoIterateDelay),
		session.WithLogger(e.logger),
		session.WithMetrics(e.metrics),
	)
	e.ctrl.LoadSettings(ctx)
	return e, nil
}

func (e *env) Close() {
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Warn("Failed to close state database", "error", err)
		}
	}
}

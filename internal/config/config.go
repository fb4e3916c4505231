// Package config loads and saves the promptbridge config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/manash/promptbridge/internal/keys"
	"github.com/manash/promptbridge/pkg/models"
)

var ErrUnknownKey = errors.New("unknown config key")

// Config holds the settings that are not part of the persisted session.
// Zero values mean "use the provider or session default".
type Config struct {
	Provider         string        `yaml:"provider"`
	Model            string        `yaml:"model,omitempty"`
	BaseURL          string        `yaml:"base_url,omitempty"`
	Temperature      float64       `yaml:"temperature"`
	TimeoutSec       int           `yaml:"timeout_sec"`
	Debounce         time.Duration `yaml:"debounce"`
	AutoIterateDelay time.Duration `yaml:"auto_iterate_delay"`
	DBPath           string        `yaml:"db_path,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider:         string(models.ProviderGemini),
		Temperature:      0.7,
		TimeoutSec:       120,
		Debounce:         500 * time.Millisecond,
		AutoIterateDelay: 2 * time.Second,
	}
}

// DefaultPath returns <config dir>/config.yaml.
func DefaultPath() (string, error) {
	dir, err := keys.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config file at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	if !models.ProviderType(c.Provider).IsValid() {
		return fmt.Errorf("invalid provider %q: must be one of %v", c.Provider, models.ValidProviders())
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", c.Temperature)
	}
	if c.TimeoutSec < 0 {
		return fmt.Errorf("timeout_sec must not be negative, got %d", c.TimeoutSec)
	}
	if c.Debounce < 0 || c.AutoIterateDelay < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// Keys lists the settable keys in file order.
func Keys() []string {
	return []string{"provider", "model", "base_url", "temperature", "timeout_sec", "debounce", "auto_iterate_delay", "db_path"}
}

// Get returns the display value of key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "provider":
		return c.Provider, nil
	case "model":
		return c.Model, nil
	case "base_url":
		return c.BaseURL, nil
	case "temperature":
		return strconv.FormatFloat(c.Temperature, 'g', -1, 64), nil
	case "timeout_sec":
		return strconv.Itoa(c.TimeoutSec), nil
	case "debounce":
		return c.Debounce.String(), nil
	case "auto_iterate_delay":
		return c.AutoIterateDelay.String(), nil
	case "db_path":
		return c.DBPath, nil
	default:
		return "", fmt.Errorf("%w %q: must be one of %s", ErrUnknownKey, key, strings.Join(Keys(), ", "))
	}
}

// Set parses value into key. The config is unchanged on error.
func (c *Config) Set(key, value string) error {
	next := *c
	value = strings.TrimSpace(value)

	switch key {
	case "provider":
		next.Provider = strings.ToLower(value)
	case "model":
		next.Model = value
	case "base_url":
		next.BaseURL = value
	case "temperature":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid temperature %q: %w", value, err)
		}
		next.Temperature = f
	case "timeout_sec":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid timeout_sec %q: %w", value, err)
		}
		next.TimeoutSec = n
	case "debounce", "auto_iterate_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		if key == "debounce" {
			next.Debounce = d
		} else {
			next.AutoIterateDelay = d
		}
	case "db_path":
		next.DBPath = value
	default:
		return fmt.Errorf("%w %q: must be one of %s", ErrUnknownKey, key, strings.Join(Keys(), ", "))
	}

	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

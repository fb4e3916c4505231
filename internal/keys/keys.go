// Package keys stores provider API keys in the user's config directory and
// resolves which key a run should use.
package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/manash/promptbridge/pkg/models"
)

// ErrKeyNotFound is returned when no flag, stored key or environment
// variable supplies a key.
var ErrKeyNotFound = errors.New("API key not found")

// Store handles API key storage and retrieval
type Store struct {
	configDir string
}

// KeyEntry represents a stored API key
type KeyEntry struct {
	Key string `json:"key"`
}

// Keys represents the keys.json structure
type Keys map[string]KeyEntry

// NewStore creates a key store in the default config directory.
func NewStore() (*Store, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return &Store{configDir: configDir}, nil
}

// NewStoreAt creates a key store rooted at dir.
func NewStoreAt(dir string) *Store {
	return &Store{configDir: dir}
}

// ConfigDir returns the platform-specific config directory. It is shared
// with the config file.
func ConfigDir() (string, error) {
	if dir := os.Getenv("PROMPTBRIDGE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "promptbridge"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "promptbridge"), nil
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "promptbridge"), nil
	}
}

// Path returns the path to the keys.json file
func (s *Store) Path() string {
	return filepath.Join(s.configDir, "keys.json")
}

func (s *Store) load() (Keys, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(Keys), nil
		}
		return nil, err
	}

	var keys Keys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse keys.json: %w", err)
	}
	if keys == nil {
		keys = make(Keys)
	}
	return keys, nil
}

func (s *Store) save(keys Keys) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}

	// owner read/write only
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write keys.json: %w", err)
	}
	return nil
}

// Set stores a key for the given provider
func (s *Store) Set(provider models.ProviderType, key string) error {
	if !provider.IsValid() {
		return fmt.Errorf("unknown provider %q: must be one of %v", provider, models.ValidProviders())
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("key cannot be empty")
	}

	keys, err := s.load()
	if err != nil {
		return err
	}
	keys[string(provider)] = KeyEntry{Key: strings.TrimSpace(key)}
	return s.save(keys)
}

// Get retrieves a key for the given provider. A missing key is not an error.
func (s *Store) Get(provider models.ProviderType) (string, error) {
	keys, err := s.load()
	if err != nil {
		return "", err
	}
	return keys[string(provider)].Key, nil
}

// Delete removes a key for the given provider
func (s *Store) Delete(provider models.ProviderType) error {
	keys, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := keys[string(provider)]; !ok {
		return fmt.Errorf("no key found for %s", provider)
	}

	delete(keys, string(provider))
	return s.save(keys)
}

// List returns all stored provider names, sorted.
func (s *Store) List() ([]string, error) {
	keys, err := s.load()
	if err != nil {
		return nil, err
	}

	providers := make([]string, 0, len(keys))
	for provider := range keys {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	return providers, nil
}

func (s *Store) Exists(provider models.ProviderType) (bool, error) {
	keys, err := s.load()
	if err != nil {
		return false, err
	}
	_, ok := keys[string(provider)]
	return ok, nil
}

// MaskKey returns a masked version of the key for display
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// EnvVars lists the environment variables checked for a provider's key, in
// priority order.
func EnvVars(provider models.ProviderType) []string {
	switch provider {
	case models.ProviderGemini:
		return []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	case models.ProviderOpenAI:
		return []string{"OPENAI_API_KEY"}
	case models.ProviderAnthropic:
		return []string{"ANTHROPIC_API_KEY"}
	default:
		return nil
	}
}

// Resolve finds the API key using the priority order:
// 1. Explicit key passed as argument (if non-empty)
// 2. Stored key in keys.json
// 3. Environment variables from EnvVars
//
// It also returns a human-readable description of where the key came from.
// store and getenv may be nil.
func Resolve(explicitKey string, provider models.ProviderType, store *Store, getenv func(string) string) (string, string, error) {
	if explicitKey != "" {
		return explicitKey, "command-line flag", nil
	}

	if store != nil {
		if stored, err := store.Get(provider); err == nil && stored != "" {
			return stored, fmt.Sprintf("stored key (%s)", store.Path()), nil
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	vars := EnvVars(provider)
	for _, name := range vars {
		if v := getenv(name); v != "" {
			return v, fmt.Sprintf("environment variable (%s)", name), nil
		}
	}

	return "", "", fmt.Errorf("%w for %s: run 'promptbridge keys set %s' or set %s",
		ErrKeyNotFound, provider, provider, strings.Join(vars, " or "))
}

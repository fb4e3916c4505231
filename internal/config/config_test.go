package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "provider: anthropic\nmodel: claude-3-5-sonnet-latest\ndebounce: 250ms\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "claude-3-5-sonnet-latest", cfg.Model)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 0.7, cfg.Temperature, "unset keys keep defaults")
	assert.Equal(t, 2*time.Second, cfg.AutoIterateDelay)
}

func TestLoad_ParseError(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed yaml", "provider: [unterminated"},
		{"unknown provider", "provider: stability\n"},
		{"bad duration", "debounce: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0600))

			_, err := Load(path)
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, path, parseErr.Path)
		})
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Provider = "openai"
	cfg.BaseURL = "http://localhost:8080/v1"
	cfg.AutoIterateDelay = 5 * time.Second

	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestSet(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Set("provider", "OpenAI"))
	require.NoError(t, cfg.Set("temperature", "0.2"))
	require.NoError(t, cfg.Set("timeout_sec", "30"))
	require.NoError(t, cfg.Set("debounce", "1s"))
	require.NoError(t, cfg.Set("db_path", "/tmp/pb.db"))

	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.Equal(t, 30, cfg.TimeoutSec)
	assert.Equal(t, time.Second, cfg.Debounce)
	assert.Equal(t, "/tmp/pb.db", cfg.DBPath)

	v, err := cfg.Get("debounce")
	require.NoError(t, err)
	assert.Equal(t, "1s", v)
}

func TestSet_InvalidLeavesConfigUnchanged(t *testing.T) {
	tests := []struct{ key, value string }{
		{"provider", "stability"},
		{"temperature", "hot"},
		{"temperature", "3"},
		{"timeout_sec", "-1"},
		{"debounce", "later"},
		{"colour", "blue"},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		assert.Error(t, cfg.Set(tt.key, tt.value), "%s=%s", tt.key, tt.value)
		assert.Equal(t, DefaultConfig(), cfg)
	}
}

func TestGet_AllKeys(t *testing.T) {
	cfg := DefaultConfig()
	for _, k := range Keys() {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
	_, err := cfg.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROMPTBRIDGE_CONFIG_DIR", dir)

	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), path)
}

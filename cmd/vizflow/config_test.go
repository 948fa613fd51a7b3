package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizflow/vizflow/internal/render"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":4200", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, render.KindGraphviz, cfg.Engine.Kind)
	assert.True(t, cfg.Janitor.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vizflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9999"
log_level: debug
scheduler:
  max_concurrency: 4
  flush_delay_ms: 25
  default_theme: dark
engine:
  kind: remote
  remote_base_url: "https://kroki.internal"
`), 0644))

	t.Setenv("VIZFLOW_LISTEN_ADDR", ":7777")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	// Env beats file; file beats defaults.
	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrency)
	assert.Equal(t, render.KindRemote, cfg.Engine.Kind)

	sc := cfg.schedulerConfig()
	assert.Equal(t, 25*time.Millisecond, sc.FlushDelay)
	assert.Equal(t, "dark", sc.Theme)

	ec := cfg.engineConfig()
	assert.Equal(t, "https://kroki.internal", ec.Remote.BaseURL)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "invalid log_level",
		},
		{
			name:    "bad engine kind",
			mutate:  func(c *Config) { c.Engine.Kind = "mermaid" },
			wantErr: "invalid engine.kind",
		},
		{
			name:    "remote without base url",
			mutate:  func(c *Config) { c.Engine.Kind = render.KindRemote },
			wantErr: "remote_base_url is required",
		},
		{
			name:    "bad theme",
			mutate:  func(c *Config) { c.Scheduler.DefaultTheme = "sepia" },
			wantErr: "invalid scheduler.default_theme",
		},
		{
			name:    "bad janitor ttl",
			mutate:  func(c *Config) { c.Janitor.IdleTTL = "soon" },
			wantErr: "invalid janitor.idle_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

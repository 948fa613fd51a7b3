package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vizflow/vizflow/internal/render"
	"github.com/vizflow/vizflow/internal/scheduler"
)

// Config holds all vizflow server configuration.
// Priority: env vars (VIZFLOW_*) > YAML file > defaults.
type Config struct {
	ListenAddr   string `koanf:"listen_addr"`
	DBPath       string `koanf:"db_path"` // empty selects the in-memory store
	LogLevel     string `koanf:"log_level"`
	SeedManifest string `koanf:"seed_manifest"`

	Engine    EngineConfig    `koanf:"engine"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Janitor   JanitorConfig   `koanf:"janitor"`
}

// EngineConfig selects the diagram engine.
type EngineConfig struct {
	Kind string `koanf:"kind"` // graphviz or remote

	RemoteBaseURL           string  `koanf:"remote_base_url"`
	RemoteKind              string  `koanf:"remote_kind"`
	RemoteToken             string  `koanf:"remote_token"`
	RemoteTimeoutMS         int     `koanf:"remote_timeout_ms"`
	RemoteRequestsPerSecond float64 `koanf:"remote_requests_per_second"`
}

// SchedulerConfig tunes the render scheduler. Zero values take the
// scheduler's defaults.
type SchedulerConfig struct {
	MaxConcurrency   int     `koanf:"max_concurrency"`
	FlushDelayMS     int     `koanf:"flush_delay_ms"`
	VisibleMargin    float64 `koanf:"visible_margin"`
	ScrollDebounceMS int     `koanf:"scroll_debounce_ms"`
	AdmitTimeoutMS   int     `koanf:"admit_timeout_ms"`
	RenderTimeoutMS  int     `koanf:"render_timeout_ms"`
	WatcherPollMS    int     `koanf:"watcher_poll_ms"`
	DefaultTheme     string  `koanf:"default_theme"`
}

// JanitorConfig controls idle-session pruning.
type JanitorConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Schedule string `koanf:"schedule"`
	IdleTTL  string `koanf:"idle_ttl"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		LogLevel:   "info",
		Engine:     EngineConfig{Kind: render.KindGraphviz},
		Janitor: JanitorConfig{
			Enabled:  true,
			Schedule: "@every 10m",
			IdleTTL:  "24h",
		},
	}
}

// loadConfig reads configuration from the given YAML file (ignored if
// missing), then overlays VIZFLOW_* environment variable overrides.
func loadConfig(path string) (Config, error) {
	k := koanf.New(".")
	cfg := defaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return cfg, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	// Overlay environment variables: VIZFLOW_LISTEN_ADDR -> listen_addr, etc.
	if err := k.Load(env.Provider("VIZFLOW_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "VIZFLOW_"))
	}), nil); err != nil {
		return cfg, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.Engine.Kind {
	case render.KindGraphviz:
	case render.KindRemote:
		if c.Engine.RemoteBaseURL == "" {
			return fmt.Errorf("engine.remote_base_url is required for the remote engine")
		}
	default:
		return fmt.Errorf("invalid engine.kind %q: must be one of graphviz, remote", c.Engine.Kind)
	}

	if c.Scheduler.DefaultTheme != "" && !render.ValidTheme(c.Scheduler.DefaultTheme) {
		return fmt.Errorf("invalid scheduler.default_theme %q: must be one of light, dark", c.Scheduler.DefaultTheme)
	}

	if c.Janitor.Enabled {
		if _, err := time.ParseDuration(c.Janitor.IdleTTL); err != nil {
			return fmt.Errorf("invalid janitor.idle_ttl %q: %w", c.Janitor.IdleTTL, err)
		}
	}
	return nil
}

// engineConfig maps the flat engine section onto render.Config.
func (c *Config) engineConfig() render.Config {
	return render.Config{
		Kind: c.Engine.Kind,
		Remote: render.RemoteConfig{
			BaseURL:           c.Engine.RemoteBaseURL,
			Kind:              c.Engine.RemoteKind,
			Token:             c.Engine.RemoteToken,
			Timeout:           time.Duration(c.Engine.RemoteTimeoutMS) * time.Millisecond,
			RequestsPerSecond: c.Engine.RemoteRequestsPerSecond,
		},
	}
}

// schedulerConfig maps the millisecond fields onto scheduler.Config.
func (c *Config) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		MaxConcurrency: c.Scheduler.MaxConcurrency,
		FlushDelay:     time.Duration(c.Scheduler.FlushDelayMS) * time.Millisecond,
		VisibleMargin:  c.Scheduler.VisibleMargin,
		ScrollDebounce: time.Duration(c.Scheduler.ScrollDebounceMS) * time.Millisecond,
		AdmitTimeout:   time.Duration(c.Scheduler.AdmitTimeoutMS) * time.Millisecond,
		RenderTimeout:  time.Duration(c.Scheduler.RenderTimeoutMS) * time.Millisecond,
		WatcherPoll:    time.Duration(c.Scheduler.WatcherPollMS) * time.Millisecond,
		Theme:          c.Scheduler.DefaultTheme,
	}
}

// janitorTTL returns the parsed idle TTL; call after Validate.
func (c *Config) janitorTTL() time.Duration {
	d, _ := time.ParseDuration(c.Janitor.IdleTTL)
	return d
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package render

import (
	"log/slog"

	"github.com/vizflow/vizflow/pkg/schema"
)

// Engine kind constants.
const (
	KindGraphviz = "graphviz"
	KindRemote   = "remote"
)

// Config selects and configures an engine.
type Config struct {
	Kind   string
	Remote RemoteConfig
}

// New builds the configured engine. An empty kind selects the in-process
// graphviz engine.
func New(cfg Config, logger *slog.Logger) (Engine, error) {
	switch cfg.Kind {
	case "", KindGraphviz:
		return NewGraphvizEngine(logger), nil
	case KindRemote:
		return NewRemoteEngine(cfg.Remote, logger)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown engine kind %q: must be one of graphviz, remote", cfg.Kind)
	}
}

package viewer

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/vizflow/vizflow/internal/history"
	"github.com/vizflow/vizflow/internal/validation"
	"github.com/vizflow/vizflow/pkg/schema"
)

// LoadSeed reads a seed manifest, validates it and stores every session it
// describes. Sessions that already exist are skipped, making seeding
// idempotent across restarts.
func LoadSeed(ctx context.Context, path string, store history.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "read seed manifest %s", path).WithCause(err)
	}

	validator, err := validation.NewManifestValidator()
	if err != nil {
		return schema.NewError(schema.ErrCodeInternal, "build manifest validator").WithCause(err)
	}
	manifest, err := validator.Parse(data)
	if err != nil {
		return err
	}

	seeded := 0
	for _, ms := range manifest.Sessions {
		err := store.CreateSession(ctx, &history.Session{
			ID:    ms.ID,
			Title: ms.Title,
			Theme: ms.Theme,
		})
		if err != nil {
			var viz *schema.VizError
			if errors.As(err, &viz) && viz.Code == schema.ErrCodeConflict {
				logger.Debug("seed session already present", slog.String("session_id", ms.ID))
				continue
			}
			return err
		}

		for _, mm := range ms.Messages {
			if err := store.AppendMessage(ctx, &history.Message{
				ID:        uuid.NewString(),
				SessionID: ms.ID,
				Role:      mm.Role,
				Body:      mm.Body,
			}); err != nil {
				return err
			}
		}
		seeded++
	}

	logger.Info("seed manifest loaded",
		slog.String("path", path),
		slog.Int("sessions", seeded),
		slog.Int("skipped", len(manifest.Sessions)-seeded))
	return nil
}

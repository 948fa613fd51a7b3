package viewer

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vizflow/vizflow/pkg/schema"
)

// Janitor prunes idle sessions on a cron schedule, tearing down their
// runtimes and deleting their transcripts.
type Janitor struct {
	manager  *Manager
	idleTTL  time.Duration
	schedule string
	logger   *slog.Logger

	cron *cron.Cron
}

// NewJanitor creates a Janitor. schedule is a cron expression (descriptors like
// "@every 10m" included); idleTTL is how long a session may sit untouched
// before pruning.
func NewJanitor(manager *Manager, schedule string, idleTTL time.Duration, logger *slog.Logger) (*Janitor, error) {
	if idleTTL <= 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "janitor idle TTL must be positive")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid janitor schedule %q", schedule).WithCause(err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		manager:  manager,
		idleTTL:  idleTTL,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Start begins the schedule. Returns an error if already started.
func (j *Janitor) Start() error {
	if j.cron != nil {
		return schema.NewError(schema.ErrCodeConflict, "janitor already started")
	}
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, j.runOnce); err != nil {
		j.cron = nil
		return schema.NewError(schema.ErrCodeInternal, "schedule janitor").WithCause(err)
	}
	j.cron.Start()
	j.logger.Info("janitor started",
		slog.String("schedule", j.schedule),
		slog.Duration("idle_ttl", j.idleTTL))
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.cron = nil
}

func (j *Janitor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.idleTTL)
	ids, err := j.manager.PruneIdle(ctx, cutoff)
	if err != nil {
		j.logger.Error("janitor prune failed", slog.String("error", err.Error()))
		return
	}
	if len(ids) > 0 {
		j.logger.Info("pruned idle sessions", slog.Int("count", len(ids)))
	}
}

package persistence

import (
	"context"
	"fmt"
	"time"

	"FightEngine/internal/observability"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Archiver deletes snapshots older than the retention window. It runs
// once at startup and then on a fixed schedule. Pure cleanup: failures
// are logged and never escalate.
type Archiver struct {
	store     *SnapshotStore
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	metrics   *observability.Metrics

	scheduler gocron.Scheduler
}

func NewArchiver(store *SnapshotStore, retention, interval time.Duration, log zerolog.Logger, metrics *observability.Metrics) *Archiver {
	return &Archiver{
		store:     store,
		retention: retention,
		interval:  interval,
		log:       log,
		metrics:   metrics,
	}
}

// Start sweeps once immediately and schedules recurring sweeps.
func (a *Archiver) Start(ctx context.Context) error {
	a.sweep(ctx)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("archiver scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(a.interval),
		gocron.NewTask(func() { a.sweep(ctx) }),
	)
	if err != nil {
		return fmt.Errorf("archiver job: %w", err)
	}

	scheduler.Start()
	a.scheduler = scheduler
	a.log.Info().Dur("interval", a.interval).Dur("retention", a.retention).Msg("snapshot archiver started")
	return nil
}

// Stop shuts the schedule down.
func (a *Archiver) Stop() {
	if a.scheduler != nil {
		_ = a.scheduler.Shutdown()
	}
}

func (a *Archiver) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-a.retention)

	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := a.store.PruneSnapshots(sweepCtx, cutoff)
	if err != nil {
		a.log.Warn().Err(err).Msg("snapshot retention sweep failed")
		return
	}

	if deleted > 0 {
		a.metrics.SnapshotsPruned.Add(float64(deleted))
		a.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("snapshot retention sweep")
	}
}

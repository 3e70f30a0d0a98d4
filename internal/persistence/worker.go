package persistence

import (
	"context"
	"time"

	"FightEngine/internal/model"
	"FightEngine/internal/observability"

	"github.com/rs/zerolog"
)

// SnapshotWorker drains snapshot rows off a channel and writes them to
// Postgres. The tick loop offers rows with a non-blocking send: if this
// worker falls behind the row is dropped, never stalling the tick.
// Snapshot writes are the one persistence path where loss is acceptable.
type SnapshotWorker struct {
	store   *SnapshotStore
	input   chan model.Snapshot
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewSnapshotWorker(store *SnapshotStore, capacity int, log zerolog.Logger, metrics *observability.Metrics) *SnapshotWorker {
	return &SnapshotWorker{
		store:   store,
		input:   make(chan model.Snapshot, capacity),
		log:     log,
		metrics: metrics,
	}
}

// Offer queues a snapshot without blocking. Returns false when the
// channel is full and the row was dropped.
func (w *SnapshotWorker) Offer(snap model.Snapshot) bool {
	select {
	case w.input <- snap:
		return true
	default:
		w.metrics.SnapshotsDropped.Inc()
		w.log.Warn().Str("fight_id", snap.FightID.String()).Msg("snapshot channel full, row dropped")
		return false
	}
}

// Run drains the channel until ctx is cancelled. Write failures are
// logged and counted, never escalated.
func (w *SnapshotWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap := <-w.input:
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := w.store.InsertSnapshot(writeCtx, snap)
			cancel()

			if err != nil {
				w.metrics.SnapshotErrors.Inc()
				w.log.Warn().Err(err).Str("fight_id", snap.FightID.String()).Msg("snapshot write failed")
				continue
			}
			w.metrics.SnapshotsWritten.Inc()
		}
	}
}

package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"FightEngine/internal/model"
)

// SnapshotStore persists fight state snapshots and enforces retention.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// InsertSnapshot writes one snapshot row. Callers treat failures as
// non-critical: a missed snapshot only thins the history graph.
func (s *SnapshotStore) InsertSnapshot(ctx context.Context, snap model.Snapshot) error {
	state, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("encode snapshot state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fight_snapshots (fight_id, taken_at, leader_id, state)
		VALUES ($1, $2, $3, $4)`,
		snap.FightID, snap.TakenAt, snap.LeaderID, state)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.FightID, err)
	}
	return nil
}

// PruneSnapshots deletes snapshots older than the retention cutoff and
// returns how many rows went away.
func (s *SnapshotStore) PruneSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM fight_snapshots WHERE taken_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

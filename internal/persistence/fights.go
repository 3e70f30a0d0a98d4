package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"FightEngine/internal/model"

	"github.com/google/uuid"
)

// ErrSettlementRace is returned by CommitSettlement when the fight's
// status or lock changed between load and commit. The transaction rolls
// back with zero side effects; the next tick retries naturally.
var ErrSettlementRace = errors.New("settlement race: fight status or lock changed before commit")

// FightStore reads and mutates fight rows. The only mutations this
// service performs are the WAITING→LIVE promotion, the settlement lock
// fields, and the terminal commit.
type FightStore struct {
	db *sql.DB
}

func NewFightStore(db *sql.DB) *FightStore {
	return &FightStore{db: db}
}

const fightColumns = `id, status, stake, duration_seconds, started_at, ended_at,
	winner_id, is_draw, settle_lock_holder, settle_locked_at, created_at`

func scanFight(row interface{ Scan(...interface{}) error }) (model.Fight, error) {
	var f model.Fight
	var durationSec int64
	err := row.Scan(
		&f.ID, &f.Status, &f.Stake, &durationSec, &f.StartedAt, &f.EndedAt,
		&f.WinnerID, &f.IsDraw, &f.SettleLockHolder, &f.SettleLockedAt, &f.CreatedAt,
	)
	if err != nil {
		return model.Fight{}, err
	}
	f.Duration = time.Duration(durationSec) * time.Second
	return f, nil
}

// GetFight loads one fight fresh from storage.
func (s *FightStore) GetFight(ctx context.Context, id uuid.UUID) (model.Fight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fightColumns+` FROM fights WHERE id = $1`, id)

	f, err := scanFight(row)
	if err != nil {
		return model.Fight{}, fmt.Errorf("get fight %s: %w", id, err)
	}
	return f, nil
}

// ListLive returns all in-progress fights, oldest first.
func (s *FightStore) ListLive(ctx context.Context) ([]model.Fight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fightColumns+` FROM fights WHERE status = $1 ORDER BY started_at`,
		model.StatusLive)
	if err != nil {
		return nil, fmt.Errorf("list live fights: %w", err)
	}
	defer rows.Close()

	var fights []model.Fight
	for rows.Next() {
		f, err := scanFight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan live fight: %w", err)
		}
		fights = append(fights, f)
	}
	return fights, rows.Err()
}

// StartPending promotes WAITING fights to LIVE and stamps started_at.
// Only fights with both slots filled are promoted: a half-joined fight
// has nothing to score and could never settle. The conditional status
// check makes the promotion idempotent across instances: a fight
// already started elsewhere is simply not returned.
func (s *FightStore) StartPending(ctx context.Context, now time.Time) ([]model.Fight, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE fights
		SET status = $1, started_at = $2
		WHERE status = $3
		  AND (SELECT COUNT(*) FROM fight_participants fp WHERE fp.fight_id = fights.id) = 2
		RETURNING `+fightColumns,
		model.StatusLive, now, model.StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("start pending fights: %w", err)
	}
	defer rows.Close()

	var started []model.Fight
	for rows.Next() {
		f, err := scanFight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan started fight: %w", err)
		}
		started = append(started, f)
	}
	return started, rows.Err()
}

// AcquireSettleLock attempts the cluster-wide settlement lock via a
// single conditional write: it succeeds only while the fight is LIVE and
// either unlocked or held by a holder whose lock has gone stale.
func (s *FightStore) AcquireSettleLock(ctx context.Context, id uuid.UUID, holder string, staleAfter time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fights
		SET settle_lock_holder = $1, settle_locked_at = NOW()
		WHERE id = $2
		  AND status = $3
		  AND (settle_lock_holder IS NULL OR settle_locked_at < NOW() - $4::interval)`,
		holder, id, model.StatusLive, fmt.Sprintf("%f seconds", staleAfter.Seconds()))
	if err != nil {
		return false, fmt.Errorf("acquire settle lock %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire settle lock %s: rows affected: %w", id, err)
	}
	return n == 1, nil
}

// ReleaseSettleLock clears the lock fields, but only while this holder
// still owns them. Releasing a lock reassigned to someone else is a no-op.
func (s *FightStore) ReleaseSettleLock(ctx context.Context, id uuid.UUID, holder string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fights
		SET settle_lock_holder = NULL, settle_locked_at = NULL
		WHERE id = $1 AND settle_lock_holder = $2`,
		id, holder)
	if err != nil {
		return fmt.Errorf("release settle lock %s: %w", id, err)
	}
	return nil
}

// HoldsSettleLock re-verifies lock ownership. Called immediately before
// the external adjudication call: a long outbound call is exactly when a
// staleness takeover could have reassigned the lock.
func (s *FightStore) HoldsSettleLock(ctx context.Context, id uuid.UUID, holder string) (bool, error) {
	var held bool
	err := s.db.QueryRowContext(ctx, `
		SELECT settle_lock_holder = $2 FROM fights WHERE id = $1`,
		id, holder).Scan(&held)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("verify settle lock %s: %w", id, err)
	}
	return held, nil
}

// CommitSettlement writes the terminal outcome in one transaction. The
// fight row is locked with FOR UPDATE, then status and lock ownership
// are re-checked inside the lock; any mismatch rolls the whole
// transaction back and surfaces ErrSettlementRace. On success both
// participants' finals, the terminal status and the cleared lock land in
// a single commit.
func (s *FightStore) CommitSettlement(ctx context.Context, holder string, result model.SettlementResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit settlement %s: begin: %w", result.FightID, err)
	}
	defer tx.Rollback()

	var status model.FightStatus
	var lockHolder sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT status, settle_lock_holder FROM fights
		WHERE id = $1
		FOR UPDATE`,
		result.FightID).Scan(&status, &lockHolder)
	if err != nil {
		return fmt.Errorf("commit settlement %s: row lock: %w", result.FightID, err)
	}

	if status != model.StatusLive || !lockHolder.Valid || lockHolder.String != holder {
		return ErrSettlementRace
	}

	for _, final := range result.Finals {
		_, err = tx.ExecContext(ctx, `
			UPDATE fight_participants
			SET final_score = $1, final_pnl = $2, trade_count = $3
			WHERE fight_id = $4 AND user_id = $5`,
			final.FinalScore, final.FinalPnl, final.TradeCount,
			result.FightID, final.UserID)
		if err != nil {
			return fmt.Errorf("commit settlement %s: participant %s: %w",
				result.FightID, final.UserID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE fights
		SET status = $1, winner_id = $2, is_draw = $3, ended_at = $4,
		    settle_lock_holder = NULL, settle_locked_at = NULL
		WHERE id = $5`,
		result.Status, result.WinnerID, result.IsDraw, result.EndedAt, result.FightID)
	if err != nil {
		return fmt.Errorf("commit settlement %s: fight update: %w", result.FightID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settlement %s: commit: %w", result.FightID, err)
	}
	return nil
}

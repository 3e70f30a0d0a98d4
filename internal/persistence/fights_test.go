package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"FightEngine/internal/model"
	"FightEngine/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func setupStores(t *testing.T) (*sql.DB, *FightStore, *ParticipantStore, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	migrator := NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}

	return db, NewFightStore(db), NewParticipantStore(db), cleanup
}

func insertFight(t *testing.T, db *sql.DB, status model.FightStatus, startedAgo time.Duration) model.Fight {
	t.Helper()

	f := model.Fight{
		ID:       uuid.New(),
		Status:   status,
		Stake:    decimal.NewFromInt(100),
		Duration: time.Hour,
	}
	var startedAt *time.Time
	if startedAgo > 0 {
		ts := time.Now().Add(-startedAgo)
		startedAt = &ts
		f.StartedAt = startedAt
	}

	_, err := db.Exec(`
		INSERT INTO fights (id, status, stake, duration_seconds, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.Status, f.Stake, int64(f.Duration.Seconds()), startedAt)
	if err != nil {
		t.Fatalf("insert fight: %v", err)
	}
	return f
}

func insertParticipant(t *testing.T, db *sql.DB, fightID uuid.UUID, slot model.Slot) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	_, err := db.Exec(`
		INSERT INTO fight_participants (fight_id, user_id, slot)
		VALUES ($1, $2, $3)`,
		fightID, userID, slot)
	if err != nil {
		t.Fatalf("insert participant: %v", err)
	}
	return userID
}

func TestStartPendingPromotesOnce(t *testing.T) {
	db, fights, _, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	waiting := insertFight(t, db, model.StatusWaiting, 0)
	insertParticipant(t, db, waiting.ID, model.SlotA)
	insertParticipant(t, db, waiting.ID, model.SlotB)
	insertFight(t, db, model.StatusLive, time.Minute)

	started, err := fights.StartPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("start pending: %v", err)
	}
	if len(started) != 1 || started[0].ID != waiting.ID {
		t.Fatalf("started = %v, want only %s", started, waiting.ID)
	}
	if started[0].StartedAt == nil {
		t.Fatal("started fight missing started_at")
	}

	again, err := fights.StartPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("start pending again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second promotion returned %d fights", len(again))
	}
}

func TestStartPendingSkipsUnfilledFights(t *testing.T) {
	db, fights, _, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	empty := insertFight(t, db, model.StatusWaiting, 0)
	half := insertFight(t, db, model.StatusWaiting, 0)
	insertParticipant(t, db, half.ID, model.SlotA)

	started, err := fights.StartPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("start pending: %v", err)
	}
	if len(started) != 0 {
		t.Fatalf("promoted %d unfilled fights", len(started))
	}
	for _, id := range []uuid.UUID{empty.ID, half.ID} {
		got, err := fights.GetFight(ctx, id)
		if err != nil {
			t.Fatalf("get fight: %v", err)
		}
		if got.Status != model.StatusWaiting {
			t.Fatalf("fight %s status = %s, want WAITING", id, got.Status)
		}
	}

	// The second joiner completes the fight; the next sweep promotes it.
	insertParticipant(t, db, half.ID, model.SlotB)
	started, err = fights.StartPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("start pending after join: %v", err)
	}
	if len(started) != 1 || started[0].ID != half.ID {
		t.Fatalf("started = %v, want only %s", started, half.ID)
	}
}

func TestSettleLockLifecycle(t *testing.T) {
	db, fights, _, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	fight := insertFight(t, db, model.StatusLive, time.Minute)

	ok, err := fights.AcquireSettleLock(ctx, fight.ID, "node-1", 2*time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	// Held locks are not re-acquirable before staleness.
	ok, err = fights.AcquireSettleLock(ctx, fight.ID, "node-2", 2*time.Minute)
	if err != nil {
		t.Fatalf("contended acquire: %v", err)
	}
	if ok {
		t.Fatal("second instance acquired a held lock")
	}

	held, err := fights.HoldsSettleLock(ctx, fight.ID, "node-1")
	if err != nil || !held {
		t.Fatalf("holds: held=%v err=%v", held, err)
	}
	held, _ = fights.HoldsSettleLock(ctx, fight.ID, "node-2")
	if held {
		t.Fatal("non-holder reported as holder")
	}

	if err := fights.ReleaseSettleLock(ctx, fight.ID, "node-2"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	held, _ = fights.HoldsSettleLock(ctx, fight.ID, "node-1")
	if !held {
		t.Fatal("foreign release cleared the lock")
	}

	if err := fights.ReleaseSettleLock(ctx, fight.ID, "node-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = fights.AcquireSettleLock(ctx, fight.ID, "node-2", 2*time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestSettleLockStaleTakeover(t *testing.T) {
	db, fights, _, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	fight := insertFight(t, db, model.StatusLive, time.Minute)

	if ok, _ := fights.AcquireSettleLock(ctx, fight.ID, "node-dead", time.Minute); !ok {
		t.Fatal("initial acquire failed")
	}

	// Backdate the lock beyond the staleness bound.
	if _, err := db.Exec(
		`UPDATE fights SET settle_locked_at = NOW() - INTERVAL '10 minutes' WHERE id = $1`,
		fight.ID); err != nil {
		t.Fatalf("backdate lock: %v", err)
	}

	ok, err := fights.AcquireSettleLock(ctx, fight.ID, "node-live", time.Minute)
	if err != nil || !ok {
		t.Fatalf("stale takeover: ok=%v err=%v", ok, err)
	}
	if held, _ := fights.HoldsSettleLock(ctx, fight.ID, "node-dead"); held {
		t.Fatal("dead node still holds after takeover")
	}
}

func TestCommitSettlementExactlyOnce(t *testing.T) {
	db, fights, parts, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	fight := insertFight(t, db, model.StatusLive, time.Minute)
	userA := insertParticipant(t, db, fight.ID, model.SlotA)
	userB := insertParticipant(t, db, fight.ID, model.SlotB)

	if ok, _ := fights.AcquireSettleLock(ctx, fight.ID, "node-1", time.Minute); !ok {
		t.Fatal("acquire failed")
	}

	result := model.SettlementResult{
		FightID:  fight.ID,
		Status:   model.StatusFinished,
		WinnerID: &userA,
		EndedAt:  time.Now(),
		Finals: []model.ParticipantFinal{
			{UserID: userA, FinalScore: decimal.NewFromInt(10), FinalPnl: decimal.NewFromInt(10), TradeCount: 2},
			{UserID: userB, FinalScore: decimal.Zero, FinalPnl: decimal.Zero, TradeCount: 0},
		},
	}

	if err := fights.CommitSettlement(ctx, "node-1", result); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := fights.GetFight(ctx, fight.ID)
	if err != nil {
		t.Fatalf("get fight: %v", err)
	}
	if got.Status != model.StatusFinished {
		t.Fatalf("status = %s, want FINISHED", got.Status)
	}
	if got.WinnerID == nil || *got.WinnerID != userA {
		t.Fatalf("winner = %v, want %s", got.WinnerID, userA)
	}
	if got.SettleLockHolder != nil {
		t.Fatal("lock not cleared by commit")
	}

	loaded, err := parts.ListParticipants(ctx, fight.ID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("participants = %d", len(loaded))
	}
	if !loaded[0].FinalScore.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("slot A final score = %s", loaded[0].FinalScore)
	}

	// A second commit against the now-terminal row must refuse.
	err = fights.CommitSettlement(ctx, "node-1", result)
	if !errors.Is(err, ErrSettlementRace) {
		t.Fatalf("second commit err = %v, want ErrSettlementRace", err)
	}
}

func TestCommitSettlementRequiresLockOwnership(t *testing.T) {
	db, fights, _, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	fight := insertFight(t, db, model.StatusLive, time.Minute)
	insertParticipant(t, db, fight.ID, model.SlotA)
	insertParticipant(t, db, fight.ID, model.SlotB)

	if ok, _ := fights.AcquireSettleLock(ctx, fight.ID, "node-1", time.Minute); !ok {
		t.Fatal("acquire failed")
	}

	err := fights.CommitSettlement(ctx, "node-2", model.SettlementResult{
		FightID: fight.ID,
		Status:  model.StatusFinished,
		EndedAt: time.Now(),
	})
	if !errors.Is(err, ErrSettlementRace) {
		t.Fatalf("foreign commit err = %v, want ErrSettlementRace", err)
	}

	got, _ := fights.GetFight(ctx, fight.ID)
	if got.Status != model.StatusLive {
		t.Fatalf("status changed by refused commit: %s", got.Status)
	}
}

func TestRaiseMaxExposureMonotonic(t *testing.T) {
	db, _, parts, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	fight := insertFight(t, db, model.StatusLive, time.Minute)
	userA := insertParticipant(t, db, fight.ID, model.SlotA)

	if err := parts.RaiseMaxExposure(ctx, fight.ID, userA, decimal.NewFromInt(500)); err != nil {
		t.Fatalf("raise: %v", err)
	}
	// Lower value must not shrink the floor.
	if err := parts.RaiseMaxExposure(ctx, fight.ID, userA, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("raise lower: %v", err)
	}

	loaded, err := parts.ListParticipants(ctx, fight.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !loaded[0].MaxExposure.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("max exposure = %s, want 500", loaded[0].MaxExposure)
	}
}

func TestRecordViolationSticky(t *testing.T) {
	db, _, parts, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	fight := insertFight(t, db, model.StatusLive, time.Minute)
	userA := insertParticipant(t, db, fight.ID, model.SlotA)

	first := []uuid.UUID{uuid.New(), uuid.New()}
	if err := parts.RecordViolation(ctx, fight.ID, userA, first); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Second record is a no-op; the original evidence stays.
	if err := parts.RecordViolation(ctx, fight.ID, userA, []uuid.UUID{uuid.New()}); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	loaded, err := parts.ListParticipants(ctx, fight.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !loaded[0].Violated {
		t.Fatal("violated flag not set")
	}
	if len(loaded[0].ViolationTradeIDs) != 2 {
		t.Fatalf("trade ids = %v, want the original two", loaded[0].ViolationTradeIDs)
	}
}

func TestSnapshotInsertAndPrune(t *testing.T) {
	db, _, _, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	fight := insertFight(t, db, model.StatusLive, time.Minute)
	snaps := NewSnapshotStore(db)

	old := model.Snapshot{
		FightID: fight.ID,
		TakenAt: time.Now().Add(-48 * time.Hour),
		State:   model.SnapshotState{TimeRemainingSec: 100},
	}
	fresh := model.Snapshot{
		FightID: fight.ID,
		TakenAt: time.Now(),
		State:   model.SnapshotState{TimeRemainingSec: 50},
	}
	if err := snaps.InsertSnapshot(ctx, old); err != nil {
		t.Fatalf("insert old: %v", err)
	}
	if err := snaps.InsertSnapshot(ctx, fresh); err != nil {
		t.Fatalf("insert fresh: %v", err)
	}

	deleted, err := snaps.PruneSnapshots(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
}

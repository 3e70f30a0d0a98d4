// Package settle finalizes fights exactly once. Every instance's tick
// loop independently notices that time is up, so the coordinator is
// built as a gauntlet of guards: local re-entrancy set, cluster-wide
// conditional lock, fresh-state re-validation, lock re-verification
// before the external call, and a double-checked commit transaction.
// Any guard failing aborts cleanly and leaves the fight LIVE for the
// next tick to retry.
package settle

import (
	"context"
	"errors"
	"sync"
	"time"

	"FightEngine/internal/broadcast"
	"FightEngine/internal/model"
	"FightEngine/internal/observability"
	"FightEngine/internal/persistence"
	"FightEngine/internal/pnl"
	"FightEngine/internal/violation"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// FightStore is the storage surface the coordinator needs.
type FightStore interface {
	GetFight(ctx context.Context, id uuid.UUID) (model.Fight, error)
	AcquireSettleLock(ctx context.Context, id uuid.UUID, holder string, staleAfter time.Duration) (bool, error)
	ReleaseSettleLock(ctx context.Context, id uuid.UUID, holder string) error
	HoldsSettleLock(ctx context.Context, id uuid.UUID, holder string) (bool, error)
	CommitSettlement(ctx context.Context, holder string, result model.SettlementResult) error
}

// TradeReader loads a participant's fills in execution order.
type TradeReader interface {
	ListTrades(ctx context.Context, fightID, userID uuid.UUID) ([]model.Trade, error)
}

// ParticipantStore reads participants and persists violation flags.
type ParticipantStore interface {
	ListParticipants(ctx context.Context, fightID uuid.UUID) ([]model.Participant, error)
	RecordViolation(ctx context.Context, fightID, userID uuid.UUID, tradeIDs []uuid.UUID) error
}

// Publisher fans settlement events out to subscribers.
type Publisher interface {
	PublishFight(ctx context.Context, eventType string, fightID uuid.UUID, payload interface{}) error
	PublishAggregate(ctx context.Context, payload interface{}) error
}

// LiveCache lets the coordinator evict a fight's cached live state and
// warning marker once it goes terminal.
type LiveCache interface {
	Drop(id uuid.UUID)
}

// FinishedEvent is the payload of the terminal broadcast.
type FinishedEvent struct {
	FightID uuid.UUID                `json:"fight_id"`
	Status  model.FightStatus        `json:"status"`
	Winner  *uuid.UUID               `json:"winner_id"`
	IsDraw  bool                     `json:"is_draw"`
	Finals  []model.ParticipantFinal `json:"finals"`
}

// Config carries the tunables the coordinator shares with the tick loop.
type Config struct {
	InstanceID    string
	ScoreEpsilon  decimal.Decimal // below this ROI%-difference the fight is a draw
	LockStaleness time.Duration
}

// Coordinator drives the settlement state machine.
type Coordinator struct {
	cfg          Config
	fights       FightStore
	trades       TradeReader
	participants ParticipantStore
	adjudicator  Adjudicator
	publisher    Publisher
	cache        LiveCache
	log          zerolog.Logger
	metrics      *observability.Metrics

	mu       sync.Mutex
	settling map[uuid.UUID]struct{}
}

func NewCoordinator(
	cfg Config,
	fights FightStore,
	trades TradeReader,
	participants ParticipantStore,
	adjudicator Adjudicator,
	publisher Publisher,
	cache LiveCache,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		fights:       fights,
		trades:       trades,
		participants: participants,
		adjudicator:  adjudicator,
		publisher:    publisher,
		cache:        cache,
		log:          log,
		metrics:      metrics,
		settling:     make(map[uuid.UUID]struct{}),
	}
}

// InFlight reports whether this instance is currently settling the
// fight. The tick loop skips in-flight fights entirely.
func (c *Coordinator) InFlight(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.settling[id]
	return ok
}

// begin adds the fight to the local re-entrancy set. The set is checked
// before any storage work so a duplicate local trigger aborts without
// ever touching the cluster lock.
func (c *Coordinator) begin(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.settling[id]; ok {
		return false
	}
	c.settling[id] = struct{}{}
	return true
}

func (c *Coordinator) end(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.settling, id)
}

// Settle runs the full settlement protocol for one fight. It never
// returns an error: every failure mode resolves to either "stay LIVE
// and retry next tick" or a committed NO_CONTEST. Safe to call from
// multiple instances concurrently; at most one commits.
func (c *Coordinator) Settle(ctx context.Context, fightID uuid.UUID) {
	if !c.begin(fightID) {
		c.metrics.SettleAborts.WithLabelValues("reentrant").Inc()
		c.log.Debug().Str("fight_id", fightID.String()).Msg("settlement already in flight locally")
		return
	}
	defer c.end(fightID)

	c.metrics.SettleAttempts.Inc()
	start := time.Now()
	defer func() { c.metrics.SettleDuration.Observe(time.Since(start).Seconds()) }()

	log := c.log.With().Str("fight_id", fightID.String()).Logger()

	acquired, err := c.fights.AcquireSettleLock(ctx, fightID, c.cfg.InstanceID, c.cfg.LockStaleness)
	if err != nil {
		c.metrics.SettleAborts.WithLabelValues("lock_error").Inc()
		log.Error().Err(err).Msg("settle lock acquisition failed")
		return
	}
	if !acquired {
		c.metrics.LockContention.Inc()
		c.metrics.SettleAborts.WithLabelValues("lock_contended").Inc()
		log.Debug().Msg("settle lock held elsewhere, aborting")
		return
	}

	fight, err := c.fights.GetFight(ctx, fightID)
	if err != nil {
		c.abort(ctx, fightID, "reload_failed", err)
		return
	}
	if fight.Status != model.StatusLive {
		c.abort(ctx, fightID, "already_settled", nil)
		return
	}

	parts, err := c.participants.ListParticipants(ctx, fightID)
	if err != nil || len(parts) != 2 {
		c.abort(ctx, fightID, "participants_load", err)
		return
	}

	// Final violation pass before scores are frozen.
	tradesByUser := make(map[uuid.UUID][]model.Trade, 2)
	for i := range parts {
		p := &parts[i]
		trades, err := c.trades.ListTrades(ctx, fightID, p.UserID)
		if err != nil {
			c.abort(ctx, fightID, "trades_load", err)
			return
		}
		tradesByUser[p.UserID] = trades

		if p.Violated {
			continue
		}
		if report := violation.Detect(trades); report.Violated {
			c.flagViolation(ctx, fightID, p.UserID, report)
			p.Violated = true
		}
	}

	// Authoritative final scores: realized PnL only, never unrealized.
	// Passing no marks values residual positions at entry, so the
	// unrealized leg is exactly zero.
	finals := make([]model.ParticipantFinal, len(parts))
	scores := make([]decimal.Decimal, len(parts))
	for i := range parts {
		res := pnl.Compute(tradesByUser[parts[i].UserID], nil)
		net := res.RealizedNet()
		scores[i] = pnl.ScorePercent(net, res.MarginUsed, parts[i].MaxExposure, res.CumulativeOpeningNotional)
		finals[i] = model.ParticipantFinal{
			UserID:     parts[i].UserID,
			FinalScore: scores[i],
			FinalPnl:   net,
			TradeCount: res.TradeCount,
		}
	}

	winnerID, isDraw := DetermineWinner(parts[0].UserID, scores[0], parts[1].UserID, scores[1], c.cfg.ScoreEpsilon)

	// A long external call is exactly when a stale-lock takeover could
	// have reassigned ownership; re-verify before adjudicating.
	held, err := c.fights.HoldsSettleLock(ctx, fightID, c.cfg.InstanceID)
	if err != nil {
		// Ownership is unknown; release is holder-conditional, so this
		// either frees our own lock or does nothing.
		c.abort(ctx, fightID, "lock_verify_error", err)
		return
	}
	if !held {
		// Someone else holds the lock now; releasing would be a foreign
		// no-op at best, so just back off.
		c.metrics.SettleAborts.WithLabelValues("lock_lost").Inc()
		log.Warn().Msg("settle lock ownership lost before adjudication")
		return
	}

	status, winnerID, isDraw := c.adjudicate(ctx, fightID, winnerID, isDraw)

	result := model.SettlementResult{
		FightID:  fightID,
		Status:   status,
		WinnerID: winnerID,
		IsDraw:   isDraw,
		EndedAt:  time.Now(),
		Finals:   finals,
	}

	if err := c.fights.CommitSettlement(ctx, c.cfg.InstanceID, result); err != nil {
		if errors.Is(err, persistence.ErrSettlementRace) {
			c.metrics.SettleAborts.WithLabelValues("commit_race").Inc()
			log.Warn().Msg("settlement race at commit, rolled back with no writes")
		} else {
			c.metrics.SettleAborts.WithLabelValues("commit_error").Inc()
			log.Error().Err(err).Msg("settlement commit failed")
		}
		c.releaseLock(ctx, fightID)
		return
	}

	c.metrics.SettleCommitted.WithLabelValues(string(status)).Inc()
	log.Info().
		Str("status", string(status)).
		Bool("is_draw", isDraw).
		Msg("fight settled")

	c.cache.Drop(fightID)

	event := FinishedEvent{
		FightID: fightID,
		Status:  status,
		Winner:  winnerID,
		IsDraw:  isDraw,
		Finals:  finals,
	}
	if err := c.publisher.PublishFight(ctx, broadcast.EventFinished, fightID, event); err != nil {
		log.Warn().Err(err).Msg("finished event publish failed")
	}
	if err := c.publisher.PublishAggregate(ctx, event); err != nil {
		log.Warn().Err(err).Msg("aggregate finished publish failed")
	}
}

// adjudicate confirms the outcome with the external service. Fail-safe:
// any failure, timeout or unsuccessful response commits NO_CONTEST —
// the system never silently awards a win on adjudication failure.
func (c *Coordinator) adjudicate(ctx context.Context, fightID uuid.UUID, winnerID *uuid.UUID, isDraw bool) (model.FightStatus, *uuid.UUID, bool) {
	start := time.Now()
	resp, err := c.adjudicator.Adjudicate(ctx, AdjudicationRequest{
		CompetitionID:      fightID,
		DeterminedWinnerID: winnerID,
		IsDraw:             isDraw,
	})
	c.metrics.AdjudicateDur.Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.AdjudicateFailed.Inc()
		c.log.Warn().Err(err).Str("fight_id", fightID.String()).Msg("adjudication failed, defaulting to NO_CONTEST")
		return model.StatusNoContest, nil, false
	}

	for _, foul := range resp.Violations {
		if err := c.participants.RecordViolation(ctx, fightID, foul.UserID, foul.TradeIDs); err != nil {
			c.log.Warn().Err(err).Str("user_id", foul.UserID.String()).Msg("server-side violation persist failed")
		}
	}

	switch resp.FinalStatus {
	case model.StatusFinished, model.StatusNoContest:
		return resp.FinalStatus, resp.WinnerID, resp.IsDraw
	default:
		c.metrics.AdjudicateFailed.Inc()
		c.log.Warn().Str("fight_id", fightID.String()).Str("status", string(resp.FinalStatus)).
			Msg("adjudication returned unusable status, defaulting to NO_CONTEST")
		return model.StatusNoContest, nil, false
	}
}

// abort releases the lock and leaves the fight LIVE; the next tick
// retries naturally since time remaining stays at zero.
func (c *Coordinator) abort(ctx context.Context, fightID uuid.UUID, reason string, err error) {
	c.metrics.SettleAborts.WithLabelValues(reason).Inc()
	evt := c.log.Warn().Str("fight_id", fightID.String()).Str("reason", reason)
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg("settlement aborted")
	c.releaseLock(ctx, fightID)
}

func (c *Coordinator) releaseLock(ctx context.Context, fightID uuid.UUID) {
	if err := c.fights.ReleaseSettleLock(ctx, fightID, c.cfg.InstanceID); err != nil {
		c.log.Warn().Err(err).Str("fight_id", fightID.String()).Msg("settle lock release failed")
	}
}

func (c *Coordinator) flagViolation(ctx context.Context, fightID, userID uuid.UUID, report violation.Report) {
	c.metrics.ViolationsFlagged.Inc()
	if err := c.participants.RecordViolation(ctx, fightID, userID, report.OffendingTradeIDs); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID.String()).Msg("violation persist failed")
		return
	}
	payload := map[string]interface{}{
		"user_id":   userID,
		"symbols":   report.OffendingSymbols,
		"trade_ids": report.OffendingTradeIDs,
	}
	if err := c.publisher.PublishFight(ctx, broadcast.EventViolation, fightID, payload); err != nil {
		c.log.Warn().Err(err).Msg("violation event publish failed")
	}
}

// DetermineWinner compares final scores under the draw epsilon. The
// comparison is symmetric: swapping the two sides flips the winner and
// never the draw verdict.
func DetermineWinner(userA uuid.UUID, scoreA decimal.Decimal, userB uuid.UUID, scoreB decimal.Decimal, epsilon decimal.Decimal) (*uuid.UUID, bool) {
	diff := scoreA.Sub(scoreB)
	if diff.Abs().LessThan(epsilon) {
		return nil, true
	}
	if diff.Sign() > 0 {
		return &userA, false
	}
	return &userB, false
}

// Package tick drives the per-second recomputation loop: promote
// waiting fights, recompute every live fight's scores from the trade
// ledger and current marks, publish the results, and hand fights whose
// clock has run out to the settlement coordinator. A failure in one
// fight never disturbs the others; the next tick retries from storage.
package tick

import (
	"context"
	"sync"
	"time"

	"FightEngine/internal/broadcast"
	"FightEngine/internal/model"
	"FightEngine/internal/observability"
	"FightEngine/internal/pnl"
	"FightEngine/internal/settle"
	"FightEngine/internal/violation"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// FightSource promotes and lists fights.
type FightSource interface {
	StartPending(ctx context.Context, now time.Time) ([]model.Fight, error)
	ListLive(ctx context.Context) ([]model.Fight, error)
}

// TradeReader loads a participant's fills in execution order.
type TradeReader interface {
	ListTrades(ctx context.Context, fightID, userID uuid.UUID) ([]model.Trade, error)
}

// ParticipantStore reads participants and persists per-tick findings.
type ParticipantStore interface {
	ListParticipants(ctx context.Context, fightID uuid.UUID) ([]model.Participant, error)
	RaiseMaxExposure(ctx context.Context, fightID, userID uuid.UUID, exposure decimal.Decimal) error
	RecordViolation(ctx context.Context, fightID, userID uuid.UUID, tradeIDs []uuid.UUID) error
}

// PriceSource supplies the current mark price per symbol.
type PriceSource interface {
	Prices(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Publisher fans tick events out to subscribers.
type Publisher interface {
	PublishFight(ctx context.Context, eventType string, fightID uuid.UUID, payload interface{}) error
	PublishAggregate(ctx context.Context, payload interface{}) error
}

// SnapshotSink accepts snapshot rows without blocking.
type SnapshotSink interface {
	Offer(snap model.Snapshot) bool
}

// Settler finalizes expired fights.
type Settler interface {
	Settle(ctx context.Context, fightID uuid.UUID)
	InFlight(fightID uuid.UUID) bool
}

// Config carries the orchestrator's tunables.
type Config struct {
	Interval       time.Duration // tick period
	SnapshotEvery  int           // persist a snapshot every Nth tick
	ViolationEvery int           // run the violation detector every Nth tick
	WarnThreshold  time.Duration // ending-soon fires at or below this
	ScoreEpsilon   decimal.Decimal
}

// Orchestrator runs the tick loop.
type Orchestrator struct {
	cfg          Config
	fights       FightSource
	trades       TradeReader
	participants ParticipantStore
	prices       PriceSource
	publisher    Publisher
	snapshots    SnapshotSink
	settler      Settler
	cache        *LiveCache
	log          zerolog.Logger
	metrics      *observability.Metrics

	ticks uint64
}

func NewOrchestrator(
	cfg Config,
	fights FightSource,
	trades TradeReader,
	participants ParticipantStore,
	prices PriceSource,
	publisher Publisher,
	snapshots SnapshotSink,
	settler Settler,
	cache *LiveCache,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	if cfg.SnapshotEvery < 1 {
		cfg.SnapshotEvery = 1
	}
	if cfg.ViolationEvery < 1 {
		cfg.ViolationEvery = 1
	}
	return &Orchestrator{
		cfg:          cfg,
		fights:       fights,
		trades:       trades,
		participants: participants,
		prices:       prices,
		publisher:    publisher,
		snapshots:    snapshots,
		settler:      settler,
		cache:        cache,
		log:          log,
		metrics:      metrics,
	}
}

// Run ticks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.Tick(ctx, time.Now())
		}
	}
}

// Tick executes one full cycle. Exported so tests can drive the loop
// with a controlled clock.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) {
	o.ticks++
	o.metrics.TicksTotal.Inc()
	start := time.Now()
	defer func() { o.metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	o.promoteWaiting(ctx, now)

	live, err := o.fights.ListLive(ctx)
	if err != nil {
		o.metrics.FightTickErrors.WithLabelValues("list_live").Inc()
		o.log.Error().Err(err).Msg("listing live fights failed, skipping tick")
		return
	}
	o.metrics.FightsLive.Set(float64(len(live)))

	if len(live) == 0 {
		return
	}

	marks, err := o.prices.Prices(ctx)
	if err != nil {
		// Stale or missing marks degrade unrealized PnL to entry-price
		// valuation; the tick still runs.
		o.log.Warn().Err(err).Msg("price fetch failed, valuing positions at entry")
		marks = nil
	}

	for i := range live {
		f := &live[i]

		if o.settler.InFlight(f.ID) {
			continue
		}

		if f.TimeRemaining(now) == 0 {
			go o.settler.Settle(context.Background(), f.ID)
			continue
		}

		if err := o.processFight(ctx, f, now, marks); err != nil {
			o.log.Error().Err(err).Str("fight_id", f.ID.String()).Msg("fight tick failed")
		}
	}

	if states := o.cache.All(); len(states) > 0 {
		if err := o.publisher.PublishAggregate(ctx, states); err != nil {
			o.log.Warn().Err(err).Msg("aggregate feed publish failed")
		}
	}
}

// promoteWaiting flips WAITING fights to LIVE and announces each one.
func (o *Orchestrator) promoteWaiting(ctx context.Context, now time.Time) {
	started, err := o.fights.StartPending(ctx, now)
	if err != nil {
		o.metrics.FightTickErrors.WithLabelValues("promote").Inc()
		o.log.Error().Err(err).Msg("waiting fight promotion failed")
		return
	}

	for i := range started {
		f := &started[i]
		o.metrics.FightsStarted.Inc()
		o.log.Info().
			Str("fight_id", f.ID.String()).
			Dur("duration", f.Duration).
			Msg("fight started")

		payload := map[string]interface{}{
			"stake":            f.Stake,
			"duration_seconds": int64(f.Duration.Seconds()),
			"started_at":       f.StartedAt,
		}
		if err := o.publisher.PublishFight(ctx, broadcast.EventStarted, f.ID, payload); err != nil {
			o.log.Warn().Err(err).Str("fight_id", f.ID.String()).Msg("started event publish failed")
		}
	}
}

func (o *Orchestrator) processFight(ctx context.Context, f *model.Fight, now time.Time, marks map[string]decimal.Decimal) error {
	computeStart := time.Now()

	parts, err := o.participants.ListParticipants(ctx, f.ID)
	if err != nil {
		o.metrics.FightTickErrors.WithLabelValues("participants").Inc()
		return err
	}

	// Both sides recompute independently from the full trade sequence;
	// do them concurrently.
	results := make([]pnl.Result, len(parts))
	tradesByIdx := make([][]model.Trade, len(parts))
	errs := make([]error, len(parts))

	var wg sync.WaitGroup
	for i := range parts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trades, err := o.trades.ListTrades(ctx, f.ID, parts[i].UserID)
			if err != nil {
				errs[i] = err
				return
			}
			tradesByIdx[i] = trades
			results[i] = pnl.Compute(trades, marks)
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			o.metrics.FightTickErrors.WithLabelValues("trades").Inc()
			return errs[i]
		}
	}
	o.metrics.FightComputeDur.Observe(time.Since(computeStart).Seconds())

	checkViolations := o.ticks%uint64(o.cfg.ViolationEvery) == 0

	state := State{
		FightID:          f.ID,
		TimeRemainingSec: int64(f.TimeRemaining(now).Seconds()),
		Participants:     make([]ParticipantState, len(parts)),
		ComputedAt:       now,
	}

	for i := range parts {
		p := &parts[i]
		res := results[i]

		// The denominator floor only ever rises; persist growth so a
		// restart or another instance sees the same floor.
		if res.MarginUsed.GreaterThan(p.MaxExposure) {
			if err := o.participants.RaiseMaxExposure(ctx, f.ID, p.UserID, res.MarginUsed); err != nil {
				o.metrics.FightTickErrors.WithLabelValues("exposure").Inc()
				o.log.Warn().Err(err).Str("user_id", p.UserID.String()).Msg("max exposure update failed")
			} else {
				p.MaxExposure = res.MarginUsed
			}
		}

		if checkViolations && !p.Violated {
			o.metrics.ViolationChecks.Inc()
			if report := violation.Detect(tradesByIdx[i]); report.Violated {
				o.flagViolation(ctx, f.ID, p.UserID, report)
				p.Violated = true
			}
		}

		total := res.TotalPnl()
		state.Participants[i] = ParticipantState{
			UserID:        p.UserID,
			Slot:          string(p.Slot),
			Score:         pnl.ScorePercent(total, res.MarginUsed, p.MaxExposure, res.CumulativeOpeningNotional),
			Pnl:           total,
			RealizedPnl:   res.RealizedPnl,
			UnrealizedPnl: res.UnrealizedPnl,
			Fees:          res.Fees,
			MarginUsed:    res.MarginUsed,
			TradeCount:    res.TradeCount,
			Violated:      p.Violated,
		}
	}

	if len(state.Participants) == 2 {
		winner, tied := settle.DetermineWinner(
			state.Participants[0].UserID, state.Participants[0].Score,
			state.Participants[1].UserID, state.Participants[1].Score,
			o.cfg.ScoreEpsilon)
		state.LeaderID = winner
		state.IsTied = tied
	}

	o.cache.Put(state)

	if remaining := f.TimeRemaining(now); remaining > 0 && remaining <= o.cfg.WarnThreshold {
		if o.cache.MarkWarned(f.ID) {
			payload := map[string]interface{}{"time_remaining_sec": int64(remaining.Seconds())}
			if err := o.publisher.PublishFight(ctx, broadcast.EventEndingSoon, f.ID, payload); err != nil {
				o.log.Warn().Err(err).Str("fight_id", f.ID.String()).Msg("ending-soon publish failed")
			}
		}
	}

	if err := o.publisher.PublishFight(ctx, broadcast.EventTick, f.ID, state); err != nil {
		o.metrics.FightTickErrors.WithLabelValues("publish").Inc()
		o.log.Warn().Err(err).Str("fight_id", f.ID.String()).Msg("tick publish failed")
	}

	if o.ticks%uint64(o.cfg.SnapshotEvery) == 0 {
		o.snapshots.Offer(buildSnapshot(state, now))
	}

	return nil
}

func (o *Orchestrator) flagViolation(ctx context.Context, fightID, userID uuid.UUID, report violation.Report) {
	o.metrics.ViolationsFlagged.Inc()
	o.log.Warn().
		Str("fight_id", fightID.String()).
		Str("user_id", userID.String()).
		Strs("symbols", report.OffendingSymbols).
		Msg("participant flagged for out-of-venue position")

	if err := o.participants.RecordViolation(ctx, fightID, userID, report.OffendingTradeIDs); err != nil {
		o.log.Error().Err(err).Str("user_id", userID.String()).Msg("violation persist failed")
		return
	}

	payload := map[string]interface{}{
		"user_id":   userID,
		"symbols":   report.OffendingSymbols,
		"trade_ids": report.OffendingTradeIDs,
	}
	if err := o.publisher.PublishFight(ctx, broadcast.EventViolation, fightID, payload); err != nil {
		o.log.Warn().Err(err).Str("fight_id", fightID.String()).Msg("violation publish failed")
	}
}

func buildSnapshot(state State, now time.Time) model.Snapshot {
	snapParts := make([]model.SnapshotParticipant, len(state.Participants))
	for i, p := range state.Participants {
		snapParts[i] = model.SnapshotParticipant{
			UserID:     p.UserID,
			Slot:       model.Slot(p.Slot),
			Score:      p.Score,
			Pnl:        p.Pnl,
			TradeCount: p.TradeCount,
		}
	}
	return model.Snapshot{
		FightID:  state.FightID,
		TakenAt:  now,
		LeaderID: state.LeaderID,
		State: model.SnapshotState{
			Participants:     snapParts,
			TimeRemainingSec: state.TimeRemainingSec,
		},
	}
}

// Package stats publishes periodic platform-wide aggregates to the
// broadcast gateway. Purely informational; failures never affect fights.
package stats

import (
	"context"
	"fmt"
	"time"

	"FightEngine/internal/model"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Source computes the current platform aggregates.
type Source interface {
	PlatformStats(ctx context.Context) (model.PlatformStats, error)
}

// Sink broadcasts them.
type Sink interface {
	PublishStats(ctx context.Context, payload interface{}) error
}

// Publisher runs the aggregate computation on a fixed schedule.
type Publisher struct {
	source   Source
	sink     Sink
	interval time.Duration
	log      zerolog.Logger

	scheduler gocron.Scheduler
}

func NewPublisher(source Source, sink Sink, interval time.Duration, log zerolog.Logger) *Publisher {
	return &Publisher{
		source:   source,
		sink:     sink,
		interval: interval,
		log:      log,
	}
}

// Start publishes once immediately and then on the schedule.
func (p *Publisher) Start(ctx context.Context) error {
	p.publish(ctx)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("stats scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() { p.publish(ctx) }),
	)
	if err != nil {
		return fmt.Errorf("stats job: %w", err)
	}

	scheduler.Start()
	p.scheduler = scheduler
	p.log.Info().Dur("interval", p.interval).Msg("platform stats publisher started")
	return nil
}

// Stop shuts the schedule down.
func (p *Publisher) Stop() {
	if p.scheduler != nil {
		_ = p.scheduler.Shutdown()
	}
}

func (p *Publisher) publish(ctx context.Context) {
	statsCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	current, err := p.source.PlatformStats(statsCtx)
	if err != nil {
		p.log.Warn().Err(err).Msg("platform stats computation failed")
		return
	}

	if err := p.sink.PublishStats(statsCtx, current); err != nil {
		p.log.Warn().Err(err).Msg("platform stats publish failed")
	}
}

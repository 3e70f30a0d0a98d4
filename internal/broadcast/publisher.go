// Package broadcast publishes computed fight state to NATS JetStream.
// Subscribers follow a single fight via fight.events.{type}.{fight_id},
// the aggregate feed via fight.feed.all, or platform statistics via
// fight.stats.platform. Publishing is best-effort from the engine's
// perspective: a failed publish never disturbs the tick or a settlement.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FightEngine/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Event types carried in the subject and envelope.
const (
	EventTick       = "tick"
	EventStarted    = "started"
	EventEndingSoon = "ending_soon"
	EventViolation  = "violation"
	EventFinished   = "finished"
	EventAggregate  = "aggregate"
	EventStats      = "stats"
)

const (
	subjectPrefix    = "fight.events"
	SubjectAggregate = "fight.feed.all"
	SubjectStats     = "fight.stats.platform"
)

// Subject builds the per-fight subject for an event type.
func Subject(eventType string, fightID uuid.UUID) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, eventType, fightID)
}

// Envelope wraps every published payload.
type Envelope struct {
	EventType string      `json:"event_type"`
	FightID   *uuid.UUID  `json:"fight_id,omitempty"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher sends envelopes to JetStream.
type Publisher struct {
	js      jetstream.JetStream
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, log zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{js: js, log: log, metrics: metrics}
}

// PublishFight publishes a per-fight event.
func (p *Publisher) PublishFight(ctx context.Context, eventType string, fightID uuid.UUID, payload interface{}) error {
	return p.publish(ctx, Subject(eventType, fightID), Envelope{
		EventType: eventType,
		FightID:   &fightID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// PublishAggregate publishes the cross-fight feed.
func (p *Publisher) PublishAggregate(ctx context.Context, payload interface{}) error {
	return p.publish(ctx, SubjectAggregate, Envelope{
		EventType: EventAggregate,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// PublishStats publishes platform-wide statistics.
func (p *Publisher) PublishStats(ctx context.Context, payload interface{}) error {
	return p.publish(ctx, SubjectStats, Envelope{
		EventType: EventStats,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

func (p *Publisher) publish(ctx context.Context, subject string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", env.EventType, err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.metrics.PublishErrors.WithLabelValues(env.EventType).Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.metrics.EventsPublished.WithLabelValues(env.EventType).Inc()
	return nil
}

// EnsureStream creates the broadcast stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "FIGHT_EVENTS",
		Subjects:  []string{"fight.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream FIGHT_EVENTS: %w", err)
	}
	return nil
}

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

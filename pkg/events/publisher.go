// Package events streams finished hunting sessions to Kafka so downstream
// consumers can audit generated queries.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/malbeclabs/huntql/internal/metrics"
	"github.com/malbeclabs/huntql/pkg/pipeline"
)

const (
	DefaultTopic = "huntql.sessions"

	TypeSessionFinished = "session.finished"

	HeaderOutcome = "outcome"
)

var (
	ErrLoggerRequired = errors.New("logger is required")
	ErrClientRequired = errors.New("kafka client is required")
)

type KafkaClient interface {
	Produce(ctx context.Context, record *kgo.Record, fn func(*kgo.Record, error))
	Flush(ctx context.Context) error
}

type PublisherConfig struct {
	Logger      *slog.Logger
	KafkaClient KafkaClient
	Topic       string
	Clock       clockwork.Clock
}

func (c *PublisherConfig) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.KafkaClient == nil {
		return ErrClientRequired
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// SessionEvent is the record value written for every finished session.
type SessionEvent struct {
	Type      string           `json:"type"`
	EmittedAt time.Time        `json:"emitted_at"`
	Session   pipeline.Session `json:"session"`
}

type Publisher struct {
	log *slog.Logger
	cfg PublisherConfig
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Publisher{log: cfg.Logger, cfg: cfg}, nil
}

// Publish enqueues the session keyed by its ID. Delivery is asynchronous;
// failures are logged and counted, never returned.
func (p *Publisher) Publish(ctx context.Context, sess pipeline.Session) error {
	payload, err := json.Marshal(SessionEvent{
		Type:      TypeSessionFinished,
		EmittedAt: p.cfg.Clock.Now().UTC(),
		Session:   sess,
	})
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	rec := &kgo.Record{
		Topic: p.cfg.Topic,
		Key:   []byte(sess.ID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: HeaderOutcome, Value: []byte(sess.Outcome())},
		},
	}
	p.cfg.KafkaClient.Produce(ctx, rec, func(r *kgo.Record, err error) {
		if err != nil {
			metrics.EventsPublished.WithLabelValues(metrics.StatusError).Inc()
			p.log.Error("events: failed to produce record", "error", err, "session", sess.ID, "topic", r.Topic)
			return
		}
		metrics.EventsPublished.WithLabelValues(metrics.StatusSuccess).Inc()
		p.log.Debug("events: produced record", "session", sess.ID, "topic", r.Topic, "partition", r.Partition, "offset", r.Offset)
	})
	return nil
}

// Flush waits for outstanding records.
func (p *Publisher) Flush(ctx context.Context) error {
	return p.cfg.KafkaClient.Flush(ctx)
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/huntql/pkg/pipeline"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type mockKafkaClient struct {
	ProduceFunc func(ctx context.Context, record *kgo.Record, fn func(*kgo.Record, error))
	FlushFunc   func(ctx context.Context) error
}

func (m *mockKafkaClient) Produce(ctx context.Context, record *kgo.Record, fn func(*kgo.Record, error)) {
	m.ProduceFunc(ctx, record, fn)
}

func (m *mockKafkaClient) Flush(ctx context.Context) error {
	if m.FlushFunc == nil {
		return nil
	}
	return m.FlushFunc(ctx)
}

func TestHuntQL_Events_Publish(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var (
		mu      sync.Mutex
		records []*kgo.Record
	)
	mk := &mockKafkaClient{
		ProduceFunc: func(ctx context.Context, rec *kgo.Record, fn func(*kgo.Record, error)) {
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			fn(rec, nil)
		},
	}
	p, err := NewPublisher(PublisherConfig{Logger: logger, KafkaClient: mk, Clock: clockwork.NewFakeClockAt(now)})
	require.NoError(t, err)

	sess := pipeline.NewSession("abc", "q", 2, now)
	sess, err = pipeline.Transition(sess, pipeline.EnrichmentFailed{Err: errors.New("bad json"), At: now})
	require.NoError(t, err)

	require.NoError(t, p.Publish(t.Context(), sess))
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, DefaultTopic, rec.Topic)
	require.Equal(t, []byte("abc"), rec.Key)
	require.Equal(t, []kgo.RecordHeader{{Key: HeaderOutcome, Value: []byte("failed")}}, rec.Headers)

	var ev SessionEvent
	require.NoError(t, json.Unmarshal(rec.Value, &ev))
	require.Equal(t, TypeSessionFinished, ev.Type)
	require.True(t, now.Equal(ev.EmittedAt))
	require.Equal(t, "abc", ev.Session.ID)
	require.Equal(t, pipeline.StatusFailed, ev.Session.Status)
	require.Equal(t, 1, ev.Session.Log.Len())
}

func TestHuntQL_Events_PublishFailureIsNotReturned(t *testing.T) {
	t.Parallel()

	mk := &mockKafkaClient{
		ProduceFunc: func(ctx context.Context, rec *kgo.Record, fn func(*kgo.Record, error)) {
			fn(rec, errors.New("broker unavailable"))
		},
		FlushFunc: func(context.Context) error { return context.DeadlineExceeded },
	}
	p, err := NewPublisher(PublisherConfig{Logger: logger, KafkaClient: mk, Topic: "custom"})
	require.NoError(t, err)

	require.NoError(t, p.Publish(t.Context(), pipeline.NewSession("x", "q", 2, time.Now())))
	require.ErrorIs(t, p.Flush(t.Context()), context.DeadlineExceeded)
}

func TestHuntQL_Events_Config(t *testing.T) {
	t.Parallel()

	_, err := NewPublisher(PublisherConfig{KafkaClient: &mockKafkaClient{}})
	require.ErrorIs(t, err, ErrLoggerRequired)
	_, err = NewPublisher(PublisherConfig{Logger: logger})
	require.ErrorIs(t, err, ErrClientRequired)

	kc := &KafkaConfig{}
	require.Error(t, kc.Validate())
	kc = &KafkaConfig{Brokers: []string{"localhost:9092"}}
	require.NoError(t, kc.Validate())
	require.Equal(t, 100*time.Millisecond, kc.Linger)
}

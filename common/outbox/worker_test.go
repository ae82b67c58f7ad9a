package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/kyungseok/purchase-saga/common/messaging"
	"github.com/kyungseok/purchase-saga/common/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	mu         sync.Mutex
	pending    []*Event
	sent       []int64
	deadLetter []int64
}

func (f *fakeRepo) Insert(ctx context.Context, event *Event) error { return nil }
func (f *fakeRepo) InsertTx(ctx context.Context, tx *sql.Tx, event *Event) error { return nil }

func (f *fakeRepo) FindPending(ctx context.Context, limit int) ([]*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.pending
	f.pending = nil
	return p, nil
}

func (f *fakeRepo) MarkSent(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeRepo) MarkDeadLetter(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetter = append(f.deadLetter, id)
	return nil
}

// fakeBus fails the first failUntil[channel] publishes to a channel, then
// succeeds, recording every channel it was asked to publish to.
type fakeBus struct {
	mu        sync.Mutex
	failUntil map[string]int
	published []string
}

func (b *fakeBus) Publish(ctx context.Context, channel, key string, event interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, channel)
	if b.failUntil[channel] > 0 {
		b.failUntil[channel]--
		return stderrors.New("transient publish failure")
	}
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string, handler messaging.MessageHandler) error {
	return nil
}
func (b *fakeBus) Close() error { return nil }

func withFastRetry(cfg retry.Config, fn func()) {
	orig := publishRetryConfig
	publishRetryConfig = cfg
	defer func() { publishRetryConfig = orig }()
	fn()
}

func TestWorker_PublishRetriesThenSucceeds(t *testing.T) {
	withFastRetry(retry.Config{
		MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond,
		BackoffCoefficient: 2, MaxElapsedTime: time.Second,
	}, func() {
		bus := &fakeBus{failUntil: map[string]int{"order.created": 2}}
		w := NewWorker(&fakeRepo{}, bus, zap.NewNop(), time.Hour)

		event := &Event{ID: 1, EventType: "order.created", AggregateID: "o1", Payload: json.RawMessage(`{}`)}
		err := w.publish(context.Background(), event)

		require.NoError(t, err)
		assert.Equal(t, []string{"order.created", "order.created", "order.created"}, bus.published)
	})
}

func TestWorker_ProcessMarksSentOnSuccess(t *testing.T) {
	event := &Event{ID: 2, EventType: "order.created", AggregateID: "o1", Payload: json.RawMessage(`{}`)}
	repo := &fakeRepo{pending: []*Event{event}}
	bus := &fakeBus{}
	w := NewWorker(repo, bus, zap.NewNop(), time.Hour)

	require.NoError(t, w.process(context.Background()))

	assert.Equal(t, []int64{2}, repo.sent)
	assert.Empty(t, repo.deadLetter)
}

func TestWorker_ProcessDeadLettersAfterExhaustingRetries(t *testing.T) {
	withFastRetry(retry.Config{
		MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond,
		BackoffCoefficient: 2, MaxElapsedTime: time.Second,
	}, func() {
		event := &Event{ID: 7, EventType: "order.created", AggregateID: "o1", Payload: json.RawMessage(`{"x":1}`)}
		repo := &fakeRepo{pending: []*Event{event}}
		bus := &fakeBus{failUntil: map[string]int{"order.created": 100}}
		w := NewWorker(repo, bus, zap.NewNop(), time.Hour)

		require.NoError(t, w.process(context.Background()))

		assert.Empty(t, repo.sent)
		assert.Equal(t, []int64{7}, repo.deadLetter)
		assert.Contains(t, bus.published, "order.created.dlq")
	})
}

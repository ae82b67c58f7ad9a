package messaging

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventBus is the publish/subscribe contract every participant depends on.
// Two implementations exist: KafkaBus wraps the durable
// KafkaPublisher/KafkaConsumer pair for production deployment, and
// InMemoryBus backs unit tests and the single-process demo composition
// without a running broker.
type EventBus interface {
	Publish(ctx context.Context, channel string, key string, event interface{}) error
	Subscribe(ctx context.Context, channel string, handler MessageHandler) error
	Close() error
}

// KafkaBus adapts the existing KafkaPublisher/KafkaConsumer pair to the
// EventBus interface so participants can depend on one abstraction
// regardless of transport.
type KafkaBus struct {
	publisher Publisher
	consumer  Consumer
}

// NewKafkaBus combines an already-constructed publisher and consumer.
func NewKafkaBus(publisher Publisher, consumer Consumer) *KafkaBus {
	return &KafkaBus{publisher: publisher, consumer: consumer}
}

func (b *KafkaBus) Publish(ctx context.Context, channel string, key string, event interface{}) error {
	return b.publisher.Publish(ctx, channel, key, event)
}

func (b *KafkaBus) Subscribe(ctx context.Context, channel string, handler MessageHandler) error {
	return b.consumer.Subscribe([]string{channel}, handler)
}

func (b *KafkaBus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	return b.consumer.Close()
}

// --- InMemoryBus -----------------------------------------------------------
//
// Grounded on the bounded per-subscriber FIFO queue + backpressure pattern
// used by an in-process durable event bus elsewhere in the ecosystem: every
// subscription owns its own queue and goroutine, so a slow handler on one
// channel never blocks delivery to another. Publish applies backpressure
// (blocks) once a subscriber's queue reaches maxQueueDepth, rather than
// silently dropping events — this keeps the bus's delivery guarantee
// (best-effort at-least-once) honest under load instead of papering
// over it.

const defaultMaxQueueDepth = 1024

type inMemoryMessage struct {
	channel string
	key     string
	payload []byte
}

type inMemorySub struct {
	id      string
	channel string
	handler MessageHandler
	queue   chan inMemoryMessage
	done    chan struct{}
}

// InMemoryBus is an in-process EventBus. Safe for concurrent use.
type InMemoryBus struct {
	mu            sync.RWMutex
	subsByChannel map[string][]*inMemorySub
	logger        *zap.Logger
	maxQueueDepth int
	closed        bool
}

// NewInMemoryBus constructs an in-process bus. Pass a nil logger to use a
// no-op logger.
func NewInMemoryBus(logger *zap.Logger) *InMemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryBus{
		subsByChannel: make(map[string][]*inMemorySub),
		logger:        logger,
		maxQueueDepth: defaultMaxQueueDepth,
	}
}

func (b *InMemoryBus) Publish(ctx context.Context, channel string, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.RLock()
	subs := append([]*inMemorySub(nil), b.subsByChannel[channel]...)
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return nil
	}

	msg := inMemoryMessage{channel: channel, key: key, payload: payload}
	for _, sub := range subs {
		select {
		case sub.queue <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *InMemoryBus) Subscribe(ctx context.Context, channel string, handler MessageHandler) error {
	sub := &inMemorySub{
		id:      uuid.New().String(),
		channel: channel,
		handler: handler,
		queue:   make(chan inMemoryMessage, b.maxQueueDepth),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.subsByChannel[channel] = append(b.subsByChannel[channel], sub)
	b.mu.Unlock()

	go b.drain(sub)
	return nil
}

func (b *InMemoryBus) drain(sub *inMemorySub) {
	for {
		select {
		case msg := <-sub.queue:
			message := &Message{
				Topic: msg.channel,
				Key:   []byte(msg.key),
				Value: msg.payload,
			}
			if err := sub.handler(context.Background(), message); err != nil {
				b.logger.Error("in-memory bus handler failed",
					zap.String("channel", msg.channel),
					zap.Error(err))
			}
		case <-sub.done:
			return
		}
	}
}

func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subsByChannel {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	return nil
}

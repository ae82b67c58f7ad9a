package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kyungseok/purchase-saga/common/messaging"
	"github.com/kyungseok/purchase-saga/common/retry"
	"go.uber.org/zap"
)

// publishRetryConfig bounds how many times the worker retries a single
// event's publish before giving up and routing it to its dead-letter
// topic. It is independent of retry.DefaultConfig, which is tuned for
// longer-lived outbound gateway calls rather than a ticker-driven worker.
var publishRetryConfig = retry.Config{
	MaxAttempts:        5,
	InitialInterval:    500 * time.Millisecond,
	MaxInterval:        10 * time.Second,
	BackoffCoefficient: 2.0,
	MaxElapsedTime:     time.Minute,
}

// Worker polls the outbox table and publishes pending rows onto the bus,
// using the same ticker-loop shape every participant's OutboxWorker uses,
// generalized to run against any EventBus implementation (Kafka or
// in-memory). A publish that keeps failing is routed to `{eventType}.dlq`
// once retry.Do exhausts its attempts, rather than retried forever.
type Worker struct {
	repo     Repository
	bus      messaging.EventBus
	logger   *zap.Logger
	interval time.Duration
}

// NewWorker constructs an outbox worker.
func NewWorker(repo Repository, bus messaging.EventBus, logger *zap.Logger, interval time.Duration) *Worker {
	return &Worker{repo: repo, bus: bus, logger: logger, interval: interval}
}

// Start runs the poll loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if err := w.process(ctx); err != nil {
				w.logger.Error("failed to process outbox events", zap.Error(err))
			}
		}
	}
}

func (w *Worker) process(ctx context.Context) error {
	events, err := w.repo.FindPending(ctx, 100)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	w.logger.Info("processing outbox events", zap.Int("count", len(events)))

	for _, event := range events {
		if err := w.publish(ctx, event); err != nil {
			w.logger.Error("exhausted retries publishing event, routing to dead letter",
				zap.Int64("eventId", event.ID),
				zap.String("eventType", event.EventType),
				zap.Error(err))
			w.deadLetter(ctx, event)
			continue
		}
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			w.logger.Error("failed to mark event as sent",
				zap.Int64("eventId", event.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (w *Worker) publish(ctx context.Context, event *Event) error {
	return retry.Do(ctx, publishRetryConfig, w.logger, func() error {
		return w.bus.Publish(ctx, event.EventType, event.AggregateID, json.RawMessage(event.Payload))
	})
}

// deadLetter republishes event's original payload to its derived
// `{eventType}.dlq` topic and marks the row DEAD_LETTER so FindPending
// stops resurfacing it. Best-effort: a failure here is logged, not
// retried further — the row stays PENDING and is picked up again next
// tick rather than being lost silently.
func (w *Worker) deadLetter(ctx context.Context, event *Event) {
	dlqTopic := event.EventType + ".dlq"
	if err := w.bus.Publish(ctx, dlqTopic, event.AggregateID, json.RawMessage(event.Payload)); err != nil {
		w.logger.Error("failed to republish event to dead-letter topic",
			zap.Int64("eventId", event.ID),
			zap.String("dlqTopic", dlqTopic),
			zap.Error(err))
		return
	}
	if err := w.repo.MarkDeadLetter(ctx, event.ID); err != nil {
		w.logger.Error("failed to mark event as dead-lettered",
			zap.Int64("eventId", event.ID),
			zap.Error(err))
	}
}

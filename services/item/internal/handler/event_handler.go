package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kyungseok/purchase-saga/common/events"
	"github.com/kyungseok/purchase-saga/common/idempotency"
	"github.com/kyungseok/purchase-saga/common/messaging"
	"github.com/kyungseok/purchase-saga/services/item/internal/service"
	"go.uber.org/zap"
)

// EventHandler는 토픽 문자열을 타입이 정해진 핸들러로 정적으로
// 매핑한다(런타임 리플렉션 대신 정적 매핑).
type EventHandler struct {
	svc    service.ItemService
	idem   idempotency.Store
	logger *zap.Logger
}

// NewEventHandler 이벤트 핸들러 생성
func NewEventHandler(svc service.ItemService, idem idempotency.Store, logger *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, idem: idem, logger: logger}
}

// Handle은 messaging.MessageHandler 시그니처를 구현해 Kafka 컨슈머와
// InMemoryBus 양쪽에 그대로 등록할 수 있다.
func (h *EventHandler) Handle(ctx context.Context, msg *messaging.Message) error {
	var base events.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return err
	}
	idemKey := fmt.Sprintf("item:%s:%s", msg.Topic, base.EventID)
	processed, err := h.idem.IsProcessed(ctx, idemKey)
	if err != nil {
		return fmt.Errorf("failed to check idempotency: %w", err)
	}
	if processed {
		h.logger.Debug("skipping already processed message", zap.String("key", idemKey))
		return nil
	}

	if err := h.dispatch(ctx, msg); err != nil {
		return err
	}

	if _, err := h.idem.Reserve(ctx, idemKey, 0); err != nil {
		h.logger.Warn("failed to mark message processed", zap.Error(err))
	}
	return nil
}

func (h *EventHandler) dispatch(ctx context.Context, msg *messaging.Message) error {
	switch events.EventType(msg.Topic) {
	case events.EventInventoryReserved:
		var evt events.InventoryReservedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.svc.HandleInventoryReserved(ctx, evt)
	case events.EventPaymentProcessed, events.EventPaymentSuccess:
		var evt events.PaymentProcessedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.svc.HandlePaymentProcessed(ctx, evt)
	case events.EventPaymentFailed:
		var evt events.PaymentFailedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.svc.HandlePaymentFailed(ctx, evt)
	default:
		return nil
	}
}

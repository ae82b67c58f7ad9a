package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kyungseok/purchase-saga/common/events"
	"github.com/kyungseok/purchase-saga/common/idempotency"
	"github.com/kyungseok/purchase-saga/common/messaging"
	"github.com/kyungseok/purchase-saga/services/payment/internal/service"
	"go.uber.org/zap"
)

// EventHandler는 토픽을 타입이 정해진 핸들러로 정적으로 매핑한다.
type EventHandler struct {
	svc    service.PaymentService
	idem   idempotency.Store
	logger *zap.Logger
}

// NewEventHandler 이벤트 핸들러 생성
func NewEventHandler(svc service.PaymentService, idem idempotency.Store, logger *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, idem: idem, logger: logger}
}

func (h *EventHandler) Handle(ctx context.Context, msg *messaging.Message) error {
	var base events.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return err
	}
	idemKey := fmt.Sprintf("payment:%s:%s", msg.Topic, base.EventID)
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
	case events.EventItemReserved:
		var evt events.ItemReservedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.svc.HandleItemReserved(ctx, evt)
	default:
		return nil
	}
}

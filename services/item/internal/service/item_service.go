package service

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kyungseok/purchase-saga/common/errors"
	"github.com/kyungseok/purchase-saga/common/events"
	"github.com/kyungseok/purchase-saga/common/outbox"
	"github.com/kyungseok/purchase-saga/services/item/internal/domain"
	"github.com/kyungseok/purchase-saga/services/item/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const reservationTTL = 5 * time.Minute

// ItemService는 재고 참여자(step 3)를 구현한다: INVENTORY_RESERVED에서
// 재고를 차감하고 영구 예약을 남기며, PAYMENT_PROCESSED에서 확정하고,
// 실패 시 복구한다.
type ItemService interface {
	HandleInventoryReserved(ctx context.Context, evt events.InventoryReservedEvent) error
	HandlePaymentProcessed(ctx context.Context, evt events.PaymentProcessedEvent) error
	HandlePaymentFailed(ctx context.Context, evt events.PaymentFailedEvent) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

type itemService struct {
	db          *sql.DB
	items       repository.ItemRepository
	reservation repository.ReservationRepository
	outboxRepo  outbox.Repository
	logger      *zap.Logger
}

// NewItemService 재고 참여자 서비스 생성
func NewItemService(db *sql.DB, items repository.ItemRepository, reservation repository.ReservationRepository, outboxRepo outbox.Repository, logger *zap.Logger) ItemService {
	return &itemService{db: db, items: items, reservation: reservation, outboxRepo: outboxRepo, logger: logger}
}

func (s *itemService) HandleInventoryReserved(ctx context.Context, evt events.InventoryReservedEvent) error {
	s.logger.Info("handling inventory reserved event",
		zap.String("orderId", evt.OrderID), zap.String("itemId", evt.ItemID))

	existing, err := s.reservation.FindActiveByOrderID(ctx, evt.OrderID)
	if err != nil {
		return fmt.Errorf("failed to check existing reservation: %w", err)
	}
	if len(existing) > 0 {
		s.logger.Info("item already reserved for order", zap.String("orderId", evt.OrderID))
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	item, err := s.items.FindForUpdate(ctx, tx, evt.ItemID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return s.publishReservationFailed(ctx, evt.OrderID, evt.UserID, evt.ItemID, "item-not-found", evt.CorrelationID)
		}
		return s.publishReservationFailed(ctx, evt.OrderID, evt.UserID, evt.ItemID, "system-error", evt.CorrelationID)
	}
	if !item.IsActive {
		return s.publishReservationFailed(ctx, evt.OrderID, evt.UserID, evt.ItemID, "item-inactive", evt.CorrelationID)
	}

	quantity := evt.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	if item.Stock < quantity {
		return s.publishReservationFailed(ctx, evt.OrderID, evt.UserID, evt.ItemID, "insufficient-stock", evt.CorrelationID)
	}

	originalStock := item.Stock
	newStock := item.Stock - quantity
	if err := s.items.UpdateStockTx(ctx, tx, evt.ItemID, newStock); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to decrement stock", err)
	}

	now := time.Now()
	res := &domain.ItemReservation{
		OrderID:          evt.OrderID,
		ItemID:           evt.ItemID,
		UserID:           evt.UserID,
		ReservedQuantity: quantity,
		OriginalStock:    originalStock,
		ReservedAt:       now,
		ExpiresAt:        now.Add(reservationTTL),
	}
	if err := s.reservation.CreateTx(ctx, tx, res); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to create item reservation", err)
	}

	reservedEvt := events.ItemReservedEvent{
		BaseEvent:        newBase(events.EventItemReserved, evt.CorrelationID),
		OrderID:          evt.OrderID,
		UserID:           evt.UserID,
		ItemID:           evt.ItemID,
		ReservedQuantity: quantity,
		RemainingStock:   newStock,
	}
	outboxEvt, err := outbox.NewEvent("item", evt.ItemID, string(events.EventItemReserved), reservedEvt)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal item reserved event", err)
	}
	if err := s.outboxRepo.InsertTx(ctx, tx, outboxEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit transaction", err)
	}

	s.logger.Info("item reserved", zap.String("orderId", evt.OrderID), zap.Int("remainingStock", newStock))
	return nil
}

func (s *itemService) publishReservationFailed(ctx context.Context, orderID, userID, itemID, reason, correlationID string) error {
	failedEvt := events.ItemReservationFailedEvent{
		BaseEvent: newBase(events.EventItemReservationFailed, correlationID),
		OrderID:   orderID,
		UserID:    userID,
		ItemID:    itemID,
		Reason:    reason,
	}
	outboxEvt, err := outbox.NewEvent("item", itemID, string(events.EventItemReservationFailed), failedEvt)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal item reservation failure", err)
	}
	if err := s.outboxRepo.Insert(ctx, outboxEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to publish item reservation failure", err)
	}
	s.logger.Warn("item reservation failed", zap.String("orderId", orderID), zap.String("reason", reason))
	return nil
}

// HandlePaymentProcessed는 payment.processed/payment.success 양쪽에서
// 호출되며 RESERVED 행을 CONFIRMED로 전이한다. 재적용은 안전하다.
func (s *itemService) HandlePaymentProcessed(ctx context.Context, evt events.PaymentProcessedEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	affected, err := s.reservation.ConfirmTx(ctx, tx, evt.OrderID)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit confirmation", err)
	}
	s.logger.Info("item reservations confirmed", zap.String("orderId", evt.OrderID), zap.Int64("count", affected))
	return nil
}

// HandlePaymentFailed는 주문에 연결된 모든 RESERVED 예약을 복구한다.
func (s *itemService) HandlePaymentFailed(ctx context.Context, evt events.PaymentFailedEvent) error {
	reservations, err := s.reservation.FindActiveByOrderID(ctx, evt.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load reservations for rollback: %w", err)
	}
	if len(reservations) == 0 {
		s.logger.Info("no active item reservations to roll back", zap.String("orderId", evt.OrderID))
		return nil
	}

	var restored []events.RestoredItem
	for _, res := range reservations {
		if err := s.restoreOne(ctx, res, evt.Reason); err != nil {
			return err
		}
		restored = append(restored, events.RestoredItem{ItemID: res.ItemID, RestoredQuantity: res.ReservedQuantity})
	}

	restoredEvt := events.ItemRestoredEvent{
		BaseEvent:     newBase(events.EventItemRestored, evt.CorrelationID),
		OrderID:       evt.OrderID,
		UserID:        evt.UserID,
		RestoredItems: restored,
		Reason:        evt.Reason,
	}
	outboxEvt, err := outbox.NewEvent("item", evt.OrderID, string(events.EventItemRestored), restoredEvt)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal item restored event", err)
	}
	if err := s.outboxRepo.Insert(ctx, outboxEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to publish item restored", err)
	}
	return nil
}

func (s *itemService) restoreOne(ctx context.Context, res *domain.ItemReservation, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	item, err := s.items.FindForUpdate(ctx, tx, res.ItemID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to lock item for restore", err)
	}
	if err := s.items.UpdateStockTx(ctx, tx, res.ItemID, item.Stock+res.ReservedQuantity); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to restore stock", err)
	}
	if err := s.reservation.CancelOneTx(ctx, tx, res.ReservationID, reason); err != nil {
		return err
	}
	return tx.Commit()
}

// SweepExpired는 만료 시각이 지난 RESERVED 행을 EXPIRED로 전이하고
// 재고를 복구한다. 한 번에 여러 행을 처리하되 각 행은 독립 트랜잭션으로
// 다뤄 부분 실패가 다른 행에 영향을 주지 않게 한다.
func (s *itemService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.reservation.SweepExpired(ctx, now, 200)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, res := range expired {
		if err := s.sweepOne(ctx, res); err != nil {
			s.logger.Error("failed to sweep expired item reservation",
				zap.Int64("reservationId", res.ReservationID), zap.Error(err))
			continue
		}
		swept++
	}
	if swept > 0 {
		s.logger.Info("swept expired item reservations", zap.Int("count", swept))
	}
	return swept, nil
}

func (s *itemService) sweepOne(ctx context.Context, res *domain.ItemReservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	item, err := s.items.FindForUpdate(ctx, tx, res.ItemID)
	if err != nil {
		return err
	}
	if err := s.items.UpdateStockTx(ctx, tx, res.ItemID, item.Stock+res.ReservedQuantity); err != nil {
		return err
	}
	if err := s.reservation.TransitionExpiredTx(ctx, tx, res.ReservationID); err != nil {
		return err
	}
	return tx.Commit()
}

func newBase(eventType events.EventType, correlationID string) events.BaseEvent {
	return events.BaseEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		SchemaVersion: 1,
		OccurredAt:    time.Now(),
		CorrelationID: correlationID,
	}
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kyungseok/purchase-saga/common/errors"
	"github.com/kyungseok/purchase-saga/common/events"
	"github.com/kyungseok/purchase-saga/common/messaging"
	"github.com/kyungseok/purchase-saga/common/outbox"
	"github.com/kyungseok/purchase-saga/services/user/internal/repository"
	"go.uber.org/zap"
)

const balanceReservationTTL = 300 * time.Second

// balanceReservation은 KV에 저장되는 BalanceReservation의 와이어 형태다
// (key `balance_reserve:{userId}:{orderId}`).
type balanceReservation struct {
	Amount          int64 `json:"amount"`
	OriginalBalance int64 `json:"originalBalance"`
}

// UserService는 사용자 참여자(step 1)를 구현한다: ORDER_CREATED에서
// 사용자를 검증하고 잔액을 예약하며, 하위 단계 실패 시 복구한다.
type UserService interface {
	HandleOrderCreated(ctx context.Context, evt events.OrderCreatedEvent) error
	Rollback(ctx context.Context, orderID, userID, reason, correlationID string) error
	HandleInventoryConfirmed(ctx context.Context, evt events.InventoryConfirmedEvent) error
	HandleInventoryRollback(ctx context.Context, evt events.InventoryRollbackEvent) error
}

type userService struct {
	db         *sql.DB
	users      repository.UserRepository
	kv         messaging.KVStore
	outboxRepo outbox.Repository
	logger     *zap.Logger
}

// NewUserService 사용자 참여자 서비스 생성
func NewUserService(db *sql.DB, users repository.UserRepository, kv messaging.KVStore, outboxRepo outbox.Repository, logger *zap.Logger) UserService {
	return &userService{db: db, users: users, kv: kv, outboxRepo: outboxRepo, logger: logger}
}

func reservationKey(userID, orderID string) string {
	return fmt.Sprintf("balance_reserve:%s:%s", userID, orderID)
}

func (s *userService) HandleOrderCreated(ctx context.Context, evt events.OrderCreatedEvent) error {
	s.logger.Info("handling order created event", zap.String("orderId", evt.OrderID), zap.String("userId", evt.UserID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	user, err := s.users.FindForUpdate(ctx, tx, evt.UserID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return s.publishValidationFailed(ctx, evt, "user-not-found")
		}
		return s.publishValidationFailed(ctx, evt, "system-error")
	}
	if !user.IsActive {
		return s.publishValidationFailed(ctx, evt, "user-inactive")
	}
	if user.Balance < evt.FinalAmount {
		return s.publishValidationFailed(ctx, evt, "insufficient-balance")
	}
	if user.InventoryItemCount >= user.MaxInventorySlots {
		return s.publishValidationFailed(ctx, evt, "insufficient-inventory-slots")
	}

	reservation := balanceReservation{Amount: evt.FinalAmount, OriginalBalance: user.Balance}
	payload, err := json.Marshal(reservation)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal balance reservation", err)
	}
	if err := s.kv.SetReservation(ctx, reservationKey(evt.UserID, evt.OrderID), payload, balanceReservationTTL); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to write balance reservation", err)
	}

	newBalance := user.Balance - evt.FinalAmount
	if err := s.users.UpdateBalanceTx(ctx, tx, evt.UserID, newBalance); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to decrement balance", err)
	}

	// 잔액 갱신과 두 이벤트 모두를 같은 로컬 트랜잭션에서 outbox에
	// 적재한다. 커밋이 발행에 선행해야 한다.
	validatedEvt, err := outbox.NewEvent("user", evt.UserID, string(events.EventUserValidated), events.UserValidatedEvent{
		BaseEvent:      newBase(events.EventUserValidated, evt.CorrelationID),
		OrderID:        evt.OrderID,
		UserID:         evt.UserID,
		UserBalance:    newBalance,
		RequiredAmount: evt.FinalAmount,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal user validated event", err)
	}
	if err := s.outboxRepo.InsertTx(ctx, tx, validatedEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	reservedEvt, err := outbox.NewEvent("user", evt.UserID, string(events.EventPaymentReserved), events.PaymentReservedEvent{
		BaseEvent:        newBase(events.EventPaymentReserved, evt.CorrelationID),
		OrderID:          evt.OrderID,
		UserID:           evt.UserID,
		ItemID:           evt.ItemID,
		Quantity:         evt.Quantity,
		ReservedAmount:   evt.FinalAmount,
		RemainingBalance: newBalance,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal payment reserved event", err)
	}
	if err := s.outboxRepo.InsertTx(ctx, tx, reservedEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		_ = s.kv.DeleteReservation(ctx, reservationKey(evt.UserID, evt.OrderID))
		return s.publishValidationFailed(ctx, evt, "system-error")
	}

	s.logger.Info("balance reserved", zap.String("orderId", evt.OrderID), zap.Int64("remainingBalance", newBalance))
	return nil
}

func (s *userService) publishValidationFailed(ctx context.Context, evt events.OrderCreatedEvent, reason string) error {
	failedEvt := events.UserValidationFailedEvent{
		BaseEvent: newBase(events.EventUserValidationFailed, evt.CorrelationID),
		OrderID:   evt.OrderID,
		UserID:    evt.UserID,
		Reason:    reason,
	}
	if err := s.publish(ctx, failedEvt, "user", evt.UserID, events.EventUserValidationFailed); err != nil {
		return err
	}
	s.logger.Warn("user validation failed", zap.String("orderId", evt.OrderID), zap.String("reason", reason))
	return nil
}

// Rollback은 PAYMENT_FAILED/INVENTORY_RESERVATION_FAILED/ITEM_RESERVATION_FAILED
// 중 어느 쪽이 먼저 도착해도 안전하다: 예약 키가 없으면 이미 복구된
// 것으로 보고 바로 반환한다.
func (s *userService) Rollback(ctx context.Context, orderID, userID, reason, correlationID string) error {
	key := reservationKey(userID, orderID)
	raw, found, err := s.kv.GetReservation(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read balance reservation: %w", err)
	}
	if !found {
		s.logger.Info("balance reservation already rolled back", zap.String("orderId", orderID))
		return nil
	}

	var reservation balanceReservation
	if err := json.Unmarshal(raw, &reservation); err != nil {
		return fmt.Errorf("failed to unmarshal balance reservation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := s.users.FindForUpdate(ctx, tx, userID); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to lock user for rollback", err)
	}
	// originalBalance 스냅샷으로 복원한다(delta 가산이 아님). 도중의
	// 관리자 잔액 조정이 있어도 수렴한다.
	if err := s.users.UpdateBalanceTx(ctx, tx, userID, reservation.OriginalBalance); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to restore balance", err)
	}

	rollbackEvt, err := outbox.NewEvent("user", userID, string(events.EventPaymentRollback), events.PaymentRollbackEvent{
		BaseEvent:      newBase(events.EventPaymentRollback, correlationID),
		OrderID:        orderID,
		UserID:         userID,
		RollbackAmount: reservation.Amount,
		Reason:         reason,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal payment rollback event", err)
	}
	if err := s.outboxRepo.InsertTx(ctx, tx, rollbackEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit rollback", err)
	}

	if err := s.kv.DeleteReservation(ctx, key); err != nil {
		s.logger.Warn("failed to delete balance reservation after rollback", zap.Error(err))
	}
	return nil
}

func (s *userService) HandleInventoryConfirmed(ctx context.Context, evt events.InventoryConfirmedEvent) error {
	return s.adjustInventoryCount(ctx, evt.UserID, evt.Quantity)
}

func (s *userService) HandleInventoryRollback(ctx context.Context, evt events.InventoryRollbackEvent) error {
	return nil // 슬롯 예약은 KV뿐이었으므로 확정된 인벤토리 수가 아직 없었다; 미러를 건드릴 필요가 없다.
}

func (s *userService) adjustInventoryCount(ctx context.Context, userID string, delta int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.users.AdjustInventoryCountTx(ctx, tx, userID, delta); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *userService) publish(ctx context.Context, payload interface{}, aggregateType, aggregateID string, eventType events.EventType) error {
	evt, err := outbox.NewEvent(aggregateType, aggregateID, string(eventType), payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal event", err)
	}
	if err := s.outboxRepo.Insert(ctx, evt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to publish event", err)
	}
	return nil
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

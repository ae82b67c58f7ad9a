package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kyungseok/purchase-saga/common/errors"
	"github.com/kyungseok/purchase-saga/common/events"
	"github.com/kyungseok/purchase-saga/common/messaging"
	"github.com/kyungseok/purchase-saga/common/outbox"
	"github.com/kyungseok/purchase-saga/common/retry"
	"github.com/kyungseok/purchase-saga/services/inventory/internal/repository"
	"go.uber.org/zap"
)

const (
	slotReservationTTL = 300 * time.Second
	slotLockTTL        = 10 * time.Second
)

// lockRetryConfig는 Redis 락 획득 호출 자체의 일시적 장애(연결 끊김 등)만
// 재시도한다. 락이 이미 다른 핸들러에 잡혀있는 경우(acquired=false,
// err=nil)는 fn이 nil 에러로 반환하므로 재시도되지 않는다 — 이는
// 비즈니스 경합이지 기술적 실패가 아니다.
var lockRetryConfig = retry.Config{
	MaxAttempts:        3,
	InitialInterval:    20 * time.Millisecond,
	MaxInterval:        200 * time.Millisecond,
	BackoffCoefficient: 2.0,
	MaxElapsedTime:     2 * time.Second,
}

// slotReservation은 KV에 저장되는 InventorySlotReservation의 와이어
// 형태다(key `inventory_reserve:{userId}:{orderId}`).
type slotReservation struct {
	ItemID     string `json:"itemId"`
	Quantity   int    `json:"quantity"`
	ReservedAt int64  `json:"reservedAt"`
}

// InventoryService는 Inventory 참여자(step 2)를 구현한다: 사용자별
// 인벤토리 슬롯 용량을 검증/예약하고, 결제 확정 시 영구 반영하며,
// 실패 시 예약을 해제한다.
type InventoryService interface {
	HandlePaymentReserved(ctx context.Context, evt events.PaymentReservedEvent) error
	HandlePaymentProcessed(ctx context.Context, evt events.PaymentProcessedEvent) error
	HandleRollback(ctx context.Context, orderID, userID, itemID, reason, correlationID string) error
}

type inventoryService struct {
	db         *sql.DB
	inventory  repository.InventoryRepository
	kv         messaging.KVStore
	outboxRepo outbox.Repository
	logger     *zap.Logger
}

// NewInventoryService 인벤토리 서비스 생성
func NewInventoryService(db *sql.DB, inventory repository.InventoryRepository, kv messaging.KVStore, outboxRepo outbox.Repository, logger *zap.Logger) InventoryService {
	return &inventoryService{db: db, inventory: inventory, kv: kv, outboxRepo: outboxRepo, logger: logger}
}

func slotKey(userID, orderID string) string {
	return fmt.Sprintf("inventory_reserve:%s:%s", userID, orderID)
}

func userLockKey(userID string) string {
	return fmt.Sprintf("user_inventory_lock:%s", userID)
}

// acquireUserLock은 AcquireLock을 lockRetryConfig로 감싼다.
func (s *inventoryService) acquireUserLock(ctx context.Context, userID string) (bool, error) {
	return retry.DoWithResult(ctx, lockRetryConfig, s.logger, func() (bool, error) {
		return s.kv.AcquireLock(ctx, userLockKey(userID), slotLockTTL)
	})
}

// HandlePaymentReserved는 userId에 대한 배타적 임계 구역 안에서 슬롯
// 용량을 확인하고, KV 예약을 쓴다.
func (s *inventoryService) HandlePaymentReserved(ctx context.Context, evt events.PaymentReservedEvent) error {
	acquired, err := s.acquireUserLock(ctx, evt.UserID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeNetworkError, "failed to acquire user inventory lock", err)
	}
	if !acquired {
		return errors.New(errors.ErrCodeLockContention, "user inventory lock held by another handler")
	}
	defer s.kv.ReleaseLock(ctx, userLockKey(evt.UserID))

	count, err := s.inventory.CountByUserID(ctx, evt.UserID)
	if err != nil {
		return fmt.Errorf("failed to count inventory rows: %w", err)
	}

	maxSlots := s.maxSlotsFor(evt.UserID)

	if count >= maxSlots {
		return s.publishReservationFailed(ctx, evt, "insufficient-inventory-slots")
	}

	reservation := slotReservation{ItemID: evt.ItemID, Quantity: evt.Quantity, ReservedAt: time.Now().Unix()}
	payload, err := json.Marshal(reservation)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal slot reservation", err)
	}
	if err := s.kv.SetReservation(ctx, slotKey(evt.UserID, evt.OrderID), payload, slotReservationTTL); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to write slot reservation", err)
	}

	reservedEvt := events.InventoryReservedEvent{
		BaseEvent:      newBase(events.EventInventoryReserved, evt.CorrelationID),
		OrderID:        evt.OrderID,
		UserID:         evt.UserID,
		ItemID:         evt.ItemID,
		Quantity:       evt.Quantity,
		ReservedSlots:  1,
		AvailableSlots: maxSlots - count - 1,
	}
	if err := s.publish(ctx, reservedEvt, "inventory", evt.UserID, events.EventInventoryReserved); err != nil {
		return err
	}
	s.logger.Info("inventory slot reserved", zap.String("orderId", evt.OrderID), zap.String("userId", evt.UserID))
	return nil
}

func (s *inventoryService) publishReservationFailed(ctx context.Context, evt events.PaymentReservedEvent, reason string) error {
	failedEvt := events.InventoryReservationFailedEvent{
		BaseEvent: newBase(events.EventInventoryReservationFailed, evt.CorrelationID),
		OrderID:   evt.OrderID,
		UserID:    evt.UserID,
		ItemID:    evt.ItemID,
		Reason:    reason,
	}
	if err := s.publish(ctx, failedEvt, "inventory", evt.UserID, events.EventInventoryReservationFailed); err != nil {
		return err
	}
	s.logger.Warn("inventory reservation failed", zap.String("orderId", evt.OrderID), zap.String("reason", reason))
	return nil
}

// HandlePaymentProcessed는 확인 단계다: KV 예약을 찾아 영구 인벤토리
// 행에 반영하고 KV를 지운다.
func (s *inventoryService) HandlePaymentProcessed(ctx context.Context, evt events.PaymentProcessedEvent) error {
	acquired, err := s.acquireUserLock(ctx, evt.UserID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeNetworkError, "failed to acquire user inventory lock", err)
	}
	if !acquired {
		return errors.New(errors.ErrCodeLockContention, "user inventory lock held by another handler")
	}
	defer s.kv.ReleaseLock(ctx, userLockKey(evt.UserID))

	key := slotKey(evt.UserID, evt.OrderID)
	raw, found, err := s.kv.GetReservation(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read slot reservation: %w", err)
	}
	if !found {
		s.logger.Warn("slot reservation missing on confirmation", zap.String("orderId", evt.OrderID))
		return nil
	}

	var reservation slotReservation
	if err := json.Unmarshal(raw, &reservation); err != nil {
		return fmt.Errorf("failed to unmarshal slot reservation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.inventory.UpsertTx(ctx, tx, evt.UserID, reservation.ItemID, reservation.Quantity); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to upsert inventory row", err)
	}

	confirmedEvt, err := outbox.NewEvent("inventory", evt.UserID, string(events.EventInventoryConfirmed), events.InventoryConfirmedEvent{
		BaseEvent: newBase(events.EventInventoryConfirmed, evt.CorrelationID),
		OrderID:   evt.OrderID,
		UserID:    evt.UserID,
		ItemID:    reservation.ItemID,
		Quantity:  reservation.Quantity,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal inventory confirmed event", err)
	}
	if err := s.outboxRepo.InsertTx(ctx, tx, confirmedEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit inventory confirmation", err)
	}

	if err := s.kv.DeleteReservation(ctx, key); err != nil {
		s.logger.Warn("failed to delete slot reservation after confirmation", zap.Error(err))
	}
	return nil
}

// HandleRollback은 예약은 KV뿐이므로 row 보상 없이 지우고
// INVENTORY_ROLLBACK을 발행한다. 예약이 이미 없으면(만료나 중복
// 트리거로) 조용히 반환한다.
func (s *inventoryService) HandleRollback(ctx context.Context, orderID, userID, itemID, reason, correlationID string) error {
	key := slotKey(userID, orderID)
	raw, found, err := s.kv.GetReservation(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read slot reservation: %w", err)
	}
	if !found {
		s.logger.Info("slot reservation already rolled back", zap.String("orderId", orderID))
		return nil
	}

	var reservation slotReservation
	if err := json.Unmarshal(raw, &reservation); err != nil {
		return fmt.Errorf("failed to unmarshal slot reservation: %w", err)
	}

	if err := s.kv.DeleteReservation(ctx, key); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to delete slot reservation", err)
	}

	rollbackEvt := events.InventoryRollbackEvent{
		BaseEvent:     newBase(events.EventInventoryRollback, correlationID),
		OrderID:       orderID,
		UserID:        userID,
		ItemID:        reservation.ItemID,
		ReleasedSlots: 1,
		Reason:        reason,
	}
	return s.publish(ctx, rollbackEvt, "inventory", userID, events.EventInventoryRollback)
}

// maxSlotsFor는 Inventory 참여자가 users 테이블을 직접 읽지 않도록
// 한다(User와 Inventory 간 순환 의존을 피하기 위함). 운영 환경에서는
// User 참여자가 노출한 읽기 전용 조회(gRPC 등)로 대체된다; 여기서는
// 고정 한도로 둔다.
func (s *inventoryService) maxSlotsFor(userID string) int {
	const defaultMaxSlots = 20
	return defaultMaxSlots
}

func (s *inventoryService) publish(ctx context.Context, payload interface{}, aggregateType, aggregateID string, eventType events.EventType) error {
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

package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kyungseok/purchase-saga/common/errors"
	"github.com/kyungseok/purchase-saga/common/events"
	"github.com/kyungseok/purchase-saga/common/outbox"
	"github.com/kyungseok/purchase-saga/services/order/internal/domain"
	"github.com/kyungseok/purchase-saga/services/order/internal/repository"
	"go.uber.org/zap"
)

// CreateOrderCommand는 CreateOrder 호출의 입력이다.
type CreateOrderCommand struct {
	UserID         string
	ItemID         string
	Quantity       int
	UserCouponID   *string
	IdempotencyKey string
}

// OrderService는 Order 참여자(사가 시작자이자 종료 기록자)를 구현한다.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	HandleCouponValidated(ctx context.Context, evt events.CouponValidatedEvent) error
	HandleCouponValidationFailed(ctx context.Context, evt events.CouponValidationFailedEvent) error
	HandlePaymentProcessed(ctx context.Context, evt events.PaymentProcessedEvent) error
	HandleUserValidationFailed(ctx context.Context, evt events.UserValidationFailedEvent) error
	HandleInventoryReservationFailed(ctx context.Context, evt events.InventoryReservationFailedEvent) error
	HandleItemReservationFailed(ctx context.Context, evt events.ItemReservationFailedEvent) error
	HandlePaymentFailed(ctx context.Context, evt events.PaymentFailedEvent) error
}

type orderService struct {
	db         *sql.DB
	orders     repository.OrderRepository
	catalog    repository.CatalogReader
	outboxRepo outbox.Repository
	logger     *zap.Logger
}

// NewOrderService 주문 서비스 생성
func NewOrderService(db *sql.DB, orders repository.OrderRepository, catalog repository.CatalogReader, outboxRepo outbox.Repository, logger *zap.Logger) OrderService {
	return &orderService{db: db, orders: orders, catalog: catalog, outboxRepo: outboxRepo, logger: logger}
}

// CreateOrder는 사용자/품목 존재를 동기적으로 확인하고, Order 행을
// PENDING으로 적재한 뒤, 쿠폰 적용 여부에 따라 COUPON_VALIDATION_REQUESTED
// 혹은 ORDER_CREATED를 발행한다.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	if cmd.IdempotencyKey != "" {
		existing, err := s.orders.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	if cmd.Quantity <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidOrder, "quantity must be positive")
	}

	user, err := s.catalog.FindUser(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New(errors.ErrCodeUserNotFound, "user not found")
	}

	item, err := s.catalog.FindItem(ctx, cmd.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.New(errors.ErrCodeItemNotFound, "item not found")
	}

	totalAmount := item.Price * int64(cmd.Quantity)
	now := time.Now()
	order := &domain.Order{
		ID:             uuid.New().String(),
		UserID:         cmd.UserID,
		ItemID:         cmd.ItemID,
		Quantity:       cmd.Quantity,
		TotalAmount:    totalAmount,
		DiscountAmount: 0,
		FinalAmount:    totalAmount,
		Status:         domain.OrderStatusPending,
		Version:        0,
		IdempotencyKey: cmd.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	correlationID := order.ID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.orders.Create(ctx, tx, order); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to create order", err)
	}

	if cmd.UserCouponID != nil {
		order.UserCouponID = cmd.UserCouponID
		requestEvt, err := outbox.NewEvent("order", order.ID, string(events.EventCouponValidationRequested), events.CouponValidationRequestedEvent{
			BaseEvent:    newBase(events.EventCouponValidationRequested, correlationID),
			OrderID:      order.ID,
			UserID:       order.UserID,
			ItemID:       order.ItemID,
			Quantity:     order.Quantity,
			TotalAmount:  order.TotalAmount,
			UserCouponID: *cmd.UserCouponID,
		})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal coupon validation requested event", err)
		}
		if err := s.outboxRepo.InsertTx(ctx, tx, requestEvt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
		}
	} else {
		createdEvt, err := outbox.NewEvent("order", order.ID, string(events.EventOrderCreated), events.OrderCreatedEvent{
			BaseEvent:      newBase(events.EventOrderCreated, correlationID),
			OrderID:        order.ID,
			UserID:         order.UserID,
			ItemID:         order.ItemID,
			Quantity:       order.Quantity,
			TotalAmount:    order.TotalAmount,
			DiscountAmount: order.DiscountAmount,
			FinalAmount:    order.FinalAmount,
			UserCouponID:   nil,
		})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal order created event", err)
		}
		if err := s.outboxRepo.InsertTx(ctx, tx, createdEvt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit order creation", err)
	}

	s.logger.Info("order created", zap.String("orderId", order.ID), zap.String("userId", order.UserID))
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.New(errors.ErrCodeOrderNotFound, "order not found")
	}
	return order, nil
}

// HandleCouponValidated는 할인/쿠폰을 반영하고, 할인된 finalAmount를
// totalAmount로 실어 ORDER_CREATED를 발행해 사가를 시작한다.
func (s *orderService) HandleCouponValidated(ctx context.Context, evt events.CouponValidatedEvent) error {
	order, err := s.orders.FindByID(ctx, evt.OrderID)
	if err != nil || order == nil {
		return fmt.Errorf("order not found: %s", evt.OrderID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.orders.UpdateCouponDiscountTx(ctx, tx, order.ID, evt.DiscountAmount, evt.FinalAmount, evt.UserCouponID, order.Version); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to update order coupon discount", err)
	}

	createdEvt, err := outbox.NewEvent("order", order.ID, string(events.EventOrderCreated), events.OrderCreatedEvent{
		BaseEvent:      newBase(events.EventOrderCreated, evt.CorrelationID),
		OrderID:        order.ID,
		UserID:         order.UserID,
		ItemID:         order.ItemID,
		Quantity:       order.Quantity,
		TotalAmount:    evt.FinalAmount,
		DiscountAmount: evt.DiscountAmount,
		FinalAmount:    evt.FinalAmount,
		UserCouponID:   &evt.UserCouponID,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal order created event", err)
	}
	if err := s.outboxRepo.InsertTx(ctx, tx, createdEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit coupon discount", err)
	}
	s.logger.Info("coupon applied, saga started", zap.String("orderId", order.ID))
	return nil
}

func (s *orderService) HandleCouponValidationFailed(ctx context.Context, evt events.CouponValidationFailedEvent) error {
	return s.fail(ctx, evt.OrderID, "", evt.Reason, events.FailedStepCoupon, &evt.UserCouponID, 0)
}

func (s *orderService) HandleUserValidationFailed(ctx context.Context, evt events.UserValidationFailedEvent) error {
	return s.fail(ctx, evt.OrderID, evt.UserID, evt.Reason, events.FailedStepUser, nil, 0)
}

func (s *orderService) HandleInventoryReservationFailed(ctx context.Context, evt events.InventoryReservationFailedEvent) error {
	return s.fail(ctx, evt.OrderID, evt.UserID, evt.Reason, events.FailedStepInventory, nil, 0)
}

func (s *orderService) HandleItemReservationFailed(ctx context.Context, evt events.ItemReservationFailedEvent) error {
	return s.fail(ctx, evt.OrderID, evt.UserID, evt.Reason, events.FailedStepItem, nil, 0)
}

func (s *orderService) HandlePaymentFailed(ctx context.Context, evt events.PaymentFailedEvent) error {
	return s.fail(ctx, evt.OrderID, evt.UserID, evt.Reason, events.FailedStepPayment, nil, 0)
}

// fail은 모든 *_FAILED 수신 분기가 공유하는 종료 경로다: 주문을 FAILED로
// 전이하고 failedStep을 명시적으로 실어 ORDER_FAILED를 발행한다(reason
// 텍스트를 추론하지 않고 발행자가 직접 표시한 단계를 그대로 싣는다).
func (s *orderService) fail(ctx context.Context, orderID, userID, reason string, step events.FailedStep, userCouponID *string, _ int64) error {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil || order == nil {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if order.Status == domain.OrderStatusFailed || order.Status == domain.OrderStatusCompleted {
		s.logger.Info("order already terminal, ignoring failure", zap.String("orderId", orderID))
		return nil
	}
	if userID == "" {
		userID = order.UserID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.orders.UpdateStatusTx(ctx, tx, order.ID, domain.OrderStatusFailed, &reason, order.Version); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to update order status", err)
	}

	failedEvt, err := outbox.NewEvent("order", order.ID, string(events.EventOrderFailed), events.OrderFailedEvent{
		BaseEvent:      newBase(events.EventOrderFailed, order.ID),
		OrderID:        order.ID,
		UserID:         userID,
		Reason:         reason,
		FailedStep:     step,
		UserCouponID:   order.UserCouponID,
		DiscountAmount: order.DiscountAmount,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal order failed event", err)
	}
	if err := s.outboxRepo.InsertTx(ctx, tx, failedEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit order failure", err)
	}
	s.logger.Warn("order failed", zap.String("orderId", order.ID), zap.String("failedStep", string(step)), zap.String("reason", reason))
	return nil
}

// HandlePaymentProcessed는 사가의 성공 종료를 기록한다. COMPLETED로
// 전이하고 ORDER_COMPLETED를 발행한다.
func (s *orderService) HandlePaymentProcessed(ctx context.Context, evt events.PaymentProcessedEvent) error {
	order, err := s.orders.FindByID(ctx, evt.OrderID)
	if err != nil || order == nil {
		return fmt.Errorf("order not found: %s", evt.OrderID)
	}
	if order.Status == domain.OrderStatusCompleted {
		s.logger.Info("order already completed", zap.String("orderId", order.ID))
		return nil
	}

	item, err := s.catalog.FindItem(ctx, order.ItemID)
	itemName := order.ItemID
	if err == nil && item != nil {
		itemName = item.Name
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.orders.UpdateStatusTx(ctx, tx, order.ID, domain.OrderStatusCompleted, nil, order.Version); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to update order status", err)
	}

	completedEvt, err := outbox.NewEvent("order", order.ID, string(events.EventOrderCompleted), events.OrderCompletedEvent{
		BaseEvent:   newBase(events.EventOrderCompleted, order.ID),
		OrderID:     order.ID,
		UserID:      order.UserID,
		ItemName:    itemName,
		TotalAmount: order.FinalAmount,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal order completed event", err)
	}
	if err := s.outboxRepo.InsertTx(ctx, tx, completedEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit order completion", err)
	}
	s.logger.Info("order completed", zap.String("orderId", order.ID))
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

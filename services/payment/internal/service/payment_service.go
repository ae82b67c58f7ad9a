package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/kyungseok/purchase-saga/common/errors"
	"github.com/kyungseok/purchase-saga/common/events"
	"github.com/kyungseok/purchase-saga/common/messaging"
	"github.com/kyungseok/purchase-saga/common/outbox"
	"github.com/kyungseok/purchase-saga/common/retry"
	"github.com/kyungseok/purchase-saga/services/payment/internal/domain"
	"github.com/kyungseok/purchase-saga/services/payment/internal/repository"
	"go.uber.org/zap"
)

// gatewayRetryConfig는 시뮬레이션된 게이트웨이 호출의 타임아웃성 실패에만
// 적용된다 — ErrCodePaymentDeclined는 이 재시도 바깥에서 한 번만
// 평가되므로 절대 재시도되지 않는다.
var gatewayRetryConfig = retry.Config{
	MaxAttempts:        3,
	InitialInterval:    50 * time.Millisecond,
	MaxInterval:        500 * time.Millisecond,
	BackoffCoefficient: 2.0,
	MaxElapsedTime:     3 * time.Second,
}

// balanceReservation은 User 참여자가 쓴 KV 예약을 읽기 위한 와이어
// 형태다(key `balance_reserve:{userId}:{orderId}`).
type balanceReservation struct {
	Amount          int64 `json:"amount"`
	OriginalBalance int64 `json:"originalBalance"`
}

// PaymentService는 Payment 참여자(step 4)를 구현한다: ITEM_RESERVED에서
// balance_reserve KV에 담긴 금액으로 결제를 실행한다.
type PaymentService interface {
	HandleItemReserved(ctx context.Context, evt events.ItemReservedEvent) error
}

type paymentService struct {
	db               *sql.DB
	payments         repository.PaymentRepository
	kv               messaging.KVStore
	outboxRepo       outbox.Repository
	successRate      float64
	timeoutRate      float64
	simulatedLatency time.Duration
	logger           *zap.Logger
}

// NewPaymentService 결제 서비스 생성. successRate는 시뮬레이션된
// 게이트웨이 호출의 성공 확률이고(비즈니스 거절, 재시도되지 않음),
// timeoutRate는 왕복 자체가 일시적으로 실패할 확률이다(기술적 에러,
// gatewayRetryConfig로 재시도됨).
func NewPaymentService(db *sql.DB, payments repository.PaymentRepository, kv messaging.KVStore, outboxRepo outbox.Repository, successRate, timeoutRate float64, logger *zap.Logger) PaymentService {
	return &paymentService{
		db:               db,
		payments:         payments,
		kv:               kv,
		outboxRepo:       outboxRepo,
		successRate:      successRate,
		timeoutRate:      timeoutRate,
		simulatedLatency: 100 * time.Millisecond,
		logger:           logger,
	}
}

func reservationKey(userID, orderID string) string {
	return fmt.Sprintf("balance_reserve:%s:%s", userID, orderID)
}

// HandleItemReserved는 성공 시 PAYMENT_PROCESSED와 PAYMENT_SUCCESS(동일
// 페이로드)를, 실패 시 PAYMENT_FAILED를 발행한다. 예약 키가 없으면 그
// 자체로 reason=reservation-missing 실패다.
func (s *paymentService) HandleItemReserved(ctx context.Context, evt events.ItemReservedEvent) error {
	existing, err := s.payments.FindByOrderID(ctx, evt.OrderID)
	if err != nil {
		return fmt.Errorf("failed to check existing payment: %w", err)
	}
	if existing != nil {
		s.logger.Info("payment already processed for order", zap.String("orderId", evt.OrderID))
		return nil
	}

	raw, found, err := s.kv.GetReservation(ctx, reservationKey(evt.UserID, evt.OrderID))
	if err != nil {
		return fmt.Errorf("failed to read balance reservation: %w", err)
	}
	if !found {
		return s.fail(ctx, evt, 0, "reservation-missing")
	}

	var reservation balanceReservation
	if err := json.Unmarshal(raw, &reservation); err != nil {
		return fmt.Errorf("failed to unmarshal balance reservation: %w", err)
	}

	result, gatewayErr := s.callGateway(ctx, evt.OrderID, reservation.Amount)
	if gatewayErr != nil {
		return s.fail(ctx, evt, reservation.Amount, gatewayErr.Error())
	}

	const paymentMethod = "CARD"
	now := time.Now()
	payment := &domain.Payment{
		ID:            uuid.New().String(),
		OrderID:       evt.OrderID,
		UserID:        evt.UserID,
		Amount:        reservation.Amount,
		PaymentMethod: paymentMethod,
		Status:        domain.PaymentStatusSuccess,
		GatewayTxID:   result.TransactionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, user_id, amount, payment_method, status, gateway_tx_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (order_id) DO NOTHING
	`, payment.ID, payment.OrderID, payment.UserID, payment.Amount, payment.PaymentMethod, payment.Status, payment.GatewayTxID, payment.CreatedAt, payment.UpdatedAt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert payment", err)
	}

	processedEvt, err := outbox.NewEvent("payment", payment.ID, string(events.EventPaymentProcessed), events.PaymentProcessedEvent{
		BaseEvent:     newBase(events.EventPaymentProcessed, evt.CorrelationID),
		OrderID:       evt.OrderID,
		UserID:        evt.UserID,
		PaymentAmount: payment.Amount,
		PaymentMethod: payment.PaymentMethod,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal payment processed event", err)
	}
	if err := s.outboxRepo.InsertTx(ctx, tx, processedEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	successEvt, err := outbox.NewEvent("payment", payment.ID, string(events.EventPaymentSuccess), events.PaymentSuccessEvent{
		BaseEvent:     newBase(events.EventPaymentSuccess, evt.CorrelationID),
		OrderID:       evt.OrderID,
		UserID:        evt.UserID,
		PaymentAmount: payment.Amount,
		PaymentMethod: payment.PaymentMethod,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal payment success event", err)
	}
	if err := s.outboxRepo.InsertTx(ctx, tx, successEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit payment", err)
	}

	s.logger.Info("payment processed", zap.String("orderId", evt.OrderID), zap.Int64("amount", payment.Amount))
	return nil
}

func (s *paymentService) fail(ctx context.Context, evt events.ItemReservedEvent, attemptedAmount int64, reason string) error {
	failedEvt := events.PaymentFailedEvent{
		BaseEvent:       newBase(events.EventPaymentFailed, evt.CorrelationID),
		OrderID:         evt.OrderID,
		UserID:          evt.UserID,
		Reason:          reason,
		AttemptedAmount: attemptedAmount,
	}
	outboxEvt, err := outbox.NewEvent("payment", evt.OrderID, string(events.EventPaymentFailed), failedEvt)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal payment failed event", err)
	}
	if err := s.outboxRepo.Insert(ctx, outboxEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to publish payment failed event", err)
	}
	s.logger.Warn("payment failed", zap.String("orderId", evt.OrderID), zap.String("reason", reason))
	return nil
}

// gatewayResult는 시뮬레이션된 결제 게이트웨이 호출 결과다.
type gatewayResult struct {
	TransactionID string
}

// callGateway는 설정된 성공 확률과 지연 분포를 갖는, 외부 게이트웨이로
// 나가는 제한된 호출을 모델링한다. 같은 계약을 지키는 실제 게이트웨이
// 클라이언트로 교체 가능하다. 왕복 자체(reachGateway)는 일시적으로
// 실패할 수 있어 retry.Do로 감싸지만, 거절 여부는 왕복이 성공한 뒤 딱
// 한 번만 판단한다 — 비즈니스 거절은 절대 재시도하지 않는다.
func (s *paymentService) callGateway(ctx context.Context, orderID string, amount int64) (*gatewayResult, error) {
	if err := retry.Do(ctx, gatewayRetryConfig, s.logger, func() error {
		return s.reachGateway(ctx)
	}); err != nil {
		return nil, err
	}

	if rand.Float64() > s.successRate {
		return nil, errors.New(errors.ErrCodePaymentDeclined, "payment declined by gateway")
	}

	return &gatewayResult{TransactionID: fmt.Sprintf("PG-TXN-%s-%d", orderID, time.Now().Unix())}, nil
}

// reachGateway는 게이트웨이 왕복 한 번을 모델링한다: 설정된 지연 이후
// timeoutRate 확률로 일시적 타임아웃을 낸다.
func (s *paymentService) reachGateway(ctx context.Context) error {
	select {
	case <-time.After(s.simulatedLatency):
	case <-ctx.Done():
		return ctx.Err()
	}

	if rand.Float64() < s.timeoutRate {
		return errors.New(errors.ErrCodeTimeoutError, "gateway call timed out")
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

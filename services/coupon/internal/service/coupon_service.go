package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/kyungseok/purchase-saga/common/errors"
	"github.com/kyungseok/purchase-saga/common/events"
	"github.com/kyungseok/purchase-saga/common/outbox"
	"github.com/kyungseok/purchase-saga/services/coupon/internal/domain"
	"github.com/kyungseok/purchase-saga/services/coupon/internal/repository"
	"go.uber.org/zap"
)

// CouponService는 쿠폰 참여자(외부 협력자 역할)를 구현한다:
// COUPON_VALIDATION_REQUESTED에서 존재/소유권/사용 여부/활성/만료/최소주문을
// 검증해 할인액을 계산하고(쿠폰 재고와 적용 가능 여부는 검사하지 않는다),
// 이후 ORDER_COMPLETED/ORDER_FAILED에
// 따라 사용 예정 상태를 확정하거나 취소한다.
type CouponService interface {
	HandleCouponValidationRequested(ctx context.Context, evt events.CouponValidationRequestedEvent) error
	HandleOrderCompleted(ctx context.Context, evt events.OrderCompletedEvent) error
	HandleOrderFailed(ctx context.Context, evt events.OrderFailedEvent) error
}

type couponService struct {
	db            *sql.DB
	coupons       repository.CouponRepository
	pendingUsages repository.PendingUsageRepository
	outboxRepo    outbox.Repository
	logger        *zap.Logger
}

// NewCouponService 쿠폰 참여자 서비스 생성
func NewCouponService(db *sql.DB, coupons repository.CouponRepository, pendingUsages repository.PendingUsageRepository, outboxRepo outbox.Repository, logger *zap.Logger) CouponService {
	return &couponService{db: db, coupons: coupons, pendingUsages: pendingUsages, outboxRepo: outboxRepo, logger: logger}
}

func (s *couponService) HandleCouponValidationRequested(ctx context.Context, evt events.CouponValidationRequestedEvent) error {
	s.logger.Info("handling coupon validation requested", zap.String("orderId", evt.OrderID), zap.String("userCouponId", evt.UserCouponID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	coupon, err := s.coupons.FindForUpdate(ctx, tx, evt.UserCouponID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to load user coupon", err)
	}

	if reason, errs := validateCoupon(coupon, evt); reason != "" {
		return s.publishValidationFailed(ctx, evt, reason, errs)
	}

	discountAmount := evt.TotalAmount * int64(coupon.DiscountPercent) / 100
	if discountAmount > evt.TotalAmount {
		discountAmount = evt.TotalAmount
	}
	finalAmount := evt.TotalAmount - discountAmount

	if err := s.coupons.MarkUsedTx(ctx, tx, evt.UserCouponID); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to mark coupon used", err)
	}
	if err := s.pendingUsages.CreateTx(ctx, tx, evt.OrderID, evt.UserCouponID); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to record pending coupon usage", err)
	}

	validatedEvt, err := outbox.NewEvent("coupon", evt.UserCouponID, string(events.EventCouponValidated), events.CouponValidatedEvent{
		BaseEvent:      newBase(events.EventCouponValidated, evt.CorrelationID),
		OrderID:        evt.OrderID,
		UserID:         evt.UserID,
		UserCouponID:   evt.UserCouponID,
		DiscountAmount: discountAmount,
		FinalAmount:    finalAmount,
		OriginalAmount: evt.TotalAmount,
		CouponInfo: events.CouponInfo{
			CouponID:        coupon.CouponID,
			Name:            coupon.Name,
			DiscountPercent: coupon.DiscountPercent,
		},
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal coupon validated event", err)
	}
	if err := s.outboxRepo.InsertTx(ctx, tx, validatedEvt); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit coupon validation", err)
	}

	s.logger.Info("coupon validated", zap.String("orderId", evt.OrderID), zap.Int64("discountAmount", discountAmount))
	return nil
}

// validateCoupon은 존재/소유권/사용 여부/활성/만료/최소주문을 차례로
// 검사한다. 쿠폰 재고와 적용 가능 여부는 검사하지 않는다. 통과하면 빈
// 사유 문자열을 돌려준다.
func validateCoupon(coupon *domain.UserCoupon, evt events.CouponValidationRequestedEvent) (string, []string) {
	if coupon == nil {
		return "coupon-not-found", []string{"user coupon does not exist"}
	}
	if coupon.UserID != evt.UserID {
		return "coupon-not-owned", []string{"coupon does not belong to this user"}
	}
	if coupon.Used {
		return "coupon-already-used", []string{"coupon has already been used"}
	}
	if !coupon.IsActive {
		return "coupon-inactive", []string{"coupon is not active"}
	}
	if time.Now().After(coupon.ExpiresAt) {
		return "coupon-expired", []string{"coupon has expired"}
	}
	if evt.TotalAmount < coupon.MinOrderAmount {
		return "below-minimum-order-amount", []string{"order total is below the coupon's minimum order amount"}
	}
	return "", nil
}

func (s *couponService) publishValidationFailed(ctx context.Context, evt events.CouponValidationRequestedEvent, reason string, errs []string) error {
	failedEvt := events.CouponValidationFailedEvent{
		BaseEvent:    newBase(events.EventCouponValidationFailed, evt.CorrelationID),
		OrderID:      evt.OrderID,
		UserID:       evt.UserID,
		UserCouponID: evt.UserCouponID,
		Errors:       errs,
		Reason:       reason,
	}
	if err := s.publish(ctx, failedEvt, "coupon", evt.UserCouponID, events.EventCouponValidationFailed); err != nil {
		return err
	}
	s.logger.Warn("coupon validation failed", zap.String("orderId", evt.OrderID), zap.String("reason", reason))
	return nil
}

// HandleOrderCompleted는 사가가 성공으로 종료되면 사용 예정 상태를
// 확정한다. 현재 스키마상 ORDER_COMPLETED는 userCouponId를 싣지 않으므로
// orderId로 조회한다(domain.PendingUsage 주석과 동일한 간극).
func (s *couponService) HandleOrderCompleted(ctx context.Context, evt events.OrderCompletedEvent) error {
	usage, err := s.pendingUsages.FindByOrderID(ctx, evt.OrderID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to load pending coupon usage", err)
	}
	if usage == nil || usage.Confirmed || usage.Cancelled {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.pendingUsages.MarkConfirmedTx(ctx, tx, evt.OrderID); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to confirm pending coupon usage", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit coupon confirmation", err)
	}
	s.logger.Info("coupon usage confirmed", zap.String("orderId", evt.OrderID), zap.String("userCouponId", usage.UserCouponID))
	return nil
}

// HandleOrderFailed는 사가가 보상으로 종료되면 쿠폰 사용을 취소하고
// 쿠폰을 다시 사용 가능 상태로 되돌린다. OrderFailedEvent는
// userCouponId를 싣지만(Order가 자신의 행에서 채워 넣는다), 일관성을
// 위해 PendingUsage 조회도 같이 확인한다.
func (s *couponService) HandleOrderFailed(ctx context.Context, evt events.OrderFailedEvent) error {
	if evt.UserCouponID == nil {
		return nil
	}

	usage, err := s.pendingUsages.FindByOrderID(ctx, evt.OrderID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to load pending coupon usage", err)
	}
	if usage == nil || usage.Confirmed || usage.Cancelled {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.pendingUsages.MarkCancelledTx(ctx, tx, evt.OrderID); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to cancel pending coupon usage", err)
	}
	if err := s.coupons.UnmarkUsedTx(ctx, tx, *evt.UserCouponID); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to restore coupon", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to commit coupon cancellation", err)
	}
	s.logger.Info("coupon usage cancelled", zap.String("orderId", evt.OrderID), zap.String("userCouponId", *evt.UserCouponID))
	return nil
}

func (s *couponService) publish(ctx context.Context, payload interface{}, aggregateType, aggregateID string, eventType events.EventType) error {
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

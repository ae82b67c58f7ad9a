package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kyungseok/purchase-saga/services/coupon/internal/domain"
)

// CouponRepository는 user_coupons 테이블에 대한 접근을 담당한다. 소유권/
// 사용 여부/활성/만료/최소주문 검사는 서비스 계층에서 이뤄지고,
// 여기서는 행 단위 잠금과 조회만 제공한다.
type CouponRepository interface {
	FindForUpdate(ctx context.Context, tx *sql.Tx, userCouponID string) (*domain.UserCoupon, error)
	MarkUsedTx(ctx context.Context, tx *sql.Tx, userCouponID string) error
	UnmarkUsedTx(ctx context.Context, tx *sql.Tx, userCouponID string) error
}

// PendingUsageRepository는 주문이 완결/실패로 끝나기 전까지 쿠폰 사용
// 예정 상태를 orderId로 찾을 수 있도록 보관한다 — ORDER_COMPLETED가
// userCouponId를 싣지 않는 wire 간극을 메운다.
type PendingUsageRepository interface {
	CreateTx(ctx context.Context, tx *sql.Tx, orderID, userCouponID string) error
	FindByOrderID(ctx context.Context, orderID string) (*domain.PendingUsage, error)
	MarkConfirmedTx(ctx context.Context, tx *sql.Tx, orderID string) error
	MarkCancelledTx(ctx context.Context, tx *sql.Tx, orderID string) error
}

type pendingUsageRepository struct {
	db *sql.DB
}

// NewPendingUsageRepository는 coupon_pending_usages 테이블을 사용하는
// 레포지토리를 생성한다. 테이블 모양:
//
//	order_id TEXT PRIMARY KEY,
//	user_coupon_id TEXT NOT NULL,
//	confirmed BOOLEAN NOT NULL DEFAULT false,
//	cancelled BOOLEAN NOT NULL DEFAULT false
func NewPendingUsageRepository(db *sql.DB) PendingUsageRepository {
	return &pendingUsageRepository{db: db}
}

func (r *pendingUsageRepository) CreateTx(ctx context.Context, tx *sql.Tx, orderID, userCouponID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO coupon_pending_usages (order_id, user_coupon_id, confirmed, cancelled)
		VALUES ($1, $2, false, false)
		ON CONFLICT (order_id) DO UPDATE SET user_coupon_id = EXCLUDED.user_coupon_id
	`, orderID, userCouponID)
	if err != nil {
		return fmt.Errorf("failed to create pending coupon usage: %w", err)
	}
	return nil
}

func (r *pendingUsageRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.PendingUsage, error) {
	p := &domain.PendingUsage{}
	err := r.db.QueryRowContext(ctx, `
		SELECT order_id, user_coupon_id, confirmed, cancelled
		FROM coupon_pending_usages WHERE order_id = $1
	`, orderID).Scan(&p.OrderID, &p.UserCouponID, &p.Confirmed, &p.Cancelled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending coupon usage: %w", err)
	}
	return p, nil
}

func (r *pendingUsageRepository) MarkConfirmedTx(ctx context.Context, tx *sql.Tx, orderID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE coupon_pending_usages SET confirmed = true WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("failed to confirm pending coupon usage: %w", err)
	}
	return nil
}

func (r *pendingUsageRepository) MarkCancelledTx(ctx context.Context, tx *sql.Tx, orderID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE coupon_pending_usages SET cancelled = true WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("failed to cancel pending coupon usage: %w", err)
	}
	return nil
}

type couponRepository struct {
	db *sql.DB
}

// NewCouponRepository는 user_coupons 테이블을 사용하는 레포지토리를
// 생성한다. 테이블 모양:
//
//	user_coupon_id TEXT PRIMARY KEY,
//	user_id TEXT NOT NULL,
//	coupon_id TEXT NOT NULL,
//	name TEXT NOT NULL,
//	discount_percent INT NOT NULL,
//	min_order_amount BIGINT NOT NULL,
//	is_active BOOLEAN NOT NULL DEFAULT true,
//	expires_at TIMESTAMPTZ NOT NULL,
//	used BOOLEAN NOT NULL DEFAULT false
func NewCouponRepository(db *sql.DB) CouponRepository {
	return &couponRepository{db: db}
}

func (r *couponRepository) FindForUpdate(ctx context.Context, tx *sql.Tx, userCouponID string) (*domain.UserCoupon, error) {
	c := &domain.UserCoupon{}
	err := tx.QueryRowContext(ctx, `
		SELECT user_coupon_id, user_id, coupon_id, name, discount_percent, min_order_amount, is_active, expires_at, used
		FROM user_coupons WHERE user_coupon_id = $1 FOR UPDATE
	`, userCouponID).Scan(
		&c.UserCouponID, &c.UserID, &c.CouponID, &c.Name, &c.DiscountPercent, &c.MinOrderAmount, &c.IsActive, &c.ExpiresAt, &c.Used,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user coupon: %w", err)
	}
	return c, nil
}

func (r *couponRepository) MarkUsedTx(ctx context.Context, tx *sql.Tx, userCouponID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE user_coupons SET used = true WHERE user_coupon_id = $1`, userCouponID)
	if err != nil {
		return fmt.Errorf("failed to mark coupon used: %w", err)
	}
	return nil
}

func (r *couponRepository) UnmarkUsedTx(ctx context.Context, tx *sql.Tx, userCouponID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE user_coupons SET used = false WHERE user_coupon_id = $1`, userCouponID)
	if err != nil {
		return fmt.Errorf("failed to unmark coupon used: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kyungseok/purchase-saga/services/order/internal/domain"
)

// OrderRepository는 orders 테이블에 대한 접근을 담당한다. 상태 전이는
// 항상 버전 비교를 동반해 동시 업데이트를 거부한다(낙관적 락).
type OrderRepository interface {
	Create(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	FindByID(ctx context.Context, orderID string) (*domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	UpdateCouponDiscountTx(ctx context.Context, tx *sql.Tx, orderID string, discountAmount, finalAmount int64, userCouponID string, expectedVersion int64) error
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, orderID string, status domain.OrderStatus, failureReason *string, expectedVersion int64) error
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository 주문 레포지토리 생성
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, item_id, quantity, total_amount, discount_amount, final_amount,
			user_coupon_id, status, failure_reason, version, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, order.ID, order.UserID, order.ItemID, order.Quantity, order.TotalAmount, order.DiscountAmount,
		order.FinalAmount, order.UserCouponID, order.Status, order.FailureReason, order.Version,
		order.IdempotencyKey, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, user_id, item_id, quantity, total_amount, discount_amount, final_amount,
			user_coupon_id, status, failure_reason, version, idempotency_key, created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID))
}

func (r *orderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, user_id, item_id, quantity, total_amount, discount_amount, final_amount,
			user_coupon_id, status, failure_reason, version, idempotency_key, created_at, updated_at
		FROM orders WHERE idempotency_key = $1
	`, key))
}

func (r *orderRepository) scanOne(row *sql.Row) (*domain.Order, error) {
	o := &domain.Order{}
	var userCouponID, failureReason sql.NullString
	err := row.Scan(
		&o.ID, &o.UserID, &o.ItemID, &o.Quantity, &o.TotalAmount, &o.DiscountAmount, &o.FinalAmount,
		&userCouponID, &o.Status, &failureReason, &o.Version, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	if userCouponID.Valid {
		o.UserCouponID = &userCouponID.String
	}
	if failureReason.Valid {
		o.FailureReason = &failureReason.String
	}
	return o, nil
}

func (r *orderRepository) UpdateCouponDiscountTx(ctx context.Context, tx *sql.Tx, orderID string, discountAmount, finalAmount int64, userCouponID string, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET discount_amount = $1, final_amount = $2, user_coupon_id = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5
	`, discountAmount, finalAmount, userCouponID, orderID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update order coupon discount: %w", err)
	}
	return checkRowsAffected(res)
}

func (r *orderRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, orderID string, status domain.OrderStatus, failureReason *string, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, failure_reason = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4
	`, status, failureReason, orderID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("order version conflict: concurrent update detected")
	}
	return nil
}

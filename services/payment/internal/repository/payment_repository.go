package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kyungseok/purchase-saga/services/payment/internal/domain"
)

// PaymentRepository는 payments 테이블(결제 시도 이력)에 대한 접근을
// 담당한다. 결제는 항상 주문당 한 번이므로 order_id에 유일 인덱스를
// 둔다.
type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.PaymentStatus, reason, gatewayTxID string) error
}

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository 결제 레포지토리 생성
func NewPaymentRepository(db *sql.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, user_id, amount, payment_method, status, reason, gateway_tx_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (order_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		payment.ID, payment.OrderID, payment.UserID, payment.Amount, payment.PaymentMethod,
		payment.Status, payment.Reason, payment.GatewayTxID, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	query := `
		SELECT id, order_id, user_id, amount, payment_method, status, reason, gateway_tx_id, created_at, updated_at
		FROM payments WHERE order_id = $1
	`
	p := &domain.Payment{}
	var reason, gatewayTxID sql.NullString
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.PaymentMethod, &p.Status, &reason, &gatewayTxID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	p.Reason = reason.String
	p.GatewayTxID = gatewayTxID.String
	return p, nil
}

func (r *paymentRepository) UpdateStatus(ctx context.Context, orderID string, status domain.PaymentStatus, reason, gatewayTxID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, reason = $2, gateway_tx_id = $3, updated_at = NOW() WHERE order_id = $4
	`, status, reason, gatewayTxID, orderID)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return nil
}

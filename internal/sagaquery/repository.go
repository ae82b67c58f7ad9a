package sagaquery

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SagaStatus는 orders 테이블의 한 행을 읽기 전용으로 비춘 것이다.
// sagaquery는 어느 참여자에게도 동기 호출을 걸지 않는다 — Order
// 참여자가 이미 커밋한 상태를 직접 읽을 뿐이다. 참여자 간 동기 호출
// 금지 규칙은 참여자 사이의 규칙이지, 읽기 전용 운영 도구에는 적용되지
// 않는다.
type SagaStatus struct {
	OrderID        string
	UserID         string
	ItemID         string
	Quantity       int
	TotalAmount    int64
	DiscountAmount int64
	FinalAmount    int64
	UserCouponID   string
	Status         string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StatusReader는 운영자 조회용 읽기 전용 경계다.
type StatusReader interface {
	FindSagaStatus(ctx context.Context, orderID string) (*SagaStatus, error)
}

type postgresStatusReader struct {
	db *sql.DB
}

// NewStatusReader는 order-service와 같은 물리 DB를 읽는 전용 커넥션 풀을
// 받는다(쓰기는 절대 하지 않는다).
func NewStatusReader(db *sql.DB) StatusReader {
	return &postgresStatusReader{db: db}
}

func (r *postgresStatusReader) FindSagaStatus(ctx context.Context, orderID string) (*SagaStatus, error) {
	s := &SagaStatus{}
	var userCouponID, failureReason sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, item_id, quantity, total_amount, discount_amount, final_amount,
			COALESCE(user_coupon_id, ''), status, COALESCE(failure_reason, ''), created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID).Scan(
		&s.OrderID, &s.UserID, &s.ItemID, &s.Quantity, &s.TotalAmount, &s.DiscountAmount, &s.FinalAmount,
		&userCouponID, &s.Status, &failureReason, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read saga status: %w", err)
	}
	s.UserCouponID = userCouponID.String
	s.FailureReason = failureReason.String
	return s, nil
}

package domain

import "time"

// OrderStatus 주문 상태
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusFailed     OrderStatus = "FAILED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Order 주문 도메인 모델. finalAmount == totalAmount - discountAmount는
// 항상 성립해야 하는 불변식이며, failureReason은 status==FAILED일 때만
// non-empty여야 한다.
//
// orders 테이블:
//
//	id               TEXT PRIMARY KEY
//	user_id          TEXT NOT NULL
//	item_id          TEXT NOT NULL
//	quantity         INT NOT NULL
//	total_amount     BIGINT NOT NULL
//	discount_amount  BIGINT NOT NULL DEFAULT 0
//	final_amount     BIGINT NOT NULL
//	user_coupon_id   TEXT
//	status           TEXT NOT NULL
//	failure_reason   TEXT
//	version          BIGINT NOT NULL DEFAULT 0
//	idempotency_key  TEXT UNIQUE
//	created_at       TIMESTAMPTZ NOT NULL
//	updated_at       TIMESTAMPTZ NOT NULL
type Order struct {
	ID             string
	UserID         string
	ItemID         string
	Quantity       int
	TotalAmount    int64
	DiscountAmount int64
	FinalAmount    int64
	UserCouponID   *string
	Status         OrderStatus
	FailureReason  *string
	Version        int64
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanTransitionTo 상태 전이 가능 여부 확인. 종결 상태(COMPLETED, FAILED,
// CANCELLED)는 sticky하고, FAILED는 PENDING/PROCESSING/CONFIRMED 어느
// 쪽에서든 도달 가능하다.
func (o *Order) CanTransitionTo(newStatus OrderStatus) bool {
	transitions := map[OrderStatus][]OrderStatus{
		OrderStatusPending: {
			OrderStatusProcessing,
			OrderStatusFailed,
			OrderStatusCancelled,
		},
		OrderStatusProcessing: {
			OrderStatusConfirmed,
			OrderStatusFailed,
		},
		OrderStatusConfirmed: {
			OrderStatusCompleted,
			OrderStatusFailed,
		},
	}

	allowed, exists := transitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo 상태 전이
func (o *Order) TransitionTo(newStatus OrderStatus) bool {
	if !o.CanTransitionTo(newStatus) {
		return false
	}
	o.Status = newStatus
	o.UpdatedAt = time.Now()
	return true
}

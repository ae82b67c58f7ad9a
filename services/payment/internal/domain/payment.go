package domain

import "time"

// PaymentStatus 결제 상태
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// Payment 결제 시도 한 건. 실제 게이트웨이 대신 설정된 성공 확률과 지연
// 분포를 갖는 시뮬레이션 호출로 대체되며, 같은 계약을 지키는 실제
// 게이트웨이로 교체 가능하다.
//
// payments 테이블:
//
//	id             BIGSERIAL PRIMARY KEY
//	order_id       TEXT NOT NULL UNIQUE
//	user_id        TEXT NOT NULL
//	amount         BIGINT NOT NULL
//	payment_method TEXT NOT NULL
//	status         TEXT NOT NULL
//	reason         TEXT
//	gateway_tx_id  TEXT
//	created_at     TIMESTAMPTZ NOT NULL
//	updated_at     TIMESTAMPTZ NOT NULL
type Payment struct {
	ID            int64
	OrderID       string
	UserID        string
	Amount        int64
	PaymentMethod string
	Status        PaymentStatus
	Reason        string
	GatewayTxID   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

package domain

import "time"

// Item 판매 가능한 품목. 재고(Stock)는 Item 참여자만 변경한다.
//
// items 테이블:
//
//	item_id   TEXT PRIMARY KEY
//	name      TEXT NOT NULL
//	price     BIGINT NOT NULL
//	stock     INT NOT NULL
//	is_active BOOLEAN NOT NULL DEFAULT true
type Item struct {
	ItemID   string
	Name     string
	Price    int64
	Stock    int
	IsActive bool
}

// ReservationStatus ItemReservation의 상태
type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// ItemReservation 재고 차감 한 건에 대한 영구 기록. RESERVED에서 벗어나는
// 전이는 정확히 한 번이며, CANCELLED/EXPIRED는 반드시 같은 로컬 트랜잭션
// 안에서 재고 증분을 동반한다.
//
// item_reservations 테이블:
//
//	reservation_id    BIGSERIAL PRIMARY KEY
//	order_id          TEXT NOT NULL
//	item_id           TEXT NOT NULL
//	user_id           TEXT NOT NULL
//	reserved_quantity INT NOT NULL
//	original_stock    INT NOT NULL
//	status            TEXT NOT NULL
//	reserved_at       TIMESTAMPTZ NOT NULL
//	expires_at        TIMESTAMPTZ NOT NULL
//	cancel_reason     TEXT
type ItemReservation struct {
	ReservationID    int64
	OrderID          string
	ItemID           string
	UserID           string
	ReservedQuantity int
	OriginalStock    int
	Status           ReservationStatus
	ReservedAt       time.Time
	ExpiresAt        time.Time
	CancelReason     *string
}

// IsTerminal은 예약이 더 이상 전이하지 않는 상태인지 여부를 반환한다.
func (r *ItemReservation) IsTerminal() bool {
	return r.Status != ReservationStatusReserved
}

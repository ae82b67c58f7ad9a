package domain

import "time"

// UserCoupon은 한 사용자에게 발급된 쿠폰 한 장이다. 쿠폰 검증 엔진(외부
// 협력자)을 흉내내되, 코어가 교환하는 두 이벤트 쌍의 계약만 지킨다.
type UserCoupon struct {
	UserCouponID    string
	UserID          string
	CouponID        string
	Name            string
	DiscountPercent int
	MinOrderAmount  int64
	IsActive        bool
	ExpiresAt       time.Time
	Used            bool
}

// PendingUsage는 COUPON_VALIDATED 시점에 기록되는 사용 예정 상태이며,
// 이후 ORDER_COMPLETED가 orderId만 싣고 userCouponId를 싣지 않는 wire
// 간극을 메우기 위해 orderId로 찾을 수 있도록 둔다.
type PendingUsage struct {
	OrderID      string
	UserCouponID string
	Confirmed    bool
	Cancelled    bool
}

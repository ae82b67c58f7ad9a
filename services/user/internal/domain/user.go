package domain

// User 사가의 잔액 보유자. balance는 User 참여자만, 자신의 행에 대한
// 배타적 행 잠금 아래에서만 변경한다.
//
// users 테이블:
//
//	user_id              TEXT PRIMARY KEY
//	username             TEXT NOT NULL
//	balance              BIGINT NOT NULL
//	is_active            BOOLEAN NOT NULL DEFAULT true
//	max_inventory_slots  INT NOT NULL
//	inventory_item_count INT NOT NULL DEFAULT 0
//	version              BIGINT NOT NULL DEFAULT 0
type User struct {
	UserID             string
	Username           string
	Balance            int64
	IsActive           bool
	MaxInventorySlots  int
	InventoryItemCount int // inventory.confirmed/rollback을 관찰해 맞추는 근사 미러 카운터. 권위있는 값은 Inventory 참여자가 보유한다.
	Version            int64
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kyungseok/purchase-saga/services/inventory/internal/domain"
)

// InventoryRepository는 user_inventory 테이블(확정된 인벤토리 행)에
// 대한 접근을 담당한다. 슬롯 예약 자체는 KV에만 존재한다.
type InventoryRepository interface {
	CountByUserID(ctx context.Context, userID string) (int, error)
	FindRowTx(ctx context.Context, tx *sql.Tx, userID, itemID string) (*domain.UserInventoryItem, error)
	UpsertTx(ctx context.Context, tx *sql.Tx, userID, itemID string, quantity int) error
}

type inventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository 인벤토리 레포지토리 생성
func NewInventoryRepository(db *sql.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_inventory WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count inventory rows: %w", err)
	}
	return count, nil
}

func (r *inventoryRepository) FindRowTx(ctx context.Context, tx *sql.Tx, userID, itemID string) (*domain.UserInventoryItem, error) {
	row := &domain.UserInventoryItem{}
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, item_id, quantity FROM user_inventory WHERE user_id = $1 AND item_id = $2 FOR UPDATE
	`, userID, itemID).Scan(&row.UserID, &row.ItemID, &row.Quantity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find inventory row: %w", err)
	}
	return row, nil
}

// UpsertTx는 확인 단계에서 존재하면 수량을 더하고 없으면 새로
// 삽입한다.
func (r *inventoryRepository) UpsertTx(ctx context.Context, tx *sql.Tx, userID, itemID string, quantity int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_inventory (user_id, item_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, item_id) DO UPDATE SET quantity = user_inventory.quantity + EXCLUDED.quantity
	`, userID, itemID, quantity)
	if err != nil {
		return fmt.Errorf("failed to upsert inventory row: %w", err)
	}
	return nil
}

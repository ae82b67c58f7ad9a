package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kyungseok/purchase-saga/services/item/internal/domain"
)

// ItemRepository는 items 테이블에 대한 접근을 담당한다. 재고 변경은
// 항상 FindForUpdate로 얻은 행 잠금 아래, 예약 기록 삽입과 같은
// 로컬 트랜잭션에서 이뤄진다.
type ItemRepository interface {
	FindByID(ctx context.Context, itemID string) (*domain.Item, error)
	FindForUpdate(ctx context.Context, tx *sql.Tx, itemID string) (*domain.Item, error)
	UpdateStockTx(ctx context.Context, tx *sql.Tx, itemID string, newStock int) error
}

type itemRepository struct {
	db *sql.DB
}

// NewItemRepository 품목 레포지토리 생성
func NewItemRepository(db *sql.DB) ItemRepository {
	return &itemRepository{db: db}
}

func (r *itemRepository) FindByID(ctx context.Context, itemID string) (*domain.Item, error) {
	query := `SELECT item_id, name, price, stock, is_active FROM items WHERE item_id = $1`
	item := &domain.Item{}
	err := r.db.QueryRowContext(ctx, query, itemID).Scan(
		&item.ItemID, &item.Name, &item.Price, &item.Stock, &item.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item not found: %s: %w", itemID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find item: %w", err)
	}
	return item, nil
}

func (r *itemRepository) FindForUpdate(ctx context.Context, tx *sql.Tx, itemID string) (*domain.Item, error) {
	query := `SELECT item_id, name, price, stock, is_active FROM items WHERE item_id = $1 FOR UPDATE`
	item := &domain.Item{}
	err := tx.QueryRowContext(ctx, query, itemID).Scan(
		&item.ItemID, &item.Name, &item.Price, &item.Stock, &item.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item not found: %s: %w", itemID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock item: %w", err)
	}
	return item, nil
}

func (r *itemRepository) UpdateStockTx(ctx context.Context, tx *sql.Tx, itemID string, newStock int) error {
	_, err := tx.ExecContext(ctx, `UPDATE items SET stock = $1 WHERE item_id = $2`, newStock, itemID)
	if err != nil {
		return fmt.Errorf("failed to update item stock: %w", err)
	}
	return nil
}

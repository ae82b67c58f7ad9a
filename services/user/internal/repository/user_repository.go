package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kyungseok/purchase-saga/services/user/internal/domain"
)

// UserRepository는 users 테이블에 대한 접근을 담당한다. 잔액 변경은
// 항상 FindForUpdate로 얻은 행 잠금 아래에서, 같은 로컬 트랜잭션
// 안에서 이뤄진다.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (*domain.User, error)
	FindForUpdate(ctx context.Context, tx *sql.Tx, userID string) (*domain.User, error)
	UpdateBalanceTx(ctx context.Context, tx *sql.Tx, userID string, newBalance int64) error
	AdjustInventoryCountTx(ctx context.Context, tx *sql.Tx, userID string, delta int) error
}

type userRepository struct {
	db *sql.DB
}

// NewUserRepository 사용자 레포지토리 생성
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, balance, is_active, max_inventory_slots, inventory_item_count, version
		FROM users WHERE user_id = $1
	`
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&u.UserID, &u.Username, &u.Balance, &u.IsActive, &u.MaxInventorySlots, &u.InventoryItemCount, &u.Version,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s: %w", userID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

func (r *userRepository) FindForUpdate(ctx context.Context, tx *sql.Tx, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, balance, is_active, max_inventory_slots, inventory_item_count, version
		FROM users WHERE user_id = $1 FOR UPDATE
	`
	u := &domain.User{}
	err := tx.QueryRowContext(ctx, query, userID).Scan(
		&u.UserID, &u.Username, &u.Balance, &u.IsActive, &u.MaxInventorySlots, &u.InventoryItemCount, &u.Version,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s: %w", userID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return u, nil
}

func (r *userRepository) UpdateBalanceTx(ctx context.Context, tx *sql.Tx, userID string, newBalance int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = $1, version = version + 1 WHERE user_id = $2
	`, newBalance, userID)
	if err != nil {
		return fmt.Errorf("failed to update user balance: %w", err)
	}
	return nil
}

// AdjustInventoryCountTx는 inventory.confirmed/inventory.rollback을
// 관찰해 로컬 미러 카운터를 맞춘다. 권위있는 값은 Inventory 참여자가
// 갖고, User는 자신의 트랜잭션 안에서 읽을 수 있는 근사치만 carry한다.
func (r *userRepository) AdjustInventoryCountTx(ctx context.Context, tx *sql.Tx, userID string, delta int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET inventory_item_count = GREATEST(inventory_item_count + $1, 0) WHERE user_id = $2
	`, delta, userID)
	if err != nil {
		return fmt.Errorf("failed to adjust inventory item count: %w", err)
	}
	return nil
}

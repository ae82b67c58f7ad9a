package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// UserSnapshot과 ItemSnapshot은 주문 생성 시 사용자/품목의 존재 여부를
// 동기적으로 확인하기 위한 최소 조회 결과다. 누락 시 호출자에게 바로
// 실패를 반환한다. 가격 외 잔액/재고 판단은 각자의 참여자가 비동기
// 단계에서 권위 있게 재검증한다.
type UserSnapshot struct {
	UserID   string
	IsActive bool
}

type ItemSnapshot struct {
	ItemID   string
	Name     string
	Price    int64
	IsActive bool
}

// CatalogReader는 User/Item 참여자의 테이블을 읽기 전용으로 들여다보는
// 동기 조회 경계다. Order 참여자는 이 경계 너머의 쓰기는 하지 않는다.
type CatalogReader interface {
	FindUser(ctx context.Context, userID string) (*UserSnapshot, error)
	FindItem(ctx context.Context, itemID string) (*ItemSnapshot, error)
}

type catalogReader struct {
	db *sql.DB
}

// NewCatalogReader는 공유된 연결 풀을 통해 users/items 테이블을 읽는다.
func NewCatalogReader(db *sql.DB) CatalogReader {
	return &catalogReader{db: db}
}

func (r *catalogReader) FindUser(ctx context.Context, userID string) (*UserSnapshot, error) {
	u := &UserSnapshot{}
	err := r.db.QueryRowContext(ctx, `SELECT user_id, is_active FROM users WHERE user_id = $1`, userID).Scan(&u.UserID, &u.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return u, nil
}

func (r *catalogReader) FindItem(ctx context.Context, itemID string) (*ItemSnapshot, error) {
	i := &ItemSnapshot{}
	err := r.db.QueryRowContext(ctx, `SELECT item_id, name, price, is_active FROM items WHERE item_id = $1`, itemID).Scan(&i.ItemID, &i.Name, &i.Price, &i.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up item: %w", err)
	}
	return i, nil
}

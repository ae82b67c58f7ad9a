package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kyungseok/purchase-saga/services/item/internal/domain"
)

// ReservationRepository는 ItemReservation의 영구 상태 수명주기를
// 관리한다. confirm/cancel/sweepExpired는 모두 재고 갱신과 같은 로컬
// 트랜잭션 안에서 호출되어야 "정확히 한 번" 불변식을 지킨다.
type ReservationRepository interface {
	CreateTx(ctx context.Context, tx *sql.Tx, r *domain.ItemReservation) error
	FindActiveByOrderID(ctx context.Context, orderID string) ([]*domain.ItemReservation, error)
	ConfirmTx(ctx context.Context, tx *sql.Tx, orderID string) (int64, error)
	CancelOneTx(ctx context.Context, tx *sql.Tx, reservationID int64, reason string) error
	SweepExpired(ctx context.Context, now time.Time, limit int) ([]*domain.ItemReservation, error)
	TransitionExpiredTx(ctx context.Context, tx *sql.Tx, reservationID int64) error
}

type reservationRepository struct {
	db *sql.DB
}

// NewReservationRepository 예약 레포지토리 생성
func NewReservationRepository(db *sql.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) CreateTx(ctx context.Context, tx *sql.Tx, res *domain.ItemReservation) error {
	query := `
		INSERT INTO item_reservations (order_id, item_id, user_id, reserved_quantity, original_stock, status, reserved_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING reservation_id
	`
	err := tx.QueryRowContext(ctx, query,
		res.OrderID, res.ItemID, res.UserID, res.ReservedQuantity, res.OriginalStock,
		domain.ReservationStatusReserved, res.ReservedAt, res.ExpiresAt,
	).Scan(&res.ReservationID)
	if err != nil {
		return fmt.Errorf("failed to create item reservation: %w", err)
	}
	return nil
}

func (r *reservationRepository) FindActiveByOrderID(ctx context.Context, orderID string) ([]*domain.ItemReservation, error) {
	query := `
		SELECT reservation_id, order_id, item_id, user_id, reserved_quantity, original_stock, status, reserved_at, expires_at
		FROM item_reservations
		WHERE order_id = $1 AND status = $2
	`
	rows, err := r.db.QueryContext(ctx, query, orderID, domain.ReservationStatusReserved)
	if err != nil {
		return nil, fmt.Errorf("failed to find active reservations: %w", err)
	}
	defer rows.Close()

	var out []*domain.ItemReservation
	for rows.Next() {
		res := &domain.ItemReservation{}
		if err := rows.Scan(&res.ReservationID, &res.OrderID, &res.ItemID, &res.UserID,
			&res.ReservedQuantity, &res.OriginalStock, &res.Status, &res.ReservedAt, &res.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan item reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ConfirmTx는 orderId에 속한 모든 RESERVED 행을 CONFIRMED로 전이한다.
// 이미 CONFIRMED/CANCELLED/EXPIRED인 행은 건드리지 않으므로 재적용해도
// 안전하다(idempotent).
func (r *reservationRepository) ConfirmTx(ctx context.Context, tx *sql.Tx, orderID string) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE item_reservations SET status = $1
		WHERE order_id = $2 AND status = $3
	`, domain.ReservationStatusConfirmed, orderID, domain.ReservationStatusReserved)
	if err != nil {
		return 0, fmt.Errorf("failed to confirm item reservations: %w", err)
	}
	return result.RowsAffected()
}

func (r *reservationRepository) CancelOneTx(ctx context.Context, tx *sql.Tx, reservationID int64, reason string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE item_reservations SET status = $1, cancel_reason = $2
		WHERE reservation_id = $3 AND status = $4
	`, domain.ReservationStatusCancelled, reason, reservationID, domain.ReservationStatusReserved)
	if err != nil {
		return fmt.Errorf("failed to cancel item reservation: %w", err)
	}
	return nil
}

// SweepExpired는 만료된 RESERVED 행을 읽기만 한다; 상태 전이와 재고
// 복구는 호출자가 TransitionExpiredTx를 통해 행 단위 트랜잭션에서
// 수행한다.
func (r *reservationRepository) SweepExpired(ctx context.Context, now time.Time, limit int) ([]*domain.ItemReservation, error) {
	query := `
		SELECT reservation_id, order_id, item_id, user_id, reserved_quantity, original_stock, status, reserved_at, expires_at
		FROM item_reservations
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, domain.ReservationStatusReserved, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep expired reservations: %w", err)
	}
	defer rows.Close()

	var out []*domain.ItemReservation
	for rows.Next() {
		res := &domain.ItemReservation{}
		if err := rows.Scan(&res.ReservationID, &res.OrderID, &res.ItemID, &res.UserID,
			&res.ReservedQuantity, &res.OriginalStock, &res.Status, &res.ReservedAt, &res.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan expired reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *reservationRepository) TransitionExpiredTx(ctx context.Context, tx *sql.Tx, reservationID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE item_reservations SET status = $1
		WHERE reservation_id = $2 AND status = $3
	`, domain.ReservationStatusExpired, reservationID, domain.ReservationStatusReserved)
	if err != nil {
		return fmt.Errorf("failed to expire item reservation: %w", err)
	}
	return nil
}

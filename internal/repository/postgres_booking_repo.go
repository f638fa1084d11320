package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/calman/internal/model"
)

// PostgresBookingRepo はPostgreSQLを使用した予約リポジトリ。
// 予約テーブルは本体プロダクトが所有し、ここからは読み取りのみを行う。
type PostgresBookingRepo struct {
	db *sql.DB
}

// NewPostgresBookingRepo はPostgresBookingRepoを生成する。
func NewPostgresBookingRepo(db *sql.DB) *PostgresBookingRepo {
	return &PostgresBookingRepo{db: db}
}

// ListByUserAndRange は指定ユーザーの確定予約のうち [from, to) と重なるものを返す。
// キャンセル済みの予約は含まない。
func (r *PostgresBookingRepo) ListByUserAndRange(ctx context.Context, userID string, from, to time.Time) ([]*model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, starts_at, ends_at, status, created_at
		 FROM bookings
		 WHERE user_id = $1 AND status = 'confirmed'
		   AND starts_at < $3 AND ends_at > $2
		 ORDER BY starts_at`,
		userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		booking := &model.Booking{}
		if err := rows.Scan(
			&booking.ID, &booking.UserID, &booking.StartsAt, &booking.EndsAt,
			&booking.Status, &booking.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("予約のスキャンに失敗しました: %w", err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("予約一覧の走査に失敗しました: %w", err)
	}
	return bookings, nil
}

// compile-time interface check
var _ BookingRepository = (*PostgresBookingRepo)(nil)

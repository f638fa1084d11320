package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/calman/internal/model"
)

// PostgresWorkingHoursRepo はPostgreSQLを使用した勤務時間リポジトリ。
type PostgresWorkingHoursRepo struct {
	db *sql.DB
}

// NewPostgresWorkingHoursRepo はPostgresWorkingHoursRepoを生成する。
func NewPostgresWorkingHoursRepo(db *sql.DB) *PostgresWorkingHoursRepo {
	return &PostgresWorkingHoursRepo{db: db}
}

// FindByUserAndWeekday は指定ユーザー・曜日の勤務時間を取得する。
// 設定がない場合はnilを返す（その曜日は勤務しない）。
func (r *PostgresWorkingHoursRepo) FindByUserAndWeekday(ctx context.Context, userID string, weekday time.Weekday) (*model.WorkingHours, error) {
	hours := &model.WorkingHours{}
	var weekdayInt int

	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, weekday, start_minute, end_minute
		 FROM working_hours WHERE user_id = $1 AND weekday = $2`,
		userID, int(weekday),
	).Scan(&hours.UserID, &weekdayInt, &hours.StartMinute, &hours.EndMinute)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("勤務時間の取得に失敗しました: %w", err)
	}

	hours.Weekday = time.Weekday(weekdayInt)
	return hours, nil
}

// compile-time interface check
var _ WorkingHoursRepository = (*PostgresWorkingHoursRepo)(nil)

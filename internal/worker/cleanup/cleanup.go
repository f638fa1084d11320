// Package cleanup は終了済みイベントの自動削除ジョブを提供する。
// 保持期間（デフォルト90日）より前に終了したローカルミラーのイベントを
// 日次バッチで削除する。空き時間計算は未来の時間帯しか参照しないため、
// 過去のイベントは保持期間を過ぎたら安全に削除できる。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventDeleter は終了済みイベントの削除インターフェース。
type EventDeleter interface {
	// DeleteEndedBefore は終了時刻がcutoffより前のイベントを削除し、削除件数を返す。
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CleanupJob は保持期間を超過したイベントの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	events        EventDeleter
	logger        *slog.Logger
	RetentionDays int // イベントの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は90日。
func NewCleanupJob(events EventDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		events:        events,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Run は保持期間を超過したイベントを削除する。
// ends_atがRetentionDays日前より古いイベントをDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.events.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("イベントクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("イベントクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("イベントクリーンアップジョブが完了しました",
		slog.Int("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

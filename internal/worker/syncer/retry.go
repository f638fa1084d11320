package syncer

import (
	"time"

	"github.com/hitoshi/calman/internal/model"
)

const (
	// initialBackoff は同期リトライの初回遅延（1秒）。
	initialBackoff = 1 * time.Second
	// maxBackoff は同期リトライの最大遅延（30秒）。
	maxBackoff = 30 * time.Second
)

// CalculateBackoff はリトライ回数に基づいて指数バックオフ遅延を計算する。
// 初回1秒、2倍ずつ増加、最大30秒。
func CalculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// RetryDelay はリトライまでの待機時間を決定する。
// ベンダーがRetry-Afterを指定している場合はバックオフよりも優先する。
func RetryDelay(err error, attempt int) time.Duration {
	delay := CalculateBackoff(attempt)
	if retryAfter := model.RetryAfterOf(err); retryAfter > delay {
		return retryAfter
	}
	return delay
}

// FailureReason はエラーをメトリクス用の失敗理由ラベルに分類する。
func FailureReason(err error) string {
	switch {
	case model.IsAuthError(err):
		return "auth"
	case model.IsTransientError(err):
		return "transient"
	default:
		return "internal"
	}
}

// NeedsFullResync は定期フル再同期が必要かを判定する。
// 増分同期だけでは削除の取りこぼしが蓄積しうるため、
// 最後のフル同期からinterval以上経過した接続は強制的にベースライン取得し直す。
func NeedsFullResync(conn *model.Connection, interval time.Duration, now time.Time) bool {
	if conn.SyncCursor == "" {
		return true
	}
	if conn.LastFullSyncAt == nil {
		return true
	}
	return now.Sub(*conn.LastFullSyncAt) >= interval
}

// ApplySyncSuccess は同期パス成功時の接続状態を適用する。
// カーソルをコミットし、エラー情報をクリアする。
func ApplySyncSuccess(conn *model.Connection, cursor string, fullResync bool, now time.Time) {
	conn.SyncCursor = cursor
	conn.Status = model.ConnectionStatusActive
	conn.LastError = ""
	conn.LastSyncedAt = &now
	if fullResync {
		conn.LastFullSyncAt = &now
	}
	conn.UpdatedAt = now
}

// ApplyAuthFailure は認証失敗時の接続状態を適用する。
// ユーザーによる再接続が必要なため、statusをerrorに落とす。
// カーソルは保持し、再接続後は増分同期から再開できるようにする。
func ApplyAuthFailure(conn *model.Connection, reason string, now time.Time) {
	conn.Status = model.ConnectionStatusError
	conn.LastError = reason
	conn.UpdatedAt = now
}

// ApplyTransientFailure は一時的な失敗時の接続状態を適用する。
// statusはactiveのまま維持し、次のスケジューリングパスで再試行される。
// カーソルはコミットしない（再実行しても差分フィードは冪等）。
func ApplyTransientFailure(conn *model.Connection, reason string, now time.Time) {
	conn.LastError = reason
	conn.UpdatedAt = now
}

package syncer

import (
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/calman/internal/model"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"初回は1秒", 0, 1 * time.Second},
		{"2回目は2秒", 1, 2 * time.Second},
		{"3回目は4秒", 2, 4 * time.Second},
		{"6回目は最大値の30秒", 5, 30 * time.Second},
		{"以降も最大値で頭打ち", 10, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateBackoff(tt.attempt); got != tt.want {
				t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryDelay_RetryAfter優先(t *testing.T) {
	err := &model.TransientError{Reason: "rate limited", RetryAfter: 10 * time.Second}

	// バックオフ(1秒)よりRetry-After(10秒)が長ければそちらを使う
	if got := RetryDelay(err, 0); got != 10*time.Second {
		t.Errorf("RetryDelay() = %v, want 10s", got)
	}

	// バックオフの方が長ければバックオフに従う
	short := &model.TransientError{Reason: "rate limited", RetryAfter: 1 * time.Second}
	if got := RetryDelay(short, 3); got != 8*time.Second {
		t.Errorf("RetryDelay() = %v, want 8s", got)
	}

	// Retry-Afterのないエラーは純粋なバックオフ
	if got := RetryDelay(errors.New("boom"), 1); got != 2*time.Second {
		t.Errorf("RetryDelay() = %v, want 2s", got)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"認証エラー", &model.AuthError{Reason: "invalid_grant"}, "auth"},
		{"一時エラー", &model.TransientError{Reason: "503"}, "transient"},
		{"その他", errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureReason(tt.err); got != tt.want {
				t.Errorf("FailureReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNeedsFullResync(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	interval := 24 * time.Hour
	recent := now.Add(-1 * time.Hour)
	stale := now.Add(-25 * time.Hour)

	tests := []struct {
		name string
		conn *model.Connection
		want bool
	}{
		{
			name: "カーソルが空ならフル",
			conn: &model.Connection{SyncCursor: "", LastFullSyncAt: &recent},
			want: true,
		},
		{
			name: "フル同期の記録がなければフル",
			conn: &model.Connection{SyncCursor: "cur-1"},
			want: true,
		},
		{
			name: "最後のフル同期が新しければ増分",
			conn: &model.Connection{SyncCursor: "cur-1", LastFullSyncAt: &recent},
			want: false,
		},
		{
			name: "最後のフル同期が古ければフル",
			conn: &model.Connection{SyncCursor: "cur-1", LastFullSyncAt: &stale},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsFullResync(tt.conn, interval, now); got != tt.want {
				t.Errorf("NeedsFullResync() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplySyncSuccess(t *testing.T) {
	now := time.Now()
	conn := &model.Connection{
		SyncCursor: "cur-old",
		Status:     model.ConnectionStatusError,
		LastError:  "前回のエラー",
	}

	ApplySyncSuccess(conn, "cur-new", true, now)

	if conn.SyncCursor != "cur-new" {
		t.Errorf("SyncCursor = %q, want %q", conn.SyncCursor, "cur-new")
	}
	if conn.Status != model.ConnectionStatusActive {
		t.Errorf("Status = %q, want active", conn.Status)
	}
	if conn.LastError != "" {
		t.Errorf("LastErrorはクリアされるべき: %q", conn.LastError)
	}
	if conn.LastSyncedAt == nil || !conn.LastSyncedAt.Equal(now) {
		t.Errorf("LastSyncedAt = %v, want %v", conn.LastSyncedAt, now)
	}
	if conn.LastFullSyncAt == nil || !conn.LastFullSyncAt.Equal(now) {
		t.Errorf("フル再同期時はLastFullSyncAtも更新されるべき")
	}
}

func TestApplySyncSuccess_増分同期はLastFullSyncAtを更新しない(t *testing.T) {
	now := time.Now()
	conn := &model.Connection{SyncCursor: "cur-old"}

	ApplySyncSuccess(conn, "cur-new", false, now)

	if conn.LastFullSyncAt != nil {
		t.Errorf("増分同期ではLastFullSyncAt = %v, want nil", conn.LastFullSyncAt)
	}
}

func TestApplyAuthFailure(t *testing.T) {
	now := time.Now()
	conn := &model.Connection{
		SyncCursor: "cur-1",
		Status:     model.ConnectionStatusActive,
	}

	ApplyAuthFailure(conn, "invalid_grant", now)

	if conn.Status != model.ConnectionStatusError {
		t.Errorf("Status = %q, want error", conn.Status)
	}
	if conn.LastError != "invalid_grant" {
		t.Errorf("LastError = %q", conn.LastError)
	}
	// 再接続後に増分同期から再開できるようカーソルは保持する
	if conn.SyncCursor != "cur-1" {
		t.Errorf("SyncCursor = %q, want cur-1", conn.SyncCursor)
	}
}

func TestApplyTransientFailure(t *testing.T) {
	now := time.Now()
	conn := &model.Connection{
		SyncCursor: "cur-1",
		Status:     model.ConnectionStatusActive,
	}

	ApplyTransientFailure(conn, "503 service unavailable", now)

	if conn.Status != model.ConnectionStatusActive {
		t.Errorf("一時エラーではStatus = %q, want active", conn.Status)
	}
	if conn.LastError != "503 service unavailable" {
		t.Errorf("LastError = %q", conn.LastError)
	}
	if conn.SyncCursor != "cur-1" {
		t.Errorf("一時エラーではカーソルはコミットされないべき")
	}
}

// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"time"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, sync, availability, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidDate         = "INVALID_DATE"
	ErrCodeInvalidTimezone     = "INVALID_TIMEZONE"
	ErrCodeInvalidDuration     = "INVALID_DURATION"
	ErrCodeNoCandidates        = "NO_CANDIDATES"
	ErrCodeConnectionNotFound  = "CONNECTION_NOT_FOUND"
	ErrCodeReconnectRequired   = "RECONNECT_REQUIRED"
	ErrCodeSlotConflict        = "SLOT_CONFLICT"
	ErrCodeSyncInProgress      = "SYNC_IN_PROGRESS"
)

// NewInvalidDateError は日付形式エラーを生成する。
func NewInvalidDateError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("日付の形式が不正です: %s", date),
		Category: "validation",
		Action:   "日付はYYYY-MM-DD形式で指定してください。",
	}
}

// NewInvalidTimezoneError はタイムゾーンエラーを生成する。
func NewInvalidTimezoneError(tz string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimezone,
		Message:  fmt.Sprintf("不明なタイムゾーンです: %s", tz),
		Category: "validation",
		Action:   "IANAタイムゾーン名（例: Asia/Tokyo）を指定してください。",
	}
}

// NewInvalidDurationError は所要時間エラーを生成する。
func NewInvalidDurationError(minutes int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDuration,
		Message:  fmt.Sprintf("無効な所要時間です: %d分", minutes),
		Category: "validation",
		Action:   "所要時間は5分から480分の範囲で指定してください。",
	}
}

// NewNoCandidatesError は候補者未指定エラーを生成する。
func NewNoCandidatesError() *APIError {
	return &APIError{
		Code:     ErrCodeNoCandidates,
		Message:  "候補者が指定されていません。",
		Category: "validation",
		Action:   "user_idsに1人以上の候補者を指定してください。",
	}
}

// NewConnectionNotFoundError は接続未検出エラーを生成する。
func NewConnectionNotFoundError(connectionID string) *APIError {
	return &APIError{
		Code:     ErrCodeConnectionNotFound,
		Message:  fmt.Sprintf("指定された接続が見つかりません: %s", connectionID),
		Category: "sync",
		Action:   "接続IDを確認してください。",
	}
}

// NewReconnectRequiredError は再接続要求エラーを生成する。
func NewReconnectRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeReconnectRequired,
		Message:  "外部カレンダーの認証が失効しています。",
		Category: "auth",
		Action:   "カレンダー連携を再接続してください。",
	}
}

// NewSyncInProgressError は同期実行中エラーを生成する。
func NewSyncInProgressError(connectionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSyncInProgress,
		Message:  fmt.Sprintf("接続 %s の同期は既に実行中です。", connectionID),
		Category: "sync",
		Action:   "実行中の同期が完了してから再度お試しください。",
	}
}

// NewSlotConflictError は枠競合エラーを生成する。
func NewSlotConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeSlotConflict,
		Message:  "指定された時間枠は既に埋まっています。",
		Category: "availability",
		Action:   "空き時間を再検索してください。",
	}
}

// --- 同期コアのエラー分類 ---

// AuthError は認証情報の無効・失効を表す。自動リトライしない。
type AuthError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	return fmt.Sprintf("認証エラー: %s", e.Reason)
}

// TransientError はネットワーク障害やレート制限など一時的な失敗を表す。
// RetryAfterはベンダーが提示した再試行までの待機時間（0の場合は未指定）。
type TransientError struct {
	Reason     string
	RetryAfter time.Duration
}

// Error はerrorインターフェースを実装する。
func (e *TransientError) Error() string {
	return fmt.Sprintf("一時的エラー: %s", e.Reason)
}

// DataError はパース不能なリモートレコードを表す。
// 該当レコードのみスキップし、パス全体は継続する。
type DataError struct {
	ExternalID string
	Reason     string
}

// Error はerrorインターフェースを実装する。
func (e *DataError) Error() string {
	return fmt.Sprintf("データエラー (external_id=%s): %s", e.ExternalID, e.Reason)
}

// ErrCursorInvalid はベンダー側で増分カーソルが失効したことを表す。
// 該当接続のみフル再同期をトリガーする。
var ErrCursorInvalid = errors.New("同期カーソルが失効しました")

// ErrSlotConflict は空き枠が計算後に別の予約で消費されたことを表す。
var ErrSlotConflict = errors.New("時間枠は既に埋まっています")

// IsAuthError はerrがAuthErrorかを判定する。
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTransientError はerrがTransientErrorかを判定する。
func IsTransientError(err error) bool {
	var transientErr *TransientError
	return errors.As(err, &transientErr)
}

// RetryAfterOf はTransientErrorが保持する待機時間を返す。該当しない場合は0。
func RetryAfterOf(err error) time.Duration {
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return transientErr.RetryAfter
	}
	return 0
}

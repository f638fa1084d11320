// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/calman/internal/model"
)

// ConnectionRepository はカレンダー接続の永続化インターフェース。
type ConnectionRepository interface {
	// FindByID は指定IDの接続を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Connection, error)

	// ListActive は同期対象（status = 'active'）の接続一覧を返す。
	ListActive(ctx context.Context) ([]*model.Connection, error)

	// Create は接続を作成する。
	Create(ctx context.Context, conn *model.Connection) error

	// UpdateSyncState は同期パス完了後の状態を更新する。
	// sync_cursor、status、last_synced_at、last_full_sync_at、last_errorを更新する。
	UpdateSyncState(ctx context.Context, conn *model.Connection) error

	// UpdateStatus は接続の状態とエラーメッセージのみを更新する。
	UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus, lastError string) error

	// DeleteByID は指定IDの接続を削除する。
	// 関連するevents、credentialsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// EventRepository はローカルイベントミラーの永続化インターフェース。
// 接続ごとのパーティションはその接続の同期パスだけが変更する。
type EventRepository interface {
	// ListByConnection は接続の全イベントをexternal_idをキーとしたマップで返す。
	// 同期エンジンの差分計算で使用する。
	ListByConnection(ctx context.Context, connectionID string) (map[string]*model.Event, error)

	// ListBusyByUserAndRange は指定ユーザーの接続に属するbusy=trueのイベントのうち、
	// [from, to) と重なるものを返す。
	ListBusyByUserAndRange(ctx context.Context, userID string, from, to time.Time) ([]*model.Event, error)

	// Create は新規イベントを作成する。
	Create(ctx context.Context, event *model.Event) error

	// Update は既存イベントを上書き更新する。
	Update(ctx context.Context, event *model.Event) error

	// DeleteByExternalIDs は接続内の指定external_idのイベントを削除し、削除件数を返す。
	DeleteByExternalIDs(ctx context.Context, connectionID string, externalIDs []string) (int, error)

	// DeleteByConnection は接続の全イベントを削除する。
	DeleteByConnection(ctx context.Context, connectionID string) error

	// DeleteEndedBefore は終了時刻がcutoffより前のイベントを削除し、削除件数を返す。
	// クリーンアップジョブで使用する。
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CredentialRepository は接続ごとのOAuth認証情報の永続化インターフェース。
// トークンは暗号化された状態で出し入れされる。
type CredentialRepository interface {
	// FindByConnection は指定接続の認証情報を取得する。見つからない場合はnilを返す。
	FindByConnection(ctx context.Context, connectionID string) (*model.Credential, error)

	// Save は認証情報を冪等にUPSERTする。
	Save(ctx context.Context, cred *model.Credential) error

	// DeleteByConnection は指定接続の認証情報を削除する。
	DeleteByConnection(ctx context.Context, connectionID string) error
}

// BookingRepository は確定予約の読み取りインターフェース。
// 予約の作成・更新は本体プロダクトの責務であり、このコアは読み取りのみを行う。
type BookingRepository interface {
	// ListByUserAndRange は指定ユーザーの確定予約のうち [from, to) と重なるものを返す。
	ListByUserAndRange(ctx context.Context, userID string, from, to time.Time) ([]*model.Booking, error)
}

// WorkingHoursRepository は勤務時間テンプレートの読み取りインターフェース。
type WorkingHoursRepository interface {
	// FindByUserAndWeekday は指定ユーザー・曜日の勤務時間を取得する。
	// 設定がない（その曜日は勤務しない）場合はnilを返す。
	FindByUserAndWeekday(ctx context.Context, userID string, weekday time.Weekday) (*model.WorkingHours, error)
}

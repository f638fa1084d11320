// Package model はドメインモデルを定義する。
package model

import "time"

// Connection はユーザーと外部カレンダーアカウントの接続を表す。
// 1接続 = 1ユーザーの1外部カレンダーアカウント。
type Connection struct {
	ID             string
	UserID         string
	Vendor         Vendor
	SyncCursor     string // ベンダー発行の不透明な同期カーソル。空文字はフルフェッチを意味する。
	Status         ConnectionStatus
	LastSyncedAt   *time.Time
	LastFullSyncAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Vendor は外部カレンダーのベンダー種別を表す。
type Vendor string

const (
	// VendorGoogle はGoogle Calendarを表す。
	VendorGoogle Vendor = "google"
	// VendorCalDAV はCalDAV準拠サーバー（iCloud等）を表す。
	VendorCalDAV Vendor = "caldav"
)

// ConnectionStatus は接続の状態を表す。
type ConnectionStatus string

const (
	// ConnectionStatusActive は同期対象のアクティブな接続。
	ConnectionStatusActive ConnectionStatus = "active"
	// ConnectionStatusError は認証エラー等により再接続が必要な状態。
	ConnectionStatusError ConnectionStatus = "error"
	// ConnectionStatusDisabled はユーザー操作により無効化された状態。
	ConnectionStatusDisabled ConnectionStatus = "disabled"
)

// Credential は接続ごとのOAuth認証情報を表す。
// AccessTokenとRefreshTokenは暗号化された状態で永続化され、
// 復号はリモート呼び出しの間だけメモリ上で行われる。
type Credential struct {
	ConnectionID          string
	AccessTokenEncrypted  []byte
	RefreshTokenEncrypted []byte
	ExpiresAt             time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

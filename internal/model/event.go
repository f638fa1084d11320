// Package model はドメインモデルを定義する。
package model

import "time"

// Event は外部カレンダーから同期したイベントのローカルミラーを表す。
// (ConnectionID, ExternalID) が一意。作成・更新・削除は同期エンジンのみが行う。
type Event struct {
	ID           string
	ConnectionID string
	ExternalID   string
	Title        string // サニタイズ済み
	StartsAt     time.Time // UTC
	EndsAt       time.Time // UTC
	Busy         bool
	Etag         string // 差分判定用の変更トークン
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RemoteEvent はプロバイダーから取得した未保存のイベントデータを表す。
// プロバイダークライアントがパースした後、同期エンジンの差分計算に渡される。
type RemoteEvent struct {
	ExternalID string
	Title      string // 未サニタイズ
	StartsAt   time.Time
	EndsAt     time.Time
	Busy       bool
	Etag       string
	Deleted    bool // 増分フィードが明示する削除マーカー
}

// EventPage はプロバイダーからの1回のリスト取得結果を表す。
// CursorValid=false はベンダー側で同期カーソルが失効したことを示し、
// 呼び出し側にフル再同期を要求する。
type EventPage struct {
	Events      []RemoteEvent
	NextCursor  string
	CursorValid bool
	Skipped     int // パース不能でスキップしたレコード数
}

// Booking は本体プロダクトが作成した確定予約を表す。
// このコアからは読み取り専用で、空き時間計算の追加ビジー区間として参照する。
type Booking struct {
	ID        string
	UserID    string
	StartsAt  time.Time
	EndsAt    time.Time
	Status    BookingStatus
	CreatedAt time.Time
}

// BookingStatus は予約の状態を表す。
type BookingStatus string

const (
	// BookingStatusConfirmed は確定済みの予約。
	BookingStatusConfirmed BookingStatus = "confirmed"
	// BookingStatusCancelled はキャンセルされた予約。ビジー区間として扱わない。
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Package provider は外部カレンダーベンダーへのアクセスを抽象化する。
// ベンダーごとのページネーションやカーソルの癖はこのパッケージ内に閉じ込め、
// 同期エンジンには共通のClientインターフェースだけを見せる。
package provider

import (
	"context"
	"fmt"

	"github.com/hitoshi/calman/internal/model"
)

// Client はベンダー共通のカレンダー操作インターフェース。
// 実装はベンダーごとに1つ（tagged-variant）。
type Client interface {
	// ListEvents はcursor以降のリモートイベントを全ページ取得して返す。
	// cursorが空文字の場合はフルフェッチ（ベースライン取得）を行う。
	// ベンダー側でカーソルが失効していた場合はCursorValid=falseを返し、
	// 呼び出し側にフル再同期を要求する。
	// レート制限はmodel.TransientError（RetryAfter付き）として返す。
	ListEvents(ctx context.Context, token, cursor string) (*model.EventPage, error)

	// CreateEvent はリモートカレンダーにイベントを作成し、外部IDを返す。
	CreateEvent(ctx context.Context, token string, event *model.RemoteEvent) (string, error)

	// UpdateEvent はリモートカレンダーの既存イベントを更新する。
	UpdateEvent(ctx context.Context, token string, event *model.RemoteEvent) error

	// DeleteEvent はリモートカレンダーのイベントを削除する。
	DeleteEvent(ctx context.Context, token, externalID string) error
}

// Registry はベンダー種別からClientを解決する。
type Registry struct {
	clients map[model.Vendor]Client
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{clients: make(map[model.Vendor]Client)}
}

// Register はベンダーのClient実装を登録する。
func (r *Registry) Register(vendor model.Vendor, client Client) {
	r.clients[vendor] = client
}

// Resolve はベンダーのClient実装を返す。未登録の場合はエラーを返す。
func (r *Registry) Resolve(vendor model.Vendor) (Client, error) {
	client, ok := r.clients[vendor]
	if !ok {
		return nil, fmt.Errorf("未対応のベンダーです: %s", vendor)
	}
	return client, nil
}

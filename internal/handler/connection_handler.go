package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/calman/internal/model"
)

// ConnectionServiceInterface は接続ハンドラーが必要とするサービスインターフェース。
type ConnectionServiceInterface interface {
	// Get は指定IDの接続を取得する。
	Get(ctx context.Context, id string) (*model.Connection, error)
	// Disconnect は接続を切断し、関連データを削除する。
	Disconnect(ctx context.Context, id string) error
}

// ConnectionHandler は接続管理のHTTPハンドラー。
type ConnectionHandler struct {
	service ConnectionServiceInterface
}

// NewConnectionHandler はConnectionHandlerを生成する。
func NewConnectionHandler(service ConnectionServiceInterface) *ConnectionHandler {
	return &ConnectionHandler{
		service: service,
	}
}

// connectionResponse は接続情報のAPIレスポンス。
// 同期カーソルや認証情報は含めない。
type connectionResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Vendor         string     `json:"vendor"`
	Status         string     `json:"status"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	LastFullSyncAt *time.Time `json:"last_full_sync_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// GetConnection は接続詳細を取得する。
// GET /api/connections/{id}
func (h *ConnectionHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "id")

	conn, err := h.service.Get(r.Context(), connectionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toConnectionResponse(conn))
}

// Disconnect は接続の切断を処理する。
// DELETE /api/connections/{id}
func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "id")

	if err := h.service.Disconnect(r.Context(), connectionID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toConnectionResponse はmodel.ConnectionからAPIレスポンスに変換する。
func toConnectionResponse(conn *model.Connection) connectionResponse {
	return connectionResponse{
		ID:             conn.ID,
		UserID:         conn.UserID,
		Vendor:         string(conn.Vendor),
		Status:         string(conn.Status),
		LastSyncedAt:   conn.LastSyncedAt,
		LastFullSyncAt: conn.LastFullSyncAt,
		LastError:      conn.LastError,
		CreatedAt:      conn.CreatedAt,
	}
}

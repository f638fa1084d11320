package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/worker/syncer"
)

// SyncTriggerInterface は同期ハンドラーが必要とするスケジューラーインターフェース。
type SyncTriggerInterface interface {
	// TriggerSync は指定接続の同期を即時実行する。
	TriggerSync(ctx context.Context, conn *model.Connection) (model.SyncResult, error)
	// RunOnce は全アクティブ接続のスケジューリングパスを1回実行する。
	RunOnce(ctx context.Context) (model.SyncSummary, error)
}

// ConnectionFinder は接続IDから接続を解決するインターフェース。
type ConnectionFinder interface {
	// Get は指定IDの接続を取得する。見つからない場合はAPIErrorを返す。
	Get(ctx context.Context, id string) (*model.Connection, error)
}

// SyncHandler は手動同期トリガーのHTTPハンドラー。
type SyncHandler struct {
	scheduler   SyncTriggerInterface
	connections ConnectionFinder
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(scheduler SyncTriggerInterface, connections ConnectionFinder) *SyncHandler {
	return &SyncHandler{
		scheduler:   scheduler,
		connections: connections,
	}
}

// syncResultResponse は同期結果のAPIレスポンス。
type syncResultResponse struct {
	ConnectionID string `json:"connection_id"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Deleted      int    `json:"deleted"`
	Skipped      int    `json:"skipped"`
	FullResync   bool   `json:"full_resync"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// syncSummaryResponse はスケジューリングパス集計のAPIレスポンス。
type syncSummaryResponse struct {
	Attempted  int     `json:"attempted"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Created    int     `json:"created"`
	Updated    int     `json:"updated"`
	Deleted    int     `json:"deleted"`
	DurationMs float64 `json:"duration_ms"`
}

// TriggerSync は指定接続の手動同期を処理する。
// POST /api/sync/connections/{id}
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "id")

	conn, err := h.connections.Get(r.Context(), connectionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.scheduler.TriggerSync(r.Context(), conn)
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			writeAPIErrorResponse(w, http.StatusConflict, model.NewSyncInProgressError(connectionID))
			return
		}
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSyncResultResponse(result))
}

// RunOnce は全アクティブ接続のスケジューリングパスを処理する。
// POST /api/sync/run
func (h *SyncHandler) RunOnce(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.RunOnce(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(syncSummaryResponse{
		Attempted:  summary.Attempted,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		Created:    summary.Created,
		Updated:    summary.Updated,
		Deleted:    summary.Deleted,
		DurationMs: float64(summary.Duration.Milliseconds()),
	})
}

// toSyncResultResponse はmodel.SyncResultからAPIレスポンスに変換する。
func toSyncResultResponse(result model.SyncResult) syncResultResponse {
	resp := syncResultResponse{
		ConnectionID: result.ConnectionID,
		Created:      result.Created,
		Updated:      result.Updated,
		Deleted:      result.Deleted,
		Skipped:      result.Skipped,
		FullResync:   result.FullResync,
		Success:      result.Success,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp
}

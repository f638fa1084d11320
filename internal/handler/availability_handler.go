package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/calman/internal/model"
)

// AvailabilityServiceInterface は空き時間ハンドラーが必要とするサービスインターフェース。
type AvailabilityServiceInterface interface {
	// FindSlots は指定日・所要時間・候補者の空き枠を計算する。
	FindSlots(ctx context.Context, req model.AvailabilityRequest) (*model.SlotList, error)
	// ConfirmSlot は予約確定直前の最終競合チェックを行う。
	ConfirmSlot(ctx context.Context, userID string, startsAt, endsAt time.Time) error
}

// AvailabilityHandler は空き時間計算のHTTPハンドラー。
type AvailabilityHandler struct {
	service AvailabilityServiceInterface
}

// NewAvailabilityHandler はAvailabilityHandlerを生成する。
func NewAvailabilityHandler(service AvailabilityServiceInterface) *AvailabilityHandler {
	return &AvailabilityHandler{
		service: service,
	}
}

// availabilityRequest は空き時間計算リクエストのボディ。
type availabilityRequest struct {
	Date            string   `json:"date"`
	DurationMinutes int      `json:"duration_minutes"`
	Timezone        string   `json:"timezone"`
	UserIDs         []string `json:"user_ids"`
	AgentID         string   `json:"agent_id,omitempty"`
}

// slotResponse は空き枠1件のAPIレスポンス。
type slotResponse struct {
	UserID   string    `json:"user_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// slotListResponse は空き時間計算結果のAPIレスポンス。
type slotListResponse struct {
	Slots   []slotResponse `json:"slots"`
	Count   int            `json:"count"`
	Summary string         `json:"summary"`
}

// confirmSlotRequest は枠確定リクエストのボディ。
type confirmSlotRequest struct {
	UserID   string    `json:"user_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// FindSlots は空き時間計算を処理する。
// POST /api/availability
func (h *AvailabilityHandler) FindSlots(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	list, err := h.service.FindSlots(r.Context(), model.AvailabilityRequest{
		Date:            req.Date,
		DurationMinutes: req.DurationMinutes,
		Timezone:        req.Timezone,
		UserIDs:         req.UserIDs,
		AgentID:         req.AgentID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSlotListResponse(list))
}

// ConfirmSlot は枠確定直前の競合チェックを処理する。
// POST /api/availability/confirm
func (h *AvailabilityHandler) ConfirmSlot(w http.ResponseWriter, r *http.Request) {
	var req confirmSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if req.UserID == "" || req.StartsAt.IsZero() || req.EndsAt.IsZero() {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "user_id、starts_at、ends_atは必須です。",
			Category: "validation",
			Action:   "必須フィールドを指定してください。",
		})
		return
	}

	err := h.service.ConfirmSlot(r.Context(), req.UserID, req.StartsAt, req.EndsAt)
	if err != nil {
		if errors.Is(err, model.ErrSlotConflict) {
			writeAPIErrorResponse(w, http.StatusConflict, model.NewSlotConflictError())
			return
		}
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"available": true})
}

// --- ヘルパー関数 ---

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidDate, model.ErrCodeInvalidTimezone,
		model.ErrCodeInvalidDuration, model.ErrCodeNoCandidates:
		return http.StatusBadRequest
	case model.ErrCodeConnectionNotFound:
		return http.StatusNotFound
	case model.ErrCodeReconnectRequired:
		return http.StatusUnauthorized
	case model.ErrCodeSlotConflict, model.ErrCodeSyncInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// toSlotListResponse はmodel.SlotListからAPIレスポンスに変換する。
func toSlotListResponse(list *model.SlotList) slotListResponse {
	slots := make([]slotResponse, 0, len(list.Slots))
	for _, s := range list.Slots {
		slots = append(slots, slotResponse{
			UserID:   s.UserID,
			StartsAt: s.StartsAt,
			EndsAt:   s.EndsAt,
		})
	}
	return slotListResponse{
		Slots:   slots,
		Count:   list.Count,
		Summary: list.Summary,
	}
}

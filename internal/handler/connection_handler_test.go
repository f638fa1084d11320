package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/calman/internal/model"
)

// mockConnectionService はConnectionServiceInterfaceのモック実装。
type mockConnectionService struct {
	getFn        func(ctx context.Context, id string) (*model.Connection, error)
	disconnectFn func(ctx context.Context, id string) error
}

func (m *mockConnectionService) Get(ctx context.Context, id string) (*model.Connection, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewConnectionNotFoundError(id)
}

func (m *mockConnectionService) Disconnect(ctx context.Context, id string) error {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, id)
	}
	return nil
}

// --- GET /api/connections/{id} テスト ---

func TestConnectionHandler_GetConnection_Success(t *testing.T) {
	syncedAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	svc := &mockConnectionService{
		getFn: func(ctx context.Context, id string) (*model.Connection, error) {
			return &model.Connection{
				ID:           id,
				UserID:       "user-1",
				Vendor:       model.VendorCalDAV,
				SyncCursor:   "opaque-cursor", // レスポンスに含まれないこと
				Status:       model.ConnectionStatusActive,
				LastSyncedAt: &syncedAt,
			}, nil
		},
	}

	h := NewConnectionHandler(svc)

	req := chiRequest(http.MethodGet, "/api/connections/conn-1", "id", "conn-1")
	w := httptest.NewRecorder()

	h.GetConnection(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if got["id"] != "conn-1" || got["vendor"] != "caldav" || got["status"] != "active" {
		t.Errorf("response = %+v", got)
	}
	// 同期カーソルは内部状態なので公開しない
	if _, exists := got["sync_cursor"]; exists {
		t.Error("sync_cursorはレスポンスに含めるべきではない")
	}
}

func TestConnectionHandler_GetConnection_NotFound_Returns404(t *testing.T) {
	h := NewConnectionHandler(&mockConnectionService{})

	req := chiRequest(http.MethodGet, "/api/connections/missing", "id", "missing")
	w := httptest.NewRecorder()

	h.GetConnection(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	var got apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if got.Code != model.ErrCodeConnectionNotFound {
		t.Errorf("code = %q, want %q", got.Code, model.ErrCodeConnectionNotFound)
	}
}

// --- DELETE /api/connections/{id} テスト ---

func TestConnectionHandler_Disconnect_Returns204(t *testing.T) {
	var disconnectedID string
	svc := &mockConnectionService{
		disconnectFn: func(ctx context.Context, id string) error {
			disconnectedID = id
			return nil
		},
	}

	h := NewConnectionHandler(svc)

	req := chiRequest(http.MethodDelete, "/api/connections/conn-1", "id", "conn-1")
	w := httptest.NewRecorder()

	h.Disconnect(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if disconnectedID != "conn-1" {
		t.Errorf("disconnected ID = %q, want conn-1", disconnectedID)
	}
}

func TestConnectionHandler_Disconnect_NotFound_Returns404(t *testing.T) {
	svc := &mockConnectionService{
		disconnectFn: func(ctx context.Context, id string) error {
			return model.NewConnectionNotFoundError(id)
		},
	}

	h := NewConnectionHandler(svc)

	req := chiRequest(http.MethodDelete, "/api/connections/missing", "id", "missing")
	w := httptest.NewRecorder()

	h.Disconnect(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

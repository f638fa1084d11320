package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/hitoshi/calman/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestGoogleClient はAPIの向き先をテストサーバーに差し替えたClientを返す。
func newTestGoogleClient(serverURL string) *GoogleClient {
	client := NewGoogleClient(testLogger(), 30*24*time.Hour)
	client.endpoint = serverURL + "/"
	return client
}

func TestGoogleClient_ListEvents_差分取得(t *testing.T) {
	var gotSyncToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSyncToken = r.URL.Query().Get("syncToken")
		json.NewEncoder(w).Encode(&calendar.Events{
			Items: []*calendar.Event{
				{
					Id:      "ev-1",
					Summary: "定例会議",
					Status:  "confirmed",
					Start:   &calendar.EventDateTime{DateTime: "2026-09-01T10:00:00Z"},
					End:     &calendar.EventDateTime{DateTime: "2026-09-01T11:00:00Z"},
				},
				{
					Id:     "ev-2",
					Status: "cancelled",
				},
			},
			NextSyncToken: "token-next",
		})
	}))
	defer server.Close()

	page, err := newTestGoogleClient(server.URL).ListEvents(context.Background(), "access-token", "token-prev")
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}

	if gotSyncToken != "token-prev" {
		t.Errorf("syncToken = %q, want %q", gotSyncToken, "token-prev")
	}
	if !page.CursorValid {
		t.Error("CursorValid = false, want true")
	}
	if page.NextCursor != "token-next" {
		t.Errorf("NextCursor = %q, want %q", page.NextCursor, "token-next")
	}
	if len(page.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(page.Events))
	}
	if page.Events[0].ExternalID != "ev-1" || page.Events[0].Title != "定例会議" {
		t.Errorf("Events[0] = %+v", page.Events[0])
	}
	if !page.Events[1].Deleted {
		t.Error("cancelledイベントはDeleted=trueになるべき")
	}
}

func TestGoogleClient_ListEvents_ページネーション(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		resp := &calendar.Events{
			Items: []*calendar.Event{{
				Id:     "ev-" + r.URL.Query().Get("pageToken"),
				Status: "confirmed",
				Start:  &calendar.EventDateTime{DateTime: "2026-09-01T10:00:00Z"},
				End:    &calendar.EventDateTime{DateTime: "2026-09-01T11:00:00Z"},
			}},
		}
		if requests == 1 {
			resp.NextPageToken = "page2"
		} else {
			resp.NextSyncToken = "token-final"
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	page, err := newTestGoogleClient(server.URL).ListEvents(context.Background(), "access-token", "")
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if requests != 2 {
		t.Errorf("リクエスト数 = %d, want 2", requests)
	}
	if len(page.Events) != 2 {
		t.Errorf("len(Events) = %d, want 2", len(page.Events))
	}
	if page.NextCursor != "token-final" {
		t.Errorf("NextCursor = %q, want %q", page.NextCursor, "token-final")
	}
}

func TestGoogleClient_ListEvents_カーソル失効(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		w.Write([]byte(`{"error": {"code": 410, "message": "Sync token is no longer valid"}}`))
	}))
	defer server.Close()

	page, err := newTestGoogleClient(server.URL).ListEvents(context.Background(), "access-token", "stale-token")
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if page.CursorValid {
		t.Error("410応答ではCursorValid=falseになるべき")
	}
}

func TestGoogleClient_ListEvents_レート制限(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"code": 429, "message": "Rate limit exceeded"}}`))
	}))
	defer server.Close()

	_, err := newTestGoogleClient(server.URL).ListEvents(context.Background(), "access-token", "")
	if !model.IsTransientError(err) {
		t.Fatalf("429応答はTransientErrorになるべき: %v", err)
	}
	if got := model.RetryAfterOf(err); got != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", got)
	}
}

func TestGoogleClient_ListEvents_403のクォータ超過は一時エラー(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "13")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"code": 403, "message": "Rate Limit Exceeded",
			"errors": [{"domain": "usageLimits", "reason": "rateLimitExceeded", "message": "Rate Limit Exceeded"}]}}`))
	}))
	defer server.Close()

	_, err := newTestGoogleClient(server.URL).ListEvents(context.Background(), "access-token", "")
	// 403でもクォータ超過は認可エラーではなく、接続をactiveのまま再試行させる
	if model.IsAuthError(err) {
		t.Fatalf("クォータ超過の403がAuthErrorになっている: %v", err)
	}
	if !model.IsTransientError(err) {
		t.Fatalf("クォータ超過の403はTransientErrorになるべき: %v", err)
	}
	if got := model.RetryAfterOf(err); got != 13*time.Second {
		t.Errorf("RetryAfter = %v, want 13s", got)
	}
}

func TestGoogleClient_ListEvents_403の権限不足は認可エラー(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"code": 403, "message": "Insufficient Permission",
			"errors": [{"domain": "global", "reason": "insufficientPermissions", "message": "Insufficient Permission"}]}}`))
	}))
	defer server.Close()

	_, err := newTestGoogleClient(server.URL).ListEvents(context.Background(), "access-token", "")
	if !model.IsAuthError(err) {
		t.Fatalf("権限不足の403はAuthErrorになるべき: %v", err)
	}
}

func TestGoogleClient_ListEvents_認可エラー(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"code": 401, "message": "Invalid Credentials"}}`))
	}))
	defer server.Close()

	_, err := newTestGoogleClient(server.URL).ListEvents(context.Background(), "bad-token", "")
	if !model.IsAuthError(err) {
		t.Fatalf("401応答はAuthErrorになるべき: %v", err)
	}
}

func TestGoogleClient_toRemoteEvent(t *testing.T) {
	client := NewGoogleClient(testLogger(), time.Hour)

	tests := []struct {
		name     string
		item     *calendar.Event
		wantOK   bool
		wantBusy bool
	}{
		{
			name: "通常イベント",
			item: &calendar.Event{
				Id:    "a",
				Start: &calendar.EventDateTime{DateTime: "2026-09-01T10:00:00Z"},
				End:   &calendar.EventDateTime{DateTime: "2026-09-01T11:00:00Z"},
			},
			wantOK:   true,
			wantBusy: true,
		},
		{
			name: "transparentは空き扱い",
			item: &calendar.Event{
				Id:           "b",
				Transparency: "transparent",
				Start:        &calendar.EventDateTime{DateTime: "2026-09-01T10:00:00Z"},
				End:          &calendar.EventDateTime{DateTime: "2026-09-01T11:00:00Z"},
			},
			wantOK:   true,
			wantBusy: false,
		},
		{
			name: "終日イベント",
			item: &calendar.Event{
				Id:    "c",
				Start: &calendar.EventDateTime{Date: "2026-09-01"},
				End:   &calendar.EventDateTime{Date: "2026-09-02"},
			},
			wantOK:   true,
			wantBusy: true,
		},
		{
			name:   "時刻のないイベントはスキップ",
			item:   &calendar.Event{Id: "d"},
			wantOK: false,
		},
		{
			name: "開始と終了が逆転したイベントはスキップ",
			item: &calendar.Event{
				Id:    "e",
				Start: &calendar.EventDateTime{DateTime: "2026-09-01T11:00:00Z"},
				End:   &calendar.EventDateTime{DateTime: "2026-09-01T10:00:00Z"},
			},
			wantOK: false,
		},
		{
			name:   "ID欠落はスキップ",
			item:   &calendar.Event{},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote, ok := client.toRemoteEvent(tt.item)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && remote.Busy != tt.wantBusy {
				t.Errorf("Busy = %v, want %v", remote.Busy, tt.wantBusy)
			}
		})
	}
}

func TestRetryAfterOfHeader(t *testing.T) {
	header := http.Header{}
	if got := retryAfterOfHeader(header); got != 0 {
		t.Errorf("ヘッダーなし: got %v, want 0", got)
	}

	header.Set("Retry-After", "30")
	if got := retryAfterOfHeader(header); got != 30*time.Second {
		t.Errorf("秒数形式: got %v, want 30s", got)
	}

	header.Set("Retry-After", "invalid")
	if got := retryAfterOfHeader(header); got != 0 {
		t.Errorf("不正な値: got %v, want 0", got)
	}

	header.Set("Retry-After", time.Now().Add(time.Minute).UTC().Format(http.TimeFormat))
	if got := retryAfterOfHeader(header); got <= 0 || got > time.Minute {
		t.Errorf("HTTP日付形式: got %v", got)
	}
}

func TestGoogleClient_mapError_非APIエラー(t *testing.T) {
	client := NewGoogleClient(testLogger(), time.Hour)
	err := client.mapError(errors.New("connection refused"))
	if !model.IsTransientError(err) {
		t.Errorf("ネットワークエラーはTransientErrorになるべき: %v", err)
	}
}

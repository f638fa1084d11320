package provider

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"github.com/hitoshi/calman/internal/security"
)

func newTestCalDAVClient(t *testing.T, endpoint string) *CalDAVClient {
	t.Helper()
	client, err := NewCalDAVClient(testLogger(), security.NewSSRFGuard(), endpoint, 30*24*time.Hour, 10*time.Second)
	if err != nil {
		t.Fatalf("NewCalDAVClient() error = %v", err)
	}
	return client
}

func TestNewCalDAVClient_危険なエンドポイントを拒否(t *testing.T) {
	guard := security.NewSSRFGuard()
	dangerous := []string{
		"http://169.254.169.254/caldav/",
		"http://localhost/caldav/",
		"ftp://caldav.example.com/",
		"",
	}
	for _, endpoint := range dangerous {
		if _, err := NewCalDAVClient(testLogger(), guard, endpoint, time.Hour, time.Second); err == nil {
			t.Errorf("エンドポイント %q は拒否されるべき", endpoint)
		}
	}
}

func TestAuthTransport_認証ヘッダー(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	tests := []struct {
		name       string
		token      string
		wantPrefix string
	}{
		{"コロン付きはBasic認証", "user@example.com:app-password", "Basic "},
		{"コロンなしはBearer", "opaque-access-token", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &http.Client{Transport: &authTransport{token: tt.token, transport: http.DefaultTransport}}
			resp, err := client.Get(server.URL)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			resp.Body.Close()
			if len(gotAuth) < len(tt.wantPrefix) || gotAuth[:len(tt.wantPrefix)] != tt.wantPrefix {
				t.Errorf("Authorization = %q, want prefix %q", gotAuth, tt.wantPrefix)
			}
		})
	}
}

func newVEvent(uid string, props map[string]string, start, end time.Time) ical.Event {
	comp := ical.NewComponent(ical.CompEvent)
	if uid != "" {
		comp.Props.SetText(ical.PropUID, uid)
	}
	for name, value := range props {
		comp.Props.SetText(name, value)
	}
	if !start.IsZero() {
		comp.Props.SetDateTime(ical.PropDateTimeStart, start)
	}
	if !end.IsZero() {
		comp.Props.SetDateTime(ical.PropDateTimeEnd, end)
	}
	return ical.Event{Component: comp}
}

func TestToRemoteFromVEvent(t *testing.T) {
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	t.Run("通常イベント", func(t *testing.T) {
		vevent := newVEvent("uid-1", map[string]string{ical.PropSummary: "打ち合わせ"}, start, end)
		remote, ok := toRemoteFromVEvent(vevent, `"etag-1"`)
		if !ok {
			t.Fatal("変換に成功するべき")
		}
		if remote.ExternalID != "uid-1" || remote.Title != "打ち合わせ" {
			t.Errorf("remote = %+v", remote)
		}
		if !remote.Busy {
			t.Error("TRANSP未指定はBusy=trueになるべき")
		}
		if !remote.StartsAt.Equal(start) || !remote.EndsAt.Equal(end) {
			t.Errorf("時刻 = %v - %v", remote.StartsAt, remote.EndsAt)
		}
	})

	t.Run("TRANSPARENTは空き扱い", func(t *testing.T) {
		vevent := newVEvent("uid-2", map[string]string{ical.PropTransparency: "TRANSPARENT"}, start, end)
		remote, ok := toRemoteFromVEvent(vevent, "")
		if !ok || remote.Busy {
			t.Errorf("ok = %v, Busy = %v", ok, remote.Busy)
		}
	})

	t.Run("CANCELLEDは削除扱い", func(t *testing.T) {
		vevent := newVEvent("uid-3", map[string]string{ical.PropStatus: "CANCELLED"}, time.Time{}, time.Time{})
		remote, ok := toRemoteFromVEvent(vevent, "")
		if !ok || !remote.Deleted {
			t.Errorf("ok = %v, Deleted = %v", ok, remote.Deleted)
		}
	})

	t.Run("UID欠落はスキップ", func(t *testing.T) {
		vevent := newVEvent("", nil, start, end)
		if _, ok := toRemoteFromVEvent(vevent, ""); ok {
			t.Error("UIDのないイベントはスキップされるべき")
		}
	})

	t.Run("時刻欠落はスキップ", func(t *testing.T) {
		vevent := newVEvent("uid-4", nil, time.Time{}, time.Time{})
		if _, ok := toRemoteFromVEvent(vevent, ""); ok {
			t.Error("時刻のないイベントはスキップされるべき")
		}
	})
}

func TestCalDAVClient_eventPath(t *testing.T) {
	client := newTestCalDAVClient(t, "https://caldav.example.com/")

	got := client.eventPath("https://caldav.example.com/calendars/user/home/", "uid-1")
	want := "calendars/user/home/uid-1.ics"
	if got != want {
		t.Errorf("eventPath() = %q, want %q", got, want)
	}

	// 相対パスで返ってくるサーバーの場合
	got = client.eventPath("/calendars/user/home/", "uid-2")
	want = "/calendars/user/home/uid-2.ics"
	if got != want {
		t.Errorf("eventPath() = %q, want %q", got, want)
	}
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue はレジストリから指定メトリクスのカウンタ値を合計して返す。
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("%s metric not found", name)
	return 0
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordSyncSuccess_IncrementsCounter は同期成功カウンタが増加することを検証する。
func TestRecordSyncSuccess_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSyncSuccess("google")
	c.RecordSyncSuccess("google")

	if val := counterValue(t, reg, "calman_sync_success_total"); val != 2 {
		t.Errorf("sync_success_total = %v, want 2", val)
	}
}

// TestRecordSyncFailure_IncrementsCounter は同期失敗カウンタが理由別に増加することを検証する。
func TestRecordSyncFailure_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSyncFailure("caldav", "auth")
	c.RecordSyncFailure("caldav", "transient")

	if val := counterValue(t, reg, "calman_sync_fail_total"); val != 2 {
		t.Errorf("sync_fail_total = %v, want 2", val)
	}
}

// TestRecordFullResync_IncrementsCounter はフル再同期カウンタが増加することを検証する。
func TestRecordFullResync_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFullResync("google")

	if val := counterValue(t, reg, "calman_full_resync_total"); val != 1 {
		t.Errorf("full_resync_total = %v, want 1", val)
	}
}

// TestRecordEventsApplied_AddsPerOperation は操作種別ごとにイベント数が加算されることを検証する。
func TestRecordEventsApplied_AddsPerOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEventsApplied(3, 2, 1)

	if val := counterValue(t, reg, "calman_events_applied_total"); val != 6 {
		t.Errorf("events_applied_total = %v, want 6", val)
	}
}

// TestRecordTokenRefresh_CountsPerResult はリフレッシュ結果ごとにカウントされることを検証する。
func TestRecordTokenRefresh_CountsPerResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokenRefresh(true)
	c.RecordTokenRefresh(false)
	c.RecordTokenRefresh(false)

	if val := counterValue(t, reg, "calman_token_refresh_total"); val != 3 {
		t.Errorf("token_refresh_total = %v, want 3", val)
	}
}

// TestRecordSyncLatency_ObservesHistogram はレイテンシヒストグラムが記録されることを検証する。
func TestRecordSyncLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSyncLatency(150 * time.Millisecond)
	c.RecordAvailabilityLatency(20 * time.Millisecond)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range metrics {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"calman_sync_latency_seconds", "calman_availability_latency_seconds"} {
		if !names[want] {
			t.Errorf("%s metric not found", want)
		}
	}
}

// TestHandler_ServesPrometheusFormat は/metricsハンドラーがスクレイプ可能な形式を返すことを検証する。
func TestHandler_ServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSyncSuccess("google")

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "calman_sync_success_total") {
		t.Error("scrape output should contain calman_sync_success_total")
	}
}

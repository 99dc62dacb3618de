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

// TestCollector_RecordAndServe はメトリクスの記録と/metrics応答を検証する。
func TestCollector_RecordAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCheckSuccess("feed")
	c.RecordCheckFailure("page", "transient_fetch")
	c.RecordCheckLatency(120 * time.Millisecond)
	c.RecordItemsDelivered(3)
	c.RecordSourceDisabled()
	c.RecordFingerprintsPruned(42)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	wantMetrics := []string{
		`feedbot_check_success_total{kind="feed"} 1`,
		`feedbot_check_fail_total{error_kind="transient_fetch",kind="page"} 1`,
		"feedbot_check_latency_seconds_count 1",
		"feedbot_items_delivered_total 3",
		"feedbot_sources_disabled_total 1",
		"feedbot_fingerprints_pruned_total 42",
	}
	for _, want := range wantMetrics {
		if !strings.Contains(bodyStr, want) {
			t.Errorf("response should contain %q", want)
		}
	}
}

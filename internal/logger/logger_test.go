package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func parseLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログ出力が有効なJSONではありません: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestSetup_EmitsJSONWithStandardFields(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("check_completed", slog.String("source_id", "src-1"))

	entry := parseLogEntry(t, &buf)
	if entry["msg"] != "check_completed" {
		t.Errorf("msg = %q, want %q", entry["msg"], "check_completed")
	}
	if entry["source_id"] != "src-1" {
		t.Errorf("source_id = %q, want %q", entry["source_id"], "src-1")
	}
	if _, ok := entry["time"]; !ok {
		t.Error("time field missing from log entry")
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %q, want %q", entry["level"], "INFO")
	}
}

func TestSetup_CheckCycleAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("check_completed",
		slog.String("source_id", "src-42"),
		slog.String("url", "https://example.com/index.xml"),
		slog.Int("http_status", 200),
		slog.Int("new_items", 3),
		slog.Int("sent", 6),
	)

	entry := parseLogEntry(t, &buf)
	if entry["source_id"] != "src-42" {
		t.Errorf("source_id = %q, want %q", entry["source_id"], "src-42")
	}
	if entry["url"] != "https://example.com/index.xml" {
		t.Errorf("url = %q, want %q", entry["url"], "https://example.com/index.xml")
	}
	if entry["http_status"] != float64(200) {
		t.Errorf("http_status = %v, want %v", entry["http_status"], 200)
	}
	if entry["new_items"] != float64(3) {
		t.Errorf("new_items = %v, want %v", entry["new_items"], 3)
	}
	if entry["sent"] != float64(6) {
		t.Errorf("sent = %v, want %v", entry["sent"], 6)
	}
}

func TestSetup_DebugSuppressedAtDefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Debug("noise")
	if buf.Len() != 0 {
		t.Errorf("debug log emitted at default level: %s", buf.String())
	}
}

func TestSetup_LevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("info log emitted at warn level: %s", buf.String())
	}

	l.Warn("source_unhealthy")
	entry := parseLogEntry(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want %q", entry["level"], "WARN")
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupDefault(&buf)

	slog.Default().Info("scheduler_tick", slog.Int("due_sources", 2))

	entry := parseLogEntry(t, &buf)
	if entry["msg"] != "scheduler_tick" {
		t.Errorf("msg = %q, want %q", entry["msg"], "scheduler_tick")
	}
	if entry["due_sources"] != float64(2) {
		t.Errorf("due_sources = %v, want %v", entry["due_sources"], 2)
	}
}

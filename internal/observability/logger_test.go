package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "JSON")
	logger.Info("dropped")
	logger.Warn("kept", "user_id", "u1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if rec["msg"] != "kept" || rec["user_id"] != "u1" {
		t.Fatalf("record = %v", rec)
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "debug", "").Debug("hello", "op", "add_message")
	if out := buf.String(); !strings.Contains(out, "msg=hello") || !strings.Contains(out, "op=add_message") {
		t.Fatalf("text output = %q", out)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("add_message", "ok", 0)
	m.ObserveCacheLookup(true)
	m.ObservePersistFailure("add_message")
	m.ObserveExpired(3)
	m.SetCachedUsers(1)
	m.ObserveWSMessage("in", "add_message")
	if snap := m.SnapshotLatency(); len(snap.Operations) != 0 {
		t.Fatalf("SnapshotLatency() = %+v, want empty", snap)
	}
}

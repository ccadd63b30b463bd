package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaobai0824/model-api/internal/config"
	"github.com/shaobai0824/model-api/internal/memory"
	"github.com/shaobai0824/model-api/internal/observability"
	"github.com/shaobai0824/model-api/internal/service"
)

var metricsSeq atomic.Int64

// newTestServer registers metrics under a fresh namespace: promauto uses the
// default registry and panics on duplicates.
func newTestServer(t *testing.T, backend memory.Backend) *httptest.Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.MemoryBackend = "inmemory"

	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d_%d", time.Now().UnixNano(), metricsSeq.Add(1)))
	store := memory.NewStore(backend, memory.Config{MaxMessagesPerUser: 5, MaxContextMessages: 3, ExpireDays: 30})
	svc := service.New(store, service.Options{Metrics: metrics})
	srv := New(cfg, svc, metrics, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal() error = %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer res.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode %s %s response: %v", method, url, err)
	}
	return res.StatusCode, payload
}

func TestMemoryHTTPFlow(t *testing.T) {
	ts := newTestServer(t, memory.NewInMemoryBackend())

	for i := 0; i < 7; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		status, payload := doJSON(t, http.MethodPost, ts.URL+"/v1/memory/messages", map[string]string{
			"user_id": "u1", "role": role, "content": fmt.Sprintf("m%d", i),
		})
		if status != http.StatusOK || payload["success"] != true {
			t.Fatalf("add message status = %d payload = %v", status, payload)
		}
	}

	status, payload := doJSON(t, http.MethodPut, ts.URL+"/v1/memory/users/u1/preferences/language", map[string]string{"value": "formal"})
	if status != http.StatusOK {
		t.Fatalf("set preference status = %d payload = %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodGet, ts.URL+"/v1/memory/users/u1/context", nil)
	if status != http.StatusOK {
		t.Fatalf("context status = %d payload = %v", status, payload)
	}
	msgs, _ := payload["context"].([]any)
	if len(msgs) != 4 || payload["message_count"] != float64(4) {
		t.Fatalf("context = %v, want system + 3 messages", payload)
	}
	first := msgs[0].(map[string]any)
	last := msgs[3].(map[string]any)
	if first["role"] != "system" || !strings.Contains(first["content"].(string), "formal") || last["content"] != "m6" {
		t.Fatalf("context entries = %v", msgs)
	}

	status, payload = doJSON(t, http.MethodGet, ts.URL+"/v1/memory/users/u1/context?include_system_prompt=false", nil)
	if msgs, _ := payload["context"].([]any); status != http.StatusOK || len(msgs) != 3 {
		t.Fatalf("context without prompt status = %d payload = %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodGet, ts.URL+"/v1/memory/users/u1/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}
	stats := payload["stats"].(map[string]any)
	if stats["total_messages"] != float64(7) || stats["current_session_messages"] != float64(5) {
		t.Fatalf("stats = %v", stats)
	}

	status, payload = doJSON(t, http.MethodGet, ts.URL+"/v1/memory/users", nil)
	if status != http.StatusOK || payload["user_count"] != float64(1) {
		t.Fatalf("list users status = %d payload = %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodPost, ts.URL+"/v1/memory/cleanup", nil)
	if status != http.StatusOK || payload["expired_count"] != float64(0) {
		t.Fatalf("cleanup status = %d payload = %v", status, payload)
	}

	status, _ = doJSON(t, http.MethodDelete, ts.URL+"/v1/memory/users/u1", nil)
	if status != http.StatusOK {
		t.Fatalf("clear status = %d", status)
	}
	_, payload = doJSON(t, http.MethodGet, ts.URL+"/v1/memory/users/u1/stats", nil)
	if stats := payload["stats"].(map[string]any); stats["total_messages"] != float64(0) {
		t.Fatalf("stats after clear = %v", stats)
	}
}

func TestMemoryHTTPEscapedUserID(t *testing.T) {
	ts := newTestServer(t, memory.NewInMemoryBackend())
	const userID = "team/alice bob"
	escaped := "team%2Falice%20bob"

	status, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/memory/messages", map[string]any{
		"user_id": userID, "role": "user", "content": "hello",
	})
	if status != http.StatusOK {
		t.Fatalf("add status = %d", status)
	}
	status, _ = doJSON(t, http.MethodPut, ts.URL+"/v1/memory/users/"+escaped+"/preferences/language", map[string]any{"value": "casual"})
	if status != http.StatusOK {
		t.Fatalf("set preference status = %d", status)
	}

	status, payload := doJSON(t, http.MethodGet, ts.URL+"/v1/memory/users/"+escaped+"/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}
	stats, _ := payload["stats"].(map[string]any)
	if stats["user_id"] != userID || stats["total_messages"] != float64(1) {
		t.Fatalf("stats = %v, want the body's user with one message", stats)
	}
	prefs, _ := stats["preferences"].(map[string]any)
	if prefs["language"] != "casual" {
		t.Fatalf("preferences = %v", prefs)
	}

	_, payload = doJSON(t, http.MethodGet, ts.URL+"/v1/memory/users", nil)
	if payload["user_count"] != float64(1) {
		t.Fatalf("users = %v, want a single user", payload)
	}
}

func TestMemoryHTTPValidation(t *testing.T) {
	ts := newTestServer(t, memory.NewInMemoryBackend())

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   string
	}{
		{"missing user", http.MethodPost, "/v1/memory/messages", map[string]string{"role": "user", "content": "hi"}, "invalid_user_id"},
		{"bad role", http.MethodPost, "/v1/memory/messages", map[string]string{"user_id": "u1", "role": "robot", "content": "hi"}, "invalid_role"},
		{"empty content", http.MethodPost, "/v1/memory/messages", map[string]string{"user_id": "u1", "role": "user"}, "invalid_content"},
		{"empty body", http.MethodPost, "/v1/memory/messages", nil, "invalid_request"},
		{"bad prompt flag", http.MethodGet, "/v1/memory/users/u1/context?include_system_prompt=maybe", nil, "invalid_request"},
		{"blank user", http.MethodGet, "/v1/memory/users/%20/stats", nil, "invalid_user_id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := doJSON(t, tc.method, ts.URL+tc.path, tc.body)
			if status != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (payload %v)", status, payload)
			}
			if payload["code"] != tc.code {
				t.Fatalf("code = %v, want %s", payload["code"], tc.code)
			}
		})
	}
}

type failingBackend struct {
	*memory.InMemoryBackend
}

func (failingBackend) Save(context.Context, memory.UserMemory) error {
	return errors.New("disk full")
}

func (failingBackend) ListUsers(context.Context) ([]string, error) {
	return nil, errors.New("disk gone")
}

func TestMemoryHTTPPersistenceFailure(t *testing.T) {
	ts := newTestServer(t, failingBackend{memory.NewInMemoryBackend()})

	status, payload := doJSON(t, http.MethodPost, ts.URL+"/v1/memory/messages", map[string]string{
		"user_id": "u1", "role": "user", "content": "hi",
	})
	if status != http.StatusInternalServerError || payload["code"] != "persistence_failed" {
		t.Fatalf("status = %d payload = %v, want 500 persistence_failed", status, payload)
	}
	if strings.Contains(fmt.Sprint(payload["error"]), "disk full") {
		t.Fatalf("internal cause leaked to client: %v", payload)
	}

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/readyz", nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", status)
	}
}

func TestHealthReportsBackendAndLimits(t *testing.T) {
	ts := newTestServer(t, memory.NewInMemoryBackend())

	for _, path := range []string{"/healthz", "/readyz"} {
		status, payload := doJSON(t, http.MethodGet, ts.URL+path, nil)
		if status != http.StatusOK {
			t.Fatalf("%s status = %d", path, status)
		}
		if payload["backend"] != "inmemory" || payload["max_messages_per_user"] != float64(5) || payload["max_context_messages"] != float64(3) {
			t.Fatalf("%s payload = %v", path, payload)
		}
	}
}

func TestPerfLatency(t *testing.T) {
	ts := newTestServer(t, memory.NewInMemoryBackend())
	doJSON(t, http.MethodGet, ts.URL+"/v1/memory/users/u1/stats", nil)

	status, payload := doJSON(t, http.MethodGet, ts.URL+"/v1/memory/perf", nil)
	if status != http.StatusOK {
		t.Fatalf("perf status = %d", status)
	}
	ops, _ := payload["operations"].([]any)
	if len(ops) != 1 || ops[0].(map[string]any)["operation"] != service.OpGetStats {
		t.Fatalf("perf operations = %v", payload["operations"])
	}
}

func TestMemoryWebSocket(t *testing.T) {
	ts := newTestServer(t, memory.NewInMemoryBackend())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/memory/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	roundTrip := func(req string) map[string]any {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var reply map[string]any
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return reply
	}

	reply := roundTrip(`{"type":"add_message","request_id":"r1","user_id":"u1","role":"user","content":"hello","message_type":"voice"}`)
	if reply["type"] != "result" || reply["request_id"] != "r1" || reply["op"] != "add_message" {
		t.Fatalf("add_message reply = %v", reply)
	}

	reply = roundTrip(`{"type":"get_context","request_id":"r2","user_id":"u1","include_system_prompt":false}`)
	data, _ := reply["data"].(map[string]any)
	ctxMsgs, _ := data["context"].([]any)
	if reply["type"] != "result" || len(ctxMsgs) != 1 || ctxMsgs[0].(map[string]any)["content"] != "hello" {
		t.Fatalf("get_context reply = %v", reply)
	}

	reply = roundTrip(`{"type":"get_stats","request_id":"r3","user_id":"u1"}`)
	if data, _ := reply["data"].(map[string]any); data["voice_messages"] != float64(1) {
		t.Fatalf("get_stats reply = %v", reply)
	}

	reply = roundTrip(`{"type":"set_preference","request_id":"r4","user_id":"","key":"language","value":"casual"}`)
	if reply["type"] != "error_event" || reply["code"] != "invalid_user_id" || reply["retryable"] != false || reply["request_id"] != "r4" {
		t.Fatalf("set_preference reply = %v", reply)
	}

	reply = roundTrip(`{"type":"list_users"}`)
	if reply["type"] != "result" || reply["request_id"] == "" {
		t.Fatalf("list_users reply = %v", reply)
	}
	if data, _ := reply["data"].(map[string]any); data["user_count"] != float64(1) {
		t.Fatalf("list_users data = %v", reply["data"])
	}

	reply = roundTrip(`{"type":"teleport","request_id":"r6"}`)
	if reply["type"] != "error_event" || reply["code"] != "invalid_client_message" || reply["request_id"] != "r6" {
		t.Fatalf("unknown type reply = %v", reply)
	}

	reply = roundTrip(`{"type":"clear_memory","request_id":"r7","user_id":"u1"}`)
	if data, _ := reply["data"].(map[string]any); reply["type"] != "result" || data["success"] != true {
		t.Fatalf("clear_memory reply = %v", reply)
	}

	reply = roundTrip(`{"type":"cleanup_expired","request_id":"r8"}`)
	if data, _ := reply["data"].(map[string]any); data["expired_count"] != float64(0) {
		t.Fatalf("cleanup_expired reply = %v", reply)
	}
}

func TestWebSocketRejectsCrossOrigin(t *testing.T) {
	ts := newTestServer(t, memory.NewInMemoryBackend())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/memory/ws"

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatalf("Dial() with foreign origin succeeded")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v, want 403", res)
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/syncroom/internal/config"
	"github.com/haasonsaas/syncroom/internal/hub"
	"github.com/haasonsaas/syncroom/internal/transport"
	"github.com/haasonsaas/syncroom/pkg/protocol"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:              "127.0.0.1",
		Port:              0,
		MaxConnections:    4,
		HeartbeatInterval: time.Second,
		SessionTimeout:    time.Minute,
		EnableCompression: true,
	}
}

// startServer boots a hub behind a real loopback listener and tears both
// down at cleanup.
func startServer(t *testing.T, cfg config.ServerConfig) (*hub.Hub, *Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(cfg, logger, nil)
	srv := New(cfg, logger, h)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, srv) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("hub did not stop within 3s")
		}
	})
	return h, srv
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	url := "ws://" + srv.Addr() + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// sendFrame writes a client frame and returns the exact bytes sent.
func sendFrame(t *testing.T, ws *websocket.Conn, typ protocol.MessageType, userID string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(&protocol.Message{
		Type:      typ,
		Timestamp: time.Now().UnixMilli(),
		UserID:    userID,
		SessionID: "client-" + userID,
		Payload:   raw,
	})
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	return data
}

func readFrame(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	return data
}

func readMessage(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	msg, err := protocol.Decode(readFrame(t, ws))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return msg
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s response: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestServer_WebSocketSessionFlow(t *testing.T) {
	_, srv := startServer(t, testConfig())

	wsA := dialWS(t, srv)
	sendFrame(t, wsA, protocol.TypeDocumentLoad, "alice", protocol.DocumentLoadPayload{DocumentID: "doc-1"})

	snap := readMessage(t, wsA)
	if snap.Type != protocol.TypeDocumentLoad {
		t.Fatalf("reply type = %q, want document_load", snap.Type)
	}
	var snapshot protocol.SessionSnapshot
	if err := json.Unmarshal(snap.Payload, &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(snapshot.Users) != 1 || snapshot.Users[0].UserID != "alice" {
		t.Fatalf("snapshot users = %v, want alice alone", snapshot.Users)
	}

	wsB := dialWS(t, srv)
	sendFrame(t, wsB, protocol.TypeDocumentLoad, "bob", protocol.DocumentLoadPayload{DocumentID: "doc-1"})

	if msg := readMessage(t, wsB); msg.Type != protocol.TypeDocumentLoad {
		t.Fatalf("bob reply type = %q, want document_load", msg.Type)
	}
	if msg := readMessage(t, wsA); msg.Type != protocol.TypeUserJoin {
		t.Fatalf("alice event type = %q, want user_join", msg.Type)
	}

	// Relays reach the other member byte-for-byte.
	sent := sendFrame(t, wsB, protocol.TypeSelectionChange, "bob",
		protocol.SelectionChangePayload{DocumentID: "doc-1", Selection: json.RawMessage(`["n1"]`)})
	if got := readFrame(t, wsA); !bytes.Equal(got, sent) {
		t.Errorf("relay mutated the frame:\n got %s\nwant %s", got, sent)
	}
}

func TestServer_HealthStatsAndSessionEndpoints(t *testing.T) {
	_, srv := startServer(t, testConfig())
	base := "http://" + srv.Addr()

	var health map[string]string
	if code := getJSON(t, base+"/healthz", &health); code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", code)
	}
	if health["status"] != "ok" {
		t.Errorf("healthz body = %v, want status ok", health)
	}

	var empty struct {
		DocumentID string              `json:"documentId"`
		Users      []protocol.Presence `json:"users"`
		Count      int                 `json:"count"`
	}
	if code := getJSON(t, base+"/sessions/doc-1/users", &empty); code != http.StatusOK {
		t.Fatalf("sessions status = %d, want 200", code)
	}
	if empty.Count != 0 || len(empty.Users) != 0 {
		t.Errorf("empty session users = %+v, want none", empty)
	}

	ws := dialWS(t, srv)
	sendFrame(t, ws, protocol.TypeDocumentLoad, "alice", protocol.DocumentLoadPayload{DocumentID: "doc-1"})
	readMessage(t, ws)

	var stats map[string]any
	if code := getJSON(t, base+"/stats", &stats); code != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", code)
	}
	if got := stats["activeConnections"]; got != float64(1) {
		t.Errorf("activeConnections = %v, want 1", got)
	}
	if got := stats["activeSessions"]; got != float64(1) {
		t.Errorf("activeSessions = %v, want 1", got)
	}
	if got, ok := stats["memoryUsageBytes"].(float64); !ok || got <= 0 {
		t.Errorf("memoryUsageBytes = %v, want a live heap figure", stats["memoryUsageBytes"])
	}
	if _, ok := stats["uptimeMs"]; !ok {
		t.Error("stats missing uptimeMs")
	}

	var loaded struct {
		DocumentID string              `json:"documentId"`
		Users      []protocol.Presence `json:"users"`
		Count      int                 `json:"count"`
	}
	if code := getJSON(t, base+"/sessions/doc-1/users", &loaded); code != http.StatusOK {
		t.Fatalf("sessions status = %d, want 200", code)
	}
	if loaded.Count != 1 || len(loaded.Users) != 1 || loaded.Users[0].UserID != "alice" {
		t.Errorf("session users = %+v, want alice", loaded)
	}
	if loaded.Users[0].Color == "" {
		t.Error("presence color not assigned")
	}
}

func TestServer_SessionRoutesRejectBadRequests(t *testing.T) {
	_, srv := startServer(t, testConfig())
	base := "http://" + srv.Addr()

	if code := getJSON(t, base+"/sessions/doc-1", nil); code != http.StatusNotFound {
		t.Errorf("GET /sessions/doc-1 status = %d, want 404", code)
	}
	if code := getJSON(t, base+"/sessions//users", nil); code != http.StatusNotFound {
		t.Errorf("GET /sessions//users status = %d, want 404", code)
	}

	resp, err := http.Post(base+"/sessions/doc-1/users", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp.StatusCode)
	}

	resp, err = http.Post(base+"/stats", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /stats status = %d, want 405", resp.StatusCode)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	_, srv := startServer(t, testConfig())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	if !bytes.Contains(body, []byte("go_goroutines")) {
		t.Error("metrics exposition missing runtime collectors")
	}
}

func TestServer_CapacityRejectionOverWebSocket(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	h, srv := startServer(t, cfg)

	wsA := dialWS(t, srv)
	sendFrame(t, wsA, protocol.TypePing, "alice", protocol.PingPayload{Message: "ping"})
	readMessage(t, wsA) // pong; the first connection is live

	wsB := dialWS(t, srv)
	if err := wsB.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	_, _, err := wsB.ReadMessage()
	if err == nil {
		t.Fatal("expected the second connection to be closed")
	}
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("read error = %v, want a close frame", err)
	}
	if closeErr.Code != transport.CloseCapacity {
		t.Errorf("close code = %d, want %d", closeErr.Code, transport.CloseCapacity)
	}
	if closeErr.Text != "server at capacity" {
		t.Errorf("close reason = %q, want %q", closeErr.Text, "server at capacity")
	}

	if got := h.Stats().ActiveConnections; got != 1 {
		t.Errorf("Stats().ActiveConnections = %d, want 1", got)
	}
}

func TestServer_CloseUnblocksAccept(t *testing.T) {
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, logger, hub.New(cfg, logger, nil))

	errCh := make(chan error, 1)
	go func() {
		_, err := srv.Accept(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := srv.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, transport.ErrAcceptorClosed) {
			t.Fatalf("Accept() error = %v, want ErrAcceptorClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Accept() did not unblock on Close")
	}

	if err := srv.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}

func TestServer_AcceptHonorsContext(t *testing.T) {
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, logger, hub.New(cfg, logger, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := srv.Accept(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Accept() error = %v, want context.Canceled", err)
	}
}

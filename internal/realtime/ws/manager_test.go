package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agentfabric/fabric/internal/events"
	"github.com/agentfabric/fabric/internal/observability"
	"github.com/agentfabric/fabric/internal/realtime/publish"
	"github.com/agentfabric/fabric/internal/session"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric/noop"
)

func testManager(t *testing.T, cfg Config) (*Manager, *publish.Publisher, *session.InMemoryStore) {
	t.Helper()
	mm, err := observability.NewMetricsManager(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("metrics manager: %v", err)
	}
	tm := observability.NewTraceManager("test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pub := publish.New(nil, publish.Config{
		BufferSize:                10,
		BroadcastAgentStatus:      true,
		BroadcastWorkflowProgress: true,
	}, logger, tm, mm)

	store := session.NewInMemoryStore()

	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.OutboundQueueSize == 0 {
		cfg.OutboundQueueSize = 16
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Hour
	}

	m := NewManager(cfg, store, pub, logger, tm, mm)
	return m, pub, store
}

func dialWS(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHandleUpgradeAuthenticatesWithQueryToken(t *testing.T) {
	m, _, store := testManager(t, Config{AuthRequired: true})
	store.Put(context.Background(), "tok-1", &session.UserSessionRecord{UserID: "user-1"})

	server := httptest.NewServer(http.HandlerFunc(m.HandleUpgrade))
	defer server.Close()

	conn := dialWS(t, server, "token=tok-1")
	defer conn.Close()

	// First frame is the "connected" admin message, sent before auth completes.
	conn.ReadMessage()

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read admin frame: %v", err)
	}
	env, err := events.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	payload, err := env.DecodeConnectionStatus()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Status != "authenticated" {
		t.Fatalf("expected authenticated status, got %q", payload.Status)
	}

	time.Sleep(50 * time.Millisecond)
	if m.ActiveConnections() != 1 {
		t.Fatalf("expected 1 active connection, got %d", m.ActiveConnections())
	}
}

func TestHandleUpgradeRejectsInvalidToken(t *testing.T) {
	m, _, _ := testManager(t, Config{AuthRequired: true})

	server := httptest.NewServer(http.HandlerFunc(m.HandleUpgrade))
	defer server.Close()

	conn := dialWS(t, server, "token=bad-token")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, derr := events.Decode(data)
		if derr != nil {
			continue
		}
		if env.EventType == events.TypeError {
			return
		}
	}
}

func TestSubscribeAndFanOut(t *testing.T) {
	m, pub, store := testManager(t, Config{AuthRequired: true})
	store.Put(context.Background(), "tok-1", &session.UserSessionRecord{UserID: "user-1"})

	server := httptest.NewServer(http.HandlerFunc(m.HandleUpgrade))
	defer server.Close()

	conn := dialWS(t, server, "token=tok-1")
	defer conn.Close()

	// Drain the "connected" then "authenticated" admin frames.
	conn.ReadMessage()
	conn.ReadMessage()

	subscribeMsg := `{"type":"subscribe","event_types":["AgentStatus"]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(subscribeMsg)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// Drain the "subscribed" admin frame.
	conn.ReadMessage()

	env, err := events.NewAgentStatusEvent(nil, "test", events.AgentStatusPayload{
		AgentID:   "agent-1",
		AgentType: "story_generation",
		Status:    events.AgentOnline,
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := pub.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected fan-out delivery: %v", err)
	}
	delivered, err := events.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if delivered.EventType != events.TypeAgentStatus {
		t.Fatalf("expected AgentStatus delivery, got %v", delivered.EventType)
	}
}

func TestMaxConnectionsRejectsUpgrade(t *testing.T) {
	m, _, store := testManager(t, Config{AuthRequired: true, MaxConnections: 1})
	store.Put(context.Background(), "tok-1", &session.UserSessionRecord{UserID: "user-1"})
	store.Put(context.Background(), "tok-2", &session.UserSessionRecord{UserID: "user-2"})

	server := httptest.NewServer(http.HandlerFunc(m.HandleUpgrade))
	defer server.Close()

	conn1 := dialWS(t, server, "token=tok-1")
	defer conn1.Close()
	time.Sleep(50 * time.Millisecond)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=tok-2"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected second upgrade to be rejected")
	}
	if resp == nil || resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %+v", resp)
	}
}

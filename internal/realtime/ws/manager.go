// Package ws implements the WebSocket Connection Manager, Subscription
// Registry, and Fan-out Dispatcher (spec.md §4.3), grounded on the
// per-connection lifecycle and heartbeat protocol of
// websocket_manager.py, adapted from fastapi/Redis coroutines to
// gorilla/websocket with one reader goroutine and one writer goroutine
// per connection.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentfabric/fabric/internal/events"
	"github.com/agentfabric/fabric/internal/observability"
	"github.com/agentfabric/fabric/internal/realtime/publish"
	"github.com/agentfabric/fabric/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Close codes. The RFC defines no dedicated "timeout" code; this fabric
// reuses CloseGoingAway for idle/heartbeat eviction, matching the
// reference implementation's reuse of 1001 for both shutdown and
// timeout while still letting this package tell them apart by reason
// string.
const (
	closeNormal          = websocket.CloseNormalClosure
	closeGoingAway       = websocket.CloseGoingAway
	closePolicyViolation = websocket.ClosePolicyViolation
	closeInternalError   = websocket.CloseInternalServerErr
)

// Config carries the subset of AppConfig the connection manager needs.
type Config struct {
	Path              string
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	MaxConnections    int
	AuthRequired      bool
	AuthTimeout       time.Duration
	OutboundQueueSize int
	RecoveryEnabled   bool
	RecoveryTimeout   time.Duration
}

// Manager is the Connection Manager: it accepts upgrades, authenticates,
// runs each connection's read/write loops, and fans out bus events.
type Manager struct {
	cfg Config

	sessions  session.Store
	publisher *publish.Publisher
	logger    *slog.Logger
	tracer    *observability.TraceManager
	metrics   *observability.MetricsManager
	clock     *events.Clock

	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[string]*Connection

	recovery *recoveryCache

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager constructs a Manager. sessions may be session.NewInMemoryStore()
// for development; callers wire a real store in production.
func NewManager(cfg Config, sessions session.Store, publisher *publish.Publisher, logger *slog.Logger, tracer *observability.TraceManager, metrics *observability.MetricsManager) *Manager {
	recoveryTTL := cfg.RecoveryTimeout
	if recoveryTTL <= 0 {
		recoveryTTL = 5 * time.Minute
	}

	m := &Manager{
		cfg:         cfg,
		sessions:    sessions,
		publisher:   publisher,
		logger:      logger,
		tracer:      tracer,
		metrics:     metrics,
		clock:       events.NewClock(),
		connections: make(map[string]*Connection),
		recovery:    newRecoveryCache(recoveryTTL),
		done:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	publisher.AddListener(m.fanOut)
	return m
}

// Start launches the heartbeat and recovery-sweep background loops.
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.heartbeatLoop()
	go m.cleanupLoop()
}

// Shutdown cancels background loops, force-closes remaining sockets with
// a normal-closure frame, and awaits loop exit with a bounded join.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.done)

	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.closeSocket(closeNormal, "server shutdown")
	}

	joined := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveConnections returns the current active connection count.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// HandleUpgrade implements http.HandlerFunc for the configured WebSocket
// path: it enforces the connection cap, upgrades the socket, then runs
// auth and the read/write loops until the connection closes.
func (m *Manager) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if m.ActiveConnections() >= m.cfg.MaxConnections {
		m.metrics.ConnectionRejected(r.Context(), "max_connections")
		http.Error(w, "connection limit exceeded", http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	c := newConnection(id, conn, m.cfg.OutboundQueueSize)
	c.setState(StateAwaitAuth)

	m.mu.Lock()
	m.connections[id] = c
	m.mu.Unlock()
	m.metrics.ConnectionOpened(r.Context())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.writeLoop(c)
	}()

	if f, err := adminFrame(m.clock, "connection_manager", c.ID, "connected", events.ConnectionStatusPayload{}); err == nil {
		m.enqueueFrame(c, f, true)
	}

	token := tokenFromRequest(r)
	ctx := r.Context()

	if token != "" {
		if rec, err := m.sessions.Get(ctx, token); err == nil {
			m.completeAuth(ctx, c, rec)
		} else if m.cfg.AuthRequired {
			m.rejectAuth(ctx, c, "invalid token")
			return
		} else {
			m.completeAuth(ctx, c, &session.UserSessionRecord{})
		}
	} else if !m.cfg.AuthRequired {
		m.completeAuth(ctx, c, &session.UserSessionRecord{})
	}

	if token == "" && m.cfg.AuthRequired {
		authTimeout := m.cfg.AuthTimeout
		if authTimeout <= 0 {
			authTimeout = 10 * time.Second
		}
		go func() {
			timer := time.NewTimer(authTimeout)
			defer timer.Stop()
			select {
			case <-timer.C:
				if c.State() == StateAwaitAuth {
					m.rejectAuth(ctx, c, "authentication timeout")
				}
			case <-m.done:
			}
		}()
	}

	m.readLoop(c)
}

func (m *Manager) rejectAuth(ctx context.Context, c *Connection, reason string) {
	c.setState(StateClosing)
	if payload, err := errorFrame(m.clock, "connection_manager", "auth_failed", reason); err == nil {
		c.enqueue(frame{payload: payload, control: true})
	}
	c.closeSocket(closePolicyViolation, reason)
	m.removeConnection(ctx, c)
}

func (m *Manager) completeAuth(ctx context.Context, c *Connection, rec *session.UserSessionRecord) {
	c.UserID = rec.UserID
	c.IsAdmin = rec.IsAdmin()
	c.setState(StateAuthenticated)

	if m.cfg.RecoveryEnabled && c.UserID != "" {
		if snap, ok := m.recovery.take(c.UserID); ok {
			c.Subscribe(snap.Subs)
			c.SetFilter(snap.Filter)
			for _, agentID := range snap.AgentScope {
				c.SubscribeAgent(agentID)
			}
			c.setState(StateSubscribed)
			m.metrics.ConnectionRecovered(ctx)
			if f, err := adminFrame(m.clock, "connection_manager", c.ID, "recovered", events.ConnectionStatusPayload{
				RecoveredSubscriptions: subsStrings(snap.Subs),
				RecoveredFilters:       snap.Filter,
			}); err == nil {
				m.enqueueFrame(c, f, true)
			}
			return
		}
	}

	if f, err := adminFrame(m.clock, "connection_manager", c.ID, "authenticated", events.ConnectionStatusPayload{}); err == nil {
		m.enqueueFrame(c, f, true)
	}
}

func subsStrings(ts []events.Type) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func (m *Manager) enqueueFrame(c *Connection, payload []byte, control bool) {
	if !c.enqueue(frame{payload: payload, control: control}) {
		m.metrics.OutboundFrameDropped(context.Background())
	}
}

func (m *Manager) removeConnection(ctx context.Context, c *Connection) {
	m.mu.Lock()
	_, existed := m.connections[c.ID]
	delete(m.connections, c.ID)
	m.mu.Unlock()

	if !existed {
		return
	}

	c.setState(StateClosed)
	m.metrics.ConnectionClosed(ctx)

	if m.cfg.RecoveryEnabled && c.UserID != "" {
		m.recovery.store(c.UserID, recoverySnapshot{
			Subs:           c.Subs(),
			Filter:         c.Filter(),
			AgentScope:     c.agentScopeSnapshot(),
			DisconnectedAt: time.Now(),
		})
	}
}

func (m *Manager) readLoop(c *Connection) {
	ctx := context.Background()
	defer func() {
		c.closeSocket(closeNormal, "client disconnect")
		m.removeConnection(ctx, c)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.touchRecv()

		msg, err := decodeClientMessage(data)
		if err != nil {
			if f, ferr := errorFrame(m.clock, "connection_manager", "malformed_message", err.Error()); ferr == nil {
				m.enqueueFrame(c, f, true)
			}
			continue
		}

		if err := m.handleClientMessage(ctx, c, msg); err != nil {
			m.logger.WarnContext(ctx, "error handling client message", "connection_id", c.ID, "error", err)
		}
	}
}

var errNotAuthenticated = errors.New("ws: connection not authenticated")

func (m *Manager) handleClientMessage(ctx context.Context, c *Connection, msg clientMessage) error {
	if c.State() == StateAwaitAuth {
		if msg.Type != clientMsgAuth {
			return nil
		}
		rec, err := m.sessions.Get(ctx, msg.Token)
		if err != nil {
			m.rejectAuth(ctx, c, "authentication failed")
			return err
		}
		m.completeAuth(ctx, c, rec)
		return nil
	}

	if !c.Authenticated() {
		return errNotAuthenticated
	}

	switch msg.Type {
	case clientMsgAuth:
		// Duplicate auth on an already-authenticated connection is ignored.
		return nil

	case clientMsgSubscribe:
		authorized := make([]events.Type, 0, len(msg.EventTypes))
		for _, t := range msg.EventTypes {
			if t.Valid() {
				authorized = append(authorized, t)
			}
		}
		c.Subscribe(authorized)
		if msg.Filters != nil {
			c.SetFilter(m.sanitizeFilter(msg.Filters, c))
		}
		c.setState(StateSubscribed)
		if f, err := adminFrame(m.clock, "connection_manager", c.ID, "subscribed", events.ConnectionStatusPayload{}); err == nil {
			m.enqueueFrame(c, f, true)
		}
		return nil

	case clientMsgUnsubscribe:
		c.Unsubscribe(msg.EventTypes)
		if f, err := adminFrame(m.clock, "connection_manager", c.ID, "unsubscribed", events.ConnectionStatusPayload{}); err == nil {
			m.enqueueFrame(c, f, true)
		}
		return nil

	case clientMsgSubscribeAgent:
		c.SubscribeAgent(msg.AgentID)
		return nil

	case clientMsgUnsubscribeAgent:
		c.UnsubscribeAgent(msg.AgentID)
		return nil

	case clientMsgUpdateFilters:
		if msg.Filters != nil {
			c.SetFilter(m.sanitizeFilter(msg.Filters, c))
		}
		if f, err := adminFrame(m.clock, "connection_manager", c.ID, "filters_updated", events.ConnectionStatusPayload{}); err == nil {
			m.enqueueFrame(c, f, true)
		}
		return nil

	case clientMsgPing:
		return m.respondToClientPing(c, msg.PingID)

	case clientMsgPong:
		c.touchPong()
		return nil

	default:
		return fmt.Errorf("ws: unknown message type %q", msg.Type)
	}
}

func (m *Manager) respondToClientPing(c *Connection, pingID string) error {
	payload := fmt.Sprintf(`{"type":"pong","ping_id":%q}`, pingID)
	m.enqueueFrame(c, []byte(payload), true)
	return nil
}

func (m *Manager) sanitizeFilter(f *events.Filter, c *Connection) *events.Filter {
	if f == nil {
		return nil
	}
	sanitized := *f
	if !c.IsAdmin && len(sanitized.UserIDs) > 0 {
		if c.UserID != "" {
			sanitized.UserIDs = []string{c.UserID}
		} else {
			sanitized.UserIDs = nil
		}
	}
	return &sanitized
}

func (m *Manager) writeLoop(c *Connection) {
	for {
		select {
		case f := <-c.outbound:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, f.payload); err != nil {
				return
			}
		case <-c.closed:
			return
		case <-m.done:
			return
		}
	}
}

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()
	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tickHeartbeats(interval)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) tickHeartbeats(interval time.Duration) {
	ctx := context.Background()

	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if !c.Authenticated() {
			continue
		}

		now := time.Now()
		sincePong := now.Sub(c.lastPong())

		if sincePong > interval {
			seq := c.nextPingSeq()
			env, err := events.NewHeartbeatEvent(m.clock, "connection_manager", events.HeartbeatPayload{
				ConnectionID:    c.ID,
				ServerTimestamp: float64(now.UnixNano()) / 1e9,
				PingSeq:         seq,
			})
			if err == nil {
				if raw, err := events.Encode(env); err == nil {
					m.enqueueFrame(c, raw, true)
				}
			}
		}

		if sincePong > interval*2 {
			missed := c.missedPongs.Add(1)
			if missed > 5 {
				m.metrics.HeartbeatMissedPong(ctx)
				c.setState(StateClosing)
				c.closeSocket(closeGoingAway, "heartbeat timeout")
				m.removeConnection(ctx, c)
				continue
			}
			if missed > 3 {
				c.setState(StateUnhealthy)
			}
		}

		if m.cfg.ConnectionTimeout > 0 && now.Sub(c.lastRecv()) > m.cfg.ConnectionTimeout {
			c.setState(StateClosing)
			c.closeSocket(closeGoingAway, "idle timeout")
			m.removeConnection(ctx, c)
		}
	}
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.recovery.sweep()
		case <-m.done:
			return
		}
	}
}

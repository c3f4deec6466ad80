package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentfabric/fabric/internal/events"
	"github.com/gorilla/websocket"
)

// State is the connection lifecycle state (spec.md §4.3).
type State int32

const (
	StateNew State = iota
	StateAwaitAuth
	StateAuthenticated
	StateSubscribed
	StateUnhealthy
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAwaitAuth:
		return "await_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateUnhealthy:
		return "unhealthy"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// frame is one outbound unit. Control frames (pings, administrative
// ConnectionStatus/Error messages) are never evicted to make room for
// another frame; only ordinary event frames are eviction targets. A new
// control frame is still dropped when the queue is full (see enqueue).
type frame struct {
	payload []byte
	control bool
}

// Connection is a single authenticated (or authenticating) WebSocket
// client session, owned exclusively by the Connection Manager per
// spec.md §3. subs/filter/agentScope follow the single-reader-context
// discipline in principle, but are guarded by a RWMutex here because the
// Fan-out Dispatcher reads them from the publisher's callback goroutine,
// not from this connection's own reader goroutine.
type Connection struct {
	ID          string
	UserID      string
	ClientInfo  map[string]any
	ConnectedAt time.Time

	IsAdmin bool

	state atomic.Int32

	ws *websocket.Conn

	mu         sync.RWMutex
	subs       map[events.Type]bool
	filter     *events.Filter
	agentScope map[string]bool

	lastRecvAt atomic.Int64 // unix nano
	lastPongAt atomic.Int64
	pingSeq    atomic.Uint64
	missedPongs atomic.Int32

	outbound      chan frame
	outboundCap   int
	framesDropped atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(id string, conn *websocket.Conn, outboundCap int) *Connection {
	now := time.Now()
	c := &Connection{
		ID:          id,
		ConnectedAt: now,
		ws:          conn,
		subs:        make(map[events.Type]bool),
		agentScope:  make(map[string]bool),
		outbound:    make(chan frame, outboundCap),
		outboundCap: outboundCap,
		closed:      make(chan struct{}),
	}
	c.state.Store(int32(StateNew))
	c.lastRecvAt.Store(now.UnixNano())
	c.lastPongAt.Store(now.UnixNano())
	return c
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Connection) Authenticated() bool {
	s := c.State()
	return s == StateAuthenticated || s == StateSubscribed
}

func (c *Connection) touchRecv() {
	c.lastRecvAt.Store(time.Now().UnixNano())
}

func (c *Connection) lastRecv() time.Time {
	return time.Unix(0, c.lastRecvAt.Load())
}

func (c *Connection) touchPong() {
	c.lastPongAt.Store(time.Now().UnixNano())
	c.missedPongs.Store(0)
}

func (c *Connection) lastPong() time.Time {
	return time.Unix(0, c.lastPongAt.Load())
}

func (c *Connection) nextPingSeq() uint64 {
	return c.pingSeq.Add(1)
}

// Subscribe adds event types to this connection's subscription set.
func (c *Connection) Subscribe(types []events.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range types {
		c.subs[t] = true
	}
}

// Unsubscribe removes event types from this connection's subscription set.
func (c *Connection) Unsubscribe(types []events.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range types {
		delete(c.subs, t)
	}
}

// Subs returns a snapshot of currently subscribed event types.
func (c *Connection) Subs() []events.Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]events.Type, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}

func (c *Connection) subscribed(t events.Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[t]
}

// SetFilter replaces this connection's filter predicate.
func (c *Connection) SetFilter(f *events.Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = f
}

// Filter returns the connection's current filter (never nil).
func (c *Connection) Filter() *events.Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.filter == nil {
		return &events.Filter{}
	}
	return c.filter
}

// SubscribeAgent adds an agent id to the connection's agent scope.
func (c *Connection) SubscribeAgent(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentScope[agentID] = true
}

// UnsubscribeAgent removes an agent id from the connection's agent scope.
func (c *Connection) UnsubscribeAgent(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agentScope, agentID)
}

// inAgentScope reports whether agentID is allowed for this connection.
// An empty scope means the connection follows all agents.
func (c *Connection) inAgentScope(agentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if agentID == "" || len(c.agentScope) == 0 {
		return true
	}
	return c.agentScope[agentID]
}

// agentScopeSnapshot returns a copy of the agent ids this connection follows.
func (c *Connection) agentScopeSnapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.agentScope))
	for id := range c.agentScope {
		out = append(out, id)
	}
	return out
}

// enqueue pushes a frame onto the outbound queue. When the queue is full
// and f is an ordinary frame, only the frame at the head of the queue is
// considered: an ordinary head frame is evicted and f is retried once; a
// control head frame is put back at the tail of the queue and f is
// dropped. A control f evicts nothing and is dropped if the queue is full.
// Returns false if f was dropped.
func (c *Connection) enqueue(f frame) bool {
	select {
	case c.outbound <- f:
		return true
	default:
	}

	if !f.control {
		// Best-effort: drop one buffered ordinary frame, then retry once.
		select {
		case dropped := <-c.outbound:
			if dropped.control {
				// Put it back; we won't evict control frames.
				select {
				case c.outbound <- dropped:
				default:
				}
				c.framesDropped.Add(1)
				return false
			}
			c.framesDropped.Add(1)
		default:
		}
	}

	select {
	case c.outbound <- f:
		return true
	default:
		c.framesDropped.Add(1)
		return false
	}
}

func (c *Connection) closeSocket(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.ws.Close()
		close(c.closed)
	})
}

package ws

import (
	"context"

	"github.com/agentfabric/fabric/internal/events"
)

// fanOut is registered as a publish.Listener; it evaluates spec.md
// §4.3's per-(connection, event) rule and enqueues the serialized
// envelope to every connection that passes.
func (m *Manager) fanOut(env events.Envelope) {
	ctx := context.Background()

	m.mu.RLock()
	candidates := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		candidates = append(candidates, c)
	}
	m.mu.RUnlock()

	_, span := m.tracer.StartFanoutSpan(ctx, string(env.EventType), len(candidates))
	defer span.End()

	raw, err := events.Encode(env)
	if err != nil {
		m.tracer.RecordError(span, err)
		return
	}

	agentID := agentIDFromEnvelope(env)

	delivered := 0
	for _, c := range candidates {
		if !m.eligible(c, env, agentID) {
			continue
		}
		m.enqueueFrame(c, raw, false)
		delivered++
	}

	m.tracer.SetSpanSuccess(span)
}

// eligible reports whether env is delivered to c: c must be authenticated
// and subscribed to the event type, c's filter must match env, and an
// AgentStatus event's agent must be in c's agent scope. No per-broadcast
// user filter is applied, and there is no per-tier check beyond
// authentication.
func (m *Manager) eligible(c *Connection, env events.Envelope, agentID string) bool {
	if !c.Authenticated() || !c.subscribed(env.EventType) {
		return false
	}
	if !c.Filter().Matches(env) {
		return false
	}
	if agentID != "" && !c.inAgentScope(agentID) {
		return false
	}
	return true
}

func agentIDFromEnvelope(env events.Envelope) string {
	if env.EventType != events.TypeAgentStatus {
		return ""
	}
	p, err := env.DecodeAgentStatus()
	if err != nil {
		return ""
	}
	return p.AgentID
}

package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Envelope is the common wrapper shared by every event kind (spec.md §3).
type Envelope struct {
	EventID   string          `json:"event_id"`
	EventType Type            `json:"event_type"`
	Timestamp float64         `json:"timestamp"`
	Source    string          `json:"source"`
	UserID    string          `json:"user_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Clock assigns envelope timestamps that are monotonically non-decreasing
// per producer (source), per the invariant in spec.md §3. A zero Clock is
// ready to use.
type Clock struct {
	mu   sync.Mutex
	last map[string]float64
}

func NewClock() *Clock {
	return &Clock{last: make(map[string]float64)}
}

// Now returns a timestamp for source that is never less than the previous
// timestamp handed out for that same source.
func (c *Clock) Now(source string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last == nil {
		c.last = make(map[string]float64)
	}

	now := float64(time.Now().UnixNano()) / 1e9
	if prev, ok := c.last[source]; ok && now <= prev {
		now = prev + 1e-6
	}
	c.last[source] = now
	return now
}

var defaultClock = NewClock()

func newEnvelope(clock *Clock, eventType Type, source, userID string, payload any) (Envelope, error) {
	if clock == nil {
		clock = defaultClock
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal payload for %s: %w", eventType, err)
	}
	return Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: clock.Now(source),
		Source:    source,
		UserID:    userID,
		Payload:   raw,
	}, nil
}

// NewAgentStatusEvent builds an AgentStatus envelope.
func NewAgentStatusEvent(clock *Clock, source string, p AgentStatusPayload) (Envelope, error) {
	return newEnvelope(clock, TypeAgentStatus, source, "", p)
}

// NewWorkflowProgressEvent builds a WorkflowProgress envelope.
func NewWorkflowProgressEvent(clock *Clock, source, userID string, p WorkflowProgressPayload) (Envelope, error) {
	return newEnvelope(clock, TypeWorkflowProgress, source, userID, p)
}

// NewProgressiveFeedbackEvent builds a ProgressiveFeedback envelope.
func NewProgressiveFeedbackEvent(clock *Clock, source, userID string, p ProgressiveFeedbackPayload) (Envelope, error) {
	return newEnvelope(clock, TypeProgressiveFeedback, source, userID, p)
}

// NewSystemMetricsEvent builds a SystemMetrics envelope.
func NewSystemMetricsEvent(clock *Clock, source string, p SystemMetricsPayload) (Envelope, error) {
	return newEnvelope(clock, TypeSystemMetrics, source, "", p)
}

// NewOptimizationEvent builds an Optimization envelope.
func NewOptimizationEvent(clock *Clock, source string, p OptimizationPayload) (Envelope, error) {
	return newEnvelope(clock, TypeOptimization, source, "", p)
}

// NewConnectionStatusEvent builds a ConnectionStatus envelope.
func NewConnectionStatusEvent(clock *Clock, source, userID string, p ConnectionStatusPayload) (Envelope, error) {
	return newEnvelope(clock, TypeConnectionStatus, source, userID, p)
}

// NewErrorEvent builds an Error envelope.
func NewErrorEvent(clock *Clock, source string, p ErrorPayload) (Envelope, error) {
	if p.Severity == "" {
		p.Severity = "error"
	}
	return newEnvelope(clock, TypeError, source, "", p)
}

// NewHeartbeatEvent builds a Heartbeat envelope.
func NewHeartbeatEvent(clock *Clock, source string, p HeartbeatPayload) (Envelope, error) {
	return newEnvelope(clock, TypeHeartbeat, source, "", p)
}

// DecodeAgentStatus unmarshals the payload as AgentStatusPayload.
func (e Envelope) DecodeAgentStatus() (AgentStatusPayload, error) {
	var p AgentStatusPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeWorkflowProgress unmarshals the payload as WorkflowProgressPayload.
func (e Envelope) DecodeWorkflowProgress() (WorkflowProgressPayload, error) {
	var p WorkflowProgressPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeProgressiveFeedback unmarshals the payload as ProgressiveFeedbackPayload.
func (e Envelope) DecodeProgressiveFeedback() (ProgressiveFeedbackPayload, error) {
	var p ProgressiveFeedbackPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeSystemMetrics unmarshals the payload as SystemMetricsPayload.
func (e Envelope) DecodeSystemMetrics() (SystemMetricsPayload, error) {
	var p SystemMetricsPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeOptimization unmarshals the payload as OptimizationPayload.
func (e Envelope) DecodeOptimization() (OptimizationPayload, error) {
	var p OptimizationPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeConnectionStatus unmarshals the payload as ConnectionStatusPayload.
func (e Envelope) DecodeConnectionStatus() (ConnectionStatusPayload, error) {
	var p ConnectionStatusPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeError unmarshals the payload as ErrorPayload.
func (e Envelope) DecodeError() (ErrorPayload, error) {
	var p ErrorPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeHeartbeat unmarshals the payload as HeartbeatPayload.
func (e Envelope) DecodeHeartbeat() (HeartbeatPayload, error) {
	var p HeartbeatPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

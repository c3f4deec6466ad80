package events

import "testing"

func TestClockMonotonic(t *testing.T) {
	c := NewClock()
	prev := 0.0
	for i := 0; i < 5; i++ {
		now := c.Now("agent-1")
		if now <= prev {
			t.Fatalf("expected strictly increasing timestamps, got %v after %v", now, prev)
		}
		prev = now
	}
}

func TestClockIndependentPerSource(t *testing.T) {
	c := NewClock()
	a := c.Now("agent-a")
	b := c.Now("agent-b")
	if a == 0 || b == 0 {
		t.Fatal("expected nonzero timestamps")
	}
}

func TestNewAgentStatusEventRoundTrip(t *testing.T) {
	env, err := NewAgentStatusEvent(nil, "scheduler", AgentStatusPayload{
		AgentID:   "agent-1",
		AgentType: "story_generation",
		Status:    AgentBusy,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.EventType != TypeAgentStatus {
		t.Fatalf("expected TypeAgentStatus, got %v", env.EventType)
	}

	raw, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	payload, err := decoded.DecodeAgentStatus()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.AgentID != "agent-1" || payload.Status != AgentBusy {
		t.Fatalf("unexpected payload after round trip: %+v", payload)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"event_id":"x","event_type":"NotAType","timestamp":1,"source":"s","payload":{}}`))
	if err == nil {
		t.Fatal("expected error decoding unknown event type")
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error decoding malformed json")
	}
}

func TestFilterMatchesUserScoping(t *testing.T) {
	env, _ := NewWorkflowProgressEvent(nil, "scheduler", "user-1", WorkflowProgressPayload{
		WorkflowID:         "wf-1",
		WorkflowType:       "story_generation",
		Status:             WorkflowRunning,
		ProgressPercentage: 40,
	})

	f := &Filter{UserIDs: []string{"user-2"}}
	if f.Matches(env) {
		t.Fatal("expected filter scoped to user-2 to reject user-1's event")
	}

	f2 := &Filter{UserIDs: []string{"user-1"}}
	if !f2.Matches(env) {
		t.Fatal("expected filter scoped to user-1 to accept user-1's event")
	}
}

func TestFilterMatchesProgressRange(t *testing.T) {
	env, _ := NewWorkflowProgressEvent(nil, "scheduler", "user-1", WorkflowProgressPayload{
		WorkflowID:         "wf-1",
		WorkflowType:       "story_generation",
		Status:             WorkflowRunning,
		ProgressPercentage: 10,
	})

	min := 50.0
	f := &Filter{MinProgress: &min}
	if f.Matches(env) {
		t.Fatal("expected progress 10 to fail min-progress 50 filter")
	}
}

func TestFilterZeroMatchesEverything(t *testing.T) {
	env, _ := NewHeartbeatEvent(nil, "conn-manager", HeartbeatPayload{ConnectionID: "c1", ServerTimestamp: 1})
	var f *Filter
	if !f.Matches(env) {
		t.Fatal("expected nil filter to match everything")
	}
}

package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, strategy Strategy) (*Scheduler, *Store) {
	t.Helper()
	store := NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(store, strategy, logger, nil), store
}

func TestSubmitSchedulesImmediatelyWhenCapacityAvailable(t *testing.T) {
	s, store := newTestScheduler(t, FastestFirst)
	store.Register(NewAgentProfile("writer-1", "writer", 2))

	decision, err := s.Submit(context.Background(), Request{RequiredAgents: []string{"writer"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision == nil {
		t.Fatal("expected an immediate decision")
	}
	if decision.SelectedAgents["writer"] != "writer-1" {
		t.Fatalf("expected writer-1 selected, got %+v", decision.SelectedAgents)
	}
	if s.QueueDepth() != 0 {
		t.Fatalf("expected queue drained after successful immediate schedule, got depth %d", s.QueueDepth())
	}
}

func TestSubmitStaysQueuedWhenNoCandidateAvailable(t *testing.T) {
	s, _ := newTestScheduler(t, FastestFirst)

	decision, err := s.Submit(context.Background(), Request{RequestID: "r1", RequiredAgents: []string{"writer"}})
	if err != nil {
		t.Fatalf("expected Submit to fail open (stay queued), not return an error: %v", err)
	}
	if decision != nil {
		t.Fatalf("expected no decision yet, got %+v", decision)
	}
	if s.QueueDepth() != 1 {
		t.Fatalf("expected request to remain queued, got depth %d", s.QueueDepth())
	}
}

func TestDispatchRetriesQueuedRequestOnceCapacityFrees(t *testing.T) {
	s, store := newTestScheduler(t, FastestFirst)

	if _, err := s.Submit(context.Background(), Request{RequestID: "r1", RequiredAgents: []string{"writer"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.QueueDepth() != 1 {
		t.Fatal("expected request queued with no agents registered")
	}

	store.Register(NewAgentProfile("writer-1", "writer", 1))
	dispatched := s.Dispatch(context.Background())
	if dispatched != 1 {
		t.Fatalf("expected Dispatch to schedule the retried request, got %d", dispatched)
	}
	if s.QueueDepth() != 0 {
		t.Fatalf("expected queue empty after successful dispatch, got %d", s.QueueDepth())
	}
}

func TestDispatchRequeuesStillUnschedulableRequests(t *testing.T) {
	s, _ := newTestScheduler(t, FastestFirst)
	s.Submit(context.Background(), Request{RequestID: "r1", RequiredAgents: []string{"writer"}})

	dispatched := s.Dispatch(context.Background())
	if dispatched != 0 {
		t.Fatalf("expected nothing dispatched, got %d", dispatched)
	}
	if s.QueueDepth() != 1 {
		t.Fatalf("expected the request to stay queued after a failed dispatch attempt, got depth %d", s.QueueDepth())
	}
}

func TestDispatchOrdersByPriorityScore(t *testing.T) {
	s, store := newTestScheduler(t, LoadBalanced)
	store.Register(NewAgentProfile("writer-1", "writer", 1))

	s.Submit(context.Background(), Request{RequestID: "low", RequiredAgents: []string{"reviewer"}, Priority: 5})
	s.Submit(context.Background(), Request{RequestID: "high", RequiredAgents: []string{"reviewer"}, Priority: 1})

	if s.QueueDepth() != 2 {
		t.Fatalf("expected both requests queued (no reviewer registered), got %d", s.QueueDepth())
	}

	store.Register(NewAgentProfile("reviewer-1", "reviewer", 1))
	dispatched := s.Dispatch(context.Background())
	if dispatched != 1 {
		t.Fatalf("expected exactly one request scheduled (capacity 1), got %d", dispatched)
	}
	if s.QueueDepth() != 1 {
		t.Fatalf("expected the other request to remain queued, got depth %d", s.QueueDepth())
	}
	s.mu.Lock()
	_, highActive := s.active["high"]
	s.mu.Unlock()
	if !highActive {
		t.Fatal("expected the priority-1 request to be the one dispatched")
	}
}

func TestReleaseFreesCapacityForRequeue(t *testing.T) {
	s, store := newTestScheduler(t, FastestFirst)
	store.Register(NewAgentProfile("writer-1", "writer", 1))

	decision, err := s.Submit(context.Background(), Request{RequestID: "r1", RequiredAgents: []string{"writer"}})
	if err != nil || decision == nil {
		t.Fatalf("expected immediate decision, got %+v, err=%v", decision, err)
	}

	if _, err := s.Submit(context.Background(), Request{RequestID: "r2", RequiredAgents: []string{"writer"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.QueueDepth() != 1 {
		t.Fatal("expected second request to queue while writer-1 is reserved")
	}

	s.Release("r1")
	if dispatched := s.Dispatch(context.Background()); dispatched != 1 {
		t.Fatalf("expected the queued request to schedule after release, got %d", dispatched)
	}
}

func TestLoadBalancedPrefersLeastLoadedAgent(t *testing.T) {
	s, store := newTestScheduler(t, LoadBalanced)
	busy := NewAgentProfile("busy", "writer", 4)
	busy.reserve()
	busy.reserve()
	idle := NewAgentProfile("idle", "writer", 4)
	store.Register(busy)
	store.Register(idle)

	decision, err := s.Submit(context.Background(), Request{RequiredAgents: []string{"writer"}})
	if err != nil || decision == nil {
		t.Fatalf("expected a decision, err=%v", err)
	}
	if decision.SelectedAgents["writer"] != "idle" {
		t.Fatalf("expected the idle agent selected, got %s", decision.SelectedAgents["writer"])
	}
}

func TestPredictiveReturnsConfidenceAndEstimate(t *testing.T) {
	s, store := newTestScheduler(t, Predictive)
	store.Register(NewAgentProfile("writer-1", "writer", 2))

	decision, err := s.Submit(context.Background(), Request{RequiredAgents: []string{"writer"}, EstimatedDuration: time.Hour})
	if err != nil || decision == nil {
		t.Fatalf("expected a decision, err=%v", err)
	}
	if decision.Confidence <= 0 {
		t.Fatalf("expected positive confidence, got %f", decision.Confidence)
	}
	if decision.EstimatedCompletion <= 0 {
		t.Fatal("expected a positive estimated completion")
	}
}

func TestNoAvailableAgentErrorFromDirectAttempt(t *testing.T) {
	s, store := newTestScheduler(t, FastestFirst)
	overloaded := NewAgentProfile("writer-1", "writer", 1)
	overloaded.reserve()
	store.Register(overloaded)

	if _, err := s.attempt(context.Background(), Request{RequiredAgents: []string{"writer"}}); err != ErrNoAvailableAgent {
		t.Fatalf("expected ErrNoAvailableAgent, got %v", err)
	}
}

func TestRefreshProfilesAppliesFreshStats(t *testing.T) {
	s, store := newTestScheduler(t, FastestFirst)
	store.Register(NewAgentProfile("writer-1", "writer", 2))

	s.RefreshProfiles(func(agentID string) (time.Duration, float64, bool) {
		if agentID == "writer-1" {
			return 250 * time.Millisecond, 0.99, true
		}
		return 0, 0, false
	})

	p, _ := store.Get("writer-1")
	snap := p.Snapshot()
	if snap.AvgLatency != 250*time.Millisecond {
		t.Fatalf("expected refreshed avg_latency, got %s", snap.AvgLatency)
	}
}

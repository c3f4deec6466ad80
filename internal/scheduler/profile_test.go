package scheduler

import (
	"testing"
	"time"
)

func TestLoadLevelClassification(t *testing.T) {
	cases := []struct {
		load, max int
		want      LoadLevel
	}{
		{0, 4, LoadIdle},
		{1, 4, LoadLow},
		{2, 4, LoadMedium},
		{4, 4, LoadOverloaded},
		{4, 5, LoadHigh},
	}
	for _, c := range cases {
		v := View{Load: c.load, MaxConcurrent: c.max}
		if got := v.LoadLevel(); got != c.want {
			t.Errorf("load=%d max=%d: got %s, want %s", c.load, c.max, got, c.want)
		}
	}
}

func TestOverloadedBlocksReservation(t *testing.T) {
	p := NewAgentProfile("a1", "writer", 1)
	if !p.reserve() {
		t.Fatal("expected first reservation to succeed")
	}
	if p.reserve() {
		t.Fatal("expected reservation to fail once at max_concurrent")
	}
	if !p.Snapshot().Overloaded() {
		t.Fatal("expected profile to report overloaded")
	}
}

func TestReleaseDecrementsLoadAndTouchesActivity(t *testing.T) {
	p := NewAgentProfile("a1", "writer", 2)
	p.reserve()
	before := p.Snapshot().LastActivity

	time.Sleep(time.Millisecond)
	p.release()

	snap := p.Snapshot()
	if snap.Load != 0 {
		t.Fatalf("expected load 0 after release, got %d", snap.Load)
	}
	if !snap.LastActivity.After(before) {
		t.Fatal("expected last_activity to advance on release")
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	p := NewAgentProfile("a1", "writer", 2)
	p.release()
	if p.Snapshot().Load != 0 {
		t.Fatal("expected load to stay at zero, never negative")
	}
}

func TestEfficiencyRewardsLowLatencyAndSuccess(t *testing.T) {
	fast := View{AvgLatency: 100 * time.Millisecond, SuccessRate: 1.0, Reliability: 1.0}
	slow := View{AvgLatency: 4500 * time.Millisecond, SuccessRate: 0.5, Reliability: 0.5}
	if fast.Efficiency() <= slow.Efficiency() {
		t.Fatalf("expected fast profile to score higher efficiency: fast=%f slow=%f", fast.Efficiency(), slow.Efficiency())
	}
}

func TestApplyStatsUpdatesTrendAndReliability(t *testing.T) {
	p := NewAgentProfile("a1", "writer", 4)
	p.applyStats(500*time.Millisecond, 0.95)

	snap := p.Snapshot()
	if snap.AvgLatency != 500*time.Millisecond {
		t.Fatalf("expected avg_latency updated, got %s", snap.AvgLatency)
	}
	if snap.Reliability != 1.0 {
		t.Fatalf("expected reliability clamped to 1.0, got %f", snap.Reliability)
	}
	// latency improved from the 1s default, so trend should be positive.
	if snap.Trend <= 0 {
		t.Fatalf("expected positive trend on latency improvement, got %f", snap.Trend)
	}
}

func TestStoreByTypeFiltersAndGet(t *testing.T) {
	s := NewStore()
	s.Register(NewAgentProfile("a1", "writer", 2))
	s.Register(NewAgentProfile("a2", "reviewer", 2))

	writers := s.ByType("writer")
	if len(writers) != 1 || writers[0].AgentID != "a1" {
		t.Fatalf("expected exactly a1 under writer, got %+v", writers)
	}

	if _, ok := s.Get("missing"); ok {
		t.Fatal("expected no profile for unregistered agent id")
	}
	if all := s.All(); len(all) != 2 {
		t.Fatalf("expected 2 registered profiles, got %d", len(all))
	}
}

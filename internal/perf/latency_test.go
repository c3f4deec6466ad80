package perf

import (
	"testing"
	"time"
)

func TestStatsComputesPercentilesAndSLA(t *testing.T) {
	m := NewMonitor(100, time.Hour, 200*time.Millisecond)
	for _, ms := range []int{50, 100, 150, 200, 900} {
		m.Record("lookup", "agent-1", time.Duration(ms)*time.Millisecond, true)
	}

	stats, ok := m.Stats("lookup", "")
	if !ok {
		t.Fatal("expected stats")
	}
	if stats.Count != 5 {
		t.Fatalf("expected 5 samples, got %d", stats.Count)
	}
	if stats.Min != 50*time.Millisecond || stats.Max != 900*time.Millisecond {
		t.Fatalf("unexpected min/max: %+v", stats)
	}
	if stats.SLACompliance != 0.8 {
		t.Fatalf("expected 0.8 SLA compliance (4/5 <= 200ms), got %f", stats.SLACompliance)
	}
}

func TestStatsFiltersByAgent(t *testing.T) {
	m := NewMonitor(100, time.Hour, 0)
	m.Record("op", "a", 10*time.Millisecond, true)
	m.Record("op", "b", 1000*time.Millisecond, false)

	stats, ok := m.Stats("op", "a")
	if !ok {
		t.Fatal("expected stats")
	}
	if stats.Count != 1 || stats.SuccessRate != 1.0 {
		t.Fatalf("expected agent-filtered stats, got %+v", stats)
	}
}

func TestStatsRespectsWindow(t *testing.T) {
	m := NewMonitor(100, time.Millisecond, 0)
	m.Record("op", "", time.Millisecond, true)
	time.Sleep(10 * time.Millisecond)

	if _, ok := m.Stats("op", ""); ok {
		t.Fatal("expected no stats outside the analysis window")
	}
}

func TestRingIsBounded(t *testing.T) {
	m := NewMonitor(3, time.Hour, 0)
	for i := 0; i < 10; i++ {
		m.Record("op", "", time.Millisecond, true)
	}
	stats, ok := m.Stats("op", "")
	if !ok {
		t.Fatal("expected stats")
	}
	if stats.Count != 3 {
		t.Fatalf("expected ring capped at 3, got %d", stats.Count)
	}
}

func TestDetectBottlenecksAgentOverload(t *testing.T) {
	var durations []time.Duration
	for i := 0; i < 11; i++ {
		durations = append(durations, 4*time.Second)
	}
	stats := computeStats(durations, 5, 0) // 5/11 success < 0.9

	found := DetectBottlenecks("any_op", stats)
	if len(found) != 1 || found[0].Type != BottleneckAgentOverload {
		t.Fatalf("expected agent_overload bottleneck, got %+v", found)
	}
}

func TestDetectBottlenecksWorkflowCongestion(t *testing.T) {
	durations := []time.Duration{
		500 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond,
		500 * time.Millisecond, 5 * time.Second,
	}
	stats := computeStats(durations, 5, 0)

	found := DetectBottlenecks(OpWorkflowExecution, stats)
	hasCongestion := false
	for _, b := range found {
		if b.Type == BottleneckWorkflowCongestion {
			hasCongestion = true
		}
	}
	if !hasCongestion {
		t.Fatalf("expected workflow_congestion bottleneck, got %+v", found)
	}
}

func TestDetectBottlenecksNoneUnderThreshold(t *testing.T) {
	stats := computeStats([]time.Duration{100 * time.Millisecond, 120 * time.Millisecond}, 2, 0)
	if found := DetectBottlenecks("any_op", stats); len(found) != 0 {
		t.Fatalf("expected no bottlenecks for healthy stats, got %+v", found)
	}
}

package main

import (
	"context"
	"testing"
	"time"

	"github.com/agentfabric/fabric/internal/perf"
)

func TestLatencyEvaluatorSelectsRequestedMetric(t *testing.T) {
	monitor := perf.NewMonitor(100, time.Hour, 0)
	monitor.Record("lookup", "", 100*time.Millisecond, true)
	monitor.Record("lookup", "", 300*time.Millisecond, false)

	evaluate := latencyEvaluator(monitor)

	results, err := evaluate(context.Background(), perf.Rule{
		Labels:      map[string]string{"op_type": "lookup"},
		Annotations: map[string]string{"metric": "success_rate"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Value != 0.5 {
		t.Fatalf("expected success_rate 0.5, got %+v", results)
	}
}

func TestLatencyEvaluatorDefaultsToP95(t *testing.T) {
	monitor := perf.NewMonitor(100, time.Hour, 0)
	monitor.Record("lookup", "", 500*time.Millisecond, true)

	evaluate := latencyEvaluator(monitor)
	results, err := evaluate(context.Background(), perf.Rule{Labels: map[string]string{"op_type": "lookup"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Value != 0.5 {
		t.Fatalf("expected p95 0.5s, got %+v", results)
	}
}

func TestLatencyEvaluatorReturnsNoResultForUnknownOpType(t *testing.T) {
	monitor := perf.NewMonitor(100, time.Hour, 0)
	evaluate := latencyEvaluator(monitor)

	results, err := evaluate(context.Background(), perf.Rule{Labels: map[string]string{"op_type": "never_recorded"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for an operation type with no samples, got %+v", results)
	}
}

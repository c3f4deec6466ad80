package perf

import (
	"context"

	"github.com/agentfabric/fabric/internal/events"
	"github.com/agentfabric/fabric/internal/realtime/publish"
)

// BottleneckType enumerates the rule-based patterns DetectBottlenecks
// reports (spec.md §4.7).
type BottleneckType string

const (
	BottleneckAgentOverload      BottleneckType = "agent_overload"
	BottleneckWorkflowCongestion BottleneckType = "workflow_congestion"
	BottleneckDatabaseLatency    BottleneckType = "database_latency"
	BottleneckResourceContention BottleneckType = "resource_contention"
)

// Bottleneck is one identified performance issue, returned by
// DetectBottlenecks; PublishBottleneck emits one on the event fan-out path
// as an Optimization event.
type Bottleneck struct {
	Type            BottleneckType
	Severity        float64
	Evidence        map[string]any
	Recommendations []string
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DetectBottlenecks evaluates the four rules from spec.md §4.7 against
// opType's current stats and returns every rule that matches.
func DetectBottlenecks(opType string, stats Stats) []Bottleneck {
	var found []Bottleneck

	meanSec := stats.Mean.Seconds()
	p95Sec := stats.P95.Seconds()
	p50Sec := stats.P50.Seconds()
	minSec := stats.Min.Seconds()
	maxSec := stats.Max.Seconds()

	if meanSec > 3 && stats.SuccessRate < 0.9 && stats.Count > 10 {
		found = append(found, Bottleneck{
			Type:     BottleneckAgentOverload,
			Severity: clamp01((meanSec - 2) / 3),
			Evidence: map[string]any{
				"mean_seconds":  meanSec,
				"success_rate":  stats.SuccessRate,
				"sample_count":  stats.Count,
				"p95_seconds":   p95Sec,
			},
			Recommendations: []string{
				"Increase agent instance count",
				"Implement request queuing and throttling",
				"Add circuit breaker patterns",
			},
		})
	}

	if opType == OpWorkflowExecution && p95Sec > 4 && meanSec < 2 {
		found = append(found, Bottleneck{
			Type:     BottleneckWorkflowCongestion,
			Severity: clamp01((p95Sec - 2) / 8),
			Evidence: map[string]any{
				"p95_seconds":  p95Sec,
				"mean_seconds": meanSec,
				"p99_seconds":  stats.P99.Seconds(),
			},
			Recommendations: []string{
				"Implement workflow prioritization",
				"Add concurrent workflow limits",
				"Implement workflow batching",
			},
		})
	}

	if opType == OpDatabaseOperation && p50Sec > 1 && minSec > 0.5 {
		found = append(found, Bottleneck{
			Type:     BottleneckDatabaseLatency,
			Severity: clamp01(p50Sec / 5),
			Evidence: map[string]any{
				"median_seconds": p50Sec,
				"min_seconds":    minSec,
				"max_seconds":    maxSec,
			},
			Recommendations: []string{
				"Optimize database queries",
				"Add database connection pooling",
				"Consider database indexing improvements",
			},
		})
	}

	if stats.Count > 5 && meanSec > 0 {
		variance := (maxSec - minSec) / meanSec
		if variance > 3 && meanSec > 1 {
			found = append(found, Bottleneck{
				Type:     BottleneckResourceContention,
				Severity: clamp01(variance / 10),
				Evidence: map[string]any{
					"variance_indicator": variance,
					"min_seconds":        minSec,
					"max_seconds":        maxSec,
					"mean_seconds":       meanSec,
				},
				Recommendations: []string{
					"Implement resource pooling",
					"Add resource usage monitoring",
					"Consider horizontal scaling",
				},
			})
		}
	}

	return found
}

// PublishBottleneck emits b as an Optimization event, giving that event
// kind a producer: a bottleneck recommendation, not just an alert
// threshold crossing.
func PublishBottleneck(ctx context.Context, clock *events.Clock, publisher *publish.Publisher, opType string, b Bottleneck) error {
	confidence := b.Severity
	env, err := events.NewOptimizationEvent(clock, "latency_monitor", events.OptimizationPayload{
		OptimizationType: string(b.Type),
		ParameterName:    opType,
		OldValue:         b.Evidence,
		NewValue:         b.Recommendations,
		ConfidenceScore:  &confidence,
	})
	if err != nil {
		return err
	}
	return publisher.Publish(ctx, env)
}

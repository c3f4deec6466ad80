package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewMetricsManager(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	mm, err := NewMetricsManager(meter)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if mm == nil {
		t.Fatal("expected metrics manager to be created")
	}
}

func TestMetricsManager_ConnectionCounters(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	mm, err := NewMetricsManager(meter)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	ctx := context.Background()
	mm.ConnectionOpened(ctx)
	mm.ConnectionClosed(ctx)
	mm.ConnectionRejected(ctx, "max_connections")
	mm.ConnectionRecovered(ctx)
	mm.OutboundFrameDropped(ctx)
	mm.HeartbeatMissedPong(ctx)
	mm.SetSchedulerQueueDepth(ctx, 3)
	mm.SchedulingDecided(ctx, "fastest_first")
	mm.SchedulingFailed(ctx, "story_gen")
	mm.AlertFired(ctx, "high_latency")
	mm.AlertResolved(ctx, "high_latency")
}

package publish

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/agentfabric/fabric/internal/broker"
	"github.com/agentfabric/fabric/internal/events"
	"github.com/agentfabric/fabric/internal/observability"
	"go.opentelemetry.io/otel/metric/noop"
)

func newTestPublisher(t *testing.T, gateway broker.Gateway, cfg Config) *Publisher {
	t.Helper()
	mm, err := observability.NewMetricsManager(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("new metrics manager: %v", err)
	}
	tm := observability.NewTraceManager("test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(gateway, cfg, logger, tm, mm)
}

func TestPublisherFanOutToBrokerAndListener(t *testing.T) {
	gateway := broker.NewMemoryGateway(time.Second)
	defer gateway.Close()

	p := newTestPublisher(t, gateway, Config{
		ChannelPrefix:        "ao:events",
		BufferSize:           10,
		BroadcastAgentStatus: true,
	})

	received := make(chan []byte, 1)
	gateway.Subscribe(context.Background(), "ao:events:all", func(payload []byte) {
		received <- payload
	})

	var listenerCalled bool
	p.AddListener(func(events.Envelope) { listenerCalled = true })

	env, err := events.NewAgentStatusEvent(nil, "test-agent", events.AgentStatusPayload{
		AgentID:   "agent-1",
		AgentType: "story_generation",
		Status:    events.AgentOnline,
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}

	if err := p.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected broker delivery")
	}

	if !listenerCalled {
		t.Fatal("expected in-process listener to be invoked")
	}

	stats := p.Stats()
	if stats.EventsPublished != 1 {
		t.Fatalf("expected 1 published event, got %d", stats.EventsPublished)
	}
	if stats.BufferDepth != 1 {
		t.Fatalf("expected buffer depth 1, got %d", stats.BufferDepth)
	}
}

func TestPublisherGateBlocksEventType(t *testing.T) {
	p := newTestPublisher(t, nil, Config{
		BufferSize:           10,
		BroadcastAgentStatus: false,
	})

	var listenerCalled bool
	p.AddListener(func(events.Envelope) { listenerCalled = true })

	env, _ := events.NewAgentStatusEvent(nil, "test-agent", events.AgentStatusPayload{
		AgentID:   "agent-1",
		AgentType: "story_generation",
		Status:    events.AgentOnline,
	})

	if err := p.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if listenerCalled {
		t.Fatal("expected gated event type to skip fan-out entirely")
	}
	if p.Stats().EventsPublished != 0 {
		t.Fatal("expected gated event to not count as published")
	}
}

func TestPublisherRingBufferBounded(t *testing.T) {
	p := newTestPublisher(t, nil, Config{BufferSize: 3, BroadcastSystemMetrics: true})

	for i := 0; i < 10; i++ {
		env, _ := events.NewSystemMetricsEvent(nil, "monitor", events.SystemMetricsPayload{})
		p.Publish(context.Background(), env)
	}

	if depth := p.Stats().BufferDepth; depth != 3 {
		t.Fatalf("expected buffer bounded to 3, got %d", depth)
	}
}

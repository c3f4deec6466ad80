// Package publish implements the Event Publisher: the single entry point
// agents, the scheduler, and the performance monitor call to put a typed
// event onto the bus, grounded on event_publisher.py's three-path fan-out
// (ring buffer, broker channels, in-process broadcast).
package publish

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentfabric/fabric/internal/broker"
	"github.com/agentfabric/fabric/internal/events"
	"github.com/agentfabric/fabric/internal/observability"
)

// Listener receives every event that passes the publisher's feature gates,
// independent of the broker round-trip. The connection manager's fan-out
// dispatcher registers itself here so a single-process deployment fans out
// without waiting on Redis.
type Listener func(events.Envelope)

// Publisher accepts typed envelopes, appends them to a bounded ring buffer,
// publishes to the broker gateway's per-type/per-user channels, and invokes
// any registered in-process listeners.
type Publisher struct {
	gateway       broker.Gateway
	channelPrefix string
	bufferSize    int

	gateAgentStatus      bool
	gateWorkflowProgress bool
	gateSystemMetrics    bool

	logger  *slog.Logger
	tracer  *observability.TraceManager
	metrics *observability.MetricsManager

	mu            sync.Mutex
	ringBuffer    []events.Envelope
	listeners     []Listener
	eventsPublished uint64
	eventsFailed    uint64
	lastPublish     time.Time
}

// Config carries the subset of AppConfig the publisher needs.
type Config struct {
	ChannelPrefix             string
	BufferSize                int
	BroadcastAgentStatus      bool
	BroadcastWorkflowProgress bool
	BroadcastSystemMetrics    bool
}

// New constructs a Publisher. gateway may be nil, in which case events are
// still buffered and fanned out in-process but never reach the broker.
func New(gateway broker.Gateway, cfg Config, logger *slog.Logger, tracer *observability.TraceManager, metrics *observability.MetricsManager) *Publisher {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Publisher{
		gateway:              gateway,
		channelPrefix:        cfg.ChannelPrefix,
		bufferSize:           bufferSize,
		gateAgentStatus:      cfg.BroadcastAgentStatus,
		gateWorkflowProgress: cfg.BroadcastWorkflowProgress,
		gateSystemMetrics:    cfg.BroadcastSystemMetrics,
		logger:               logger,
		tracer:               tracer,
		metrics:              metrics,
	}
}

// AddListener registers an in-process fan-out target. Safe to call
// concurrently with Publish; a Publish already under way does not see the
// new listener.
func (p *Publisher) AddListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// gated reports whether et is allowed through the per-type broadcast gate.
// Event types with no gate (ProgressiveFeedback, Optimization,
// ConnectionStatus, Error, Heartbeat) are always allowed.
func (p *Publisher) gated(et events.Type) bool {
	switch et {
	case events.TypeAgentStatus:
		return p.gateAgentStatus
	case events.TypeWorkflowProgress:
		return p.gateWorkflowProgress
	case events.TypeSystemMetrics:
		return p.gateSystemMetrics
	default:
		return true
	}
}

// Publish fans out env across three independent paths — ring buffer
// append, broker publish (to "<prefix>:all", "<prefix>:<type>", and, when
// env.UserID is set, "<prefix>:user:<id>"), and in-process listener
// broadcast — concurrently, so a slow or unreachable broker cannot delay
// local delivery: in-process subscribers still receive the event even
// when the broker path is stalled or down.
func (p *Publisher) Publish(ctx context.Context, env events.Envelope) error {
	if !p.gated(env.EventType) {
		return nil
	}

	ctx, span := p.tracer.StartPublishSpan(ctx, "all", string(env.EventType))
	defer span.End()
	p.tracer.AddComponentAttribute(span, "event_publisher")

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		p.appendToBuffer(env)
	}()

	brokerOK := true
	go func() {
		defer wg.Done()
		brokerOK = p.publishToBroker(ctx, env)
	}()

	go func() {
		defer wg.Done()
		p.broadcastInProcess(env)
	}()

	wg.Wait()
	ok := brokerOK

	p.mu.Lock()
	if ok {
		p.eventsPublished++
	} else {
		p.eventsFailed++
	}
	p.lastPublish = time.Now()
	p.mu.Unlock()

	if ok {
		p.metrics.IncrementEventsPublished(ctx, string(env.EventType), "all")
		p.tracer.SetSpanSuccess(span)
	} else {
		p.metrics.IncrementEventErrors(ctx, string(env.EventType), "event_publisher", "publish_failed")
		p.tracer.RecordError(span, errPublishFailed(env.EventType))
	}

	return nil
}

// publishToBroker encodes env and writes it to every channel it fans out
// to, reporting false if the gateway is absent, encoding failed, or any
// channel write failed. It never blocks the ring-buffer or in-process
// paths, which run concurrently with it in Publish.
func (p *Publisher) publishToBroker(ctx context.Context, env events.Envelope) bool {
	if p.gateway == nil {
		return true
	}

	raw, err := events.Encode(env)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode event", "event_id", env.EventID, "error", err)
		return false
	}

	ok := true
	for _, channel := range broker.Channels(p.channelPrefix, env.EventType, env.UserID) {
		if err := p.gateway.Publish(ctx, channel, raw); err != nil {
			p.logger.WarnContext(ctx, "failed to publish to broker channel",
				"channel", channel, "event_id", env.EventID, "error", err)
			ok = false
		}
	}
	return ok
}

func (p *Publisher) appendToBuffer(env events.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ringBuffer = append(p.ringBuffer, env)
	if over := len(p.ringBuffer) - p.bufferSize; over > 0 {
		p.ringBuffer = p.ringBuffer[over:]
	}
}

func (p *Publisher) broadcastInProcess(env events.Envelope) {
	p.mu.Lock()
	listeners := make([]Listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		l(env)
	}
}

// Stats reports the publisher's running counters, mirroring
// event_publisher.py's get_stats().
type Stats struct {
	EventsPublished uint64
	EventsFailed    uint64
	BufferDepth     int
	LastPublishTime time.Time
}

func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		EventsPublished: p.eventsPublished,
		EventsFailed:    p.eventsFailed,
		BufferDepth:     len(p.ringBuffer),
		LastPublishTime: p.lastPublish,
	}
}

// RecentEvents returns a copy of up to n most recent buffered envelopes,
// newest last, for recovery and diagnostics.
func (p *Publisher) RecentEvents(n int) []events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 || n > len(p.ringBuffer) {
		n = len(p.ringBuffer)
	}
	out := make([]events.Envelope, n)
	copy(out, p.ringBuffer[len(p.ringBuffer)-n:])
	return out
}

type publishError struct{ eventType events.Type }

func (e publishError) Error() string { return "publish: one or more channels failed for " + string(e.eventType) }

func errPublishFailed(et events.Type) error { return publishError{eventType: et} }

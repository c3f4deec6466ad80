package observability

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type MetricsManager struct {
	meter metric.Meter

	// Event metrics
	eventsProcessedTotal    metric.Int64Counter
	eventProcessingDuration metric.Float64Histogram
	eventErrorsTotal        metric.Int64Counter
	eventsPublishedTotal    metric.Int64Counter

	// System metrics
	processCPUSecondsTotal     metric.Float64Counter
	processResidentMemoryBytes metric.Int64UpDownCounter
	goGoroutines               metric.Int64UpDownCounter
	goMemstatsAllocBytes       metric.Int64UpDownCounter

	// Message broker metrics
	messageBrokerPublishDuration  metric.Float64Histogram
	messageBrokerConsumeDuration  metric.Float64Histogram
	messageBrokerConnectionErrors metric.Int64Counter

	// Connection manager metrics
	connectionsActive      metric.Int64UpDownCounter
	connectionsRejected    metric.Int64Counter
	connectionsRecovered   metric.Int64Counter
	outboundFramesDropped  metric.Int64Counter
	heartbeatMissedPongs   metric.Int64Counter

	// Scheduler metrics
	schedulerQueueDepth      metric.Int64UpDownCounter
	schedulerDecisionsTotal  metric.Int64Counter
	schedulerFailuresTotal   metric.Int64Counter

	// Alert metrics
	alertsFiredTotal    metric.Int64Counter
	alertsResolvedTotal metric.Int64Counter
}

func NewMetricsManager(meter metric.Meter) (*MetricsManager, error) {
	mm := &MetricsManager{meter: meter}

	var err error

	// Event metrics
	mm.eventsProcessedTotal, err = meter.Int64Counter(
		"events_processed_total",
		metric.WithDescription("Total number of events processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.eventProcessingDuration, err = meter.Float64Histogram(
		"event_processing_duration_seconds",
		metric.WithDescription("Event processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.eventErrorsTotal, err = meter.Int64Counter(
		"event_errors_total",
		metric.WithDescription("Total number of event processing errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.eventsPublishedTotal, err = meter.Int64Counter(
		"events_published_total",
		metric.WithDescription("Total number of events published"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	// System metrics
	mm.processCPUSecondsTotal, err = meter.Float64Counter(
		"process_cpu_seconds_total",
		metric.WithDescription("Total user and system CPU time spent in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.processResidentMemoryBytes, err = meter.Int64UpDownCounter(
		"process_resident_memory_bytes",
		metric.WithDescription("Resident memory size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	mm.goGoroutines, err = meter.Int64UpDownCounter(
		"go_goroutines",
		metric.WithDescription("Number of goroutines that currently exist"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.goMemstatsAllocBytes, err = meter.Int64UpDownCounter(
		"go_memstats_alloc_bytes",
		metric.WithDescription("Number of bytes allocated and still in use"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	// Message broker metrics
	mm.messageBrokerPublishDuration, err = meter.Float64Histogram(
		"message_broker_publish_duration_seconds",
		metric.WithDescription("Message broker publish duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.messageBrokerConsumeDuration, err = meter.Float64Histogram(
		"message_broker_consume_duration_seconds",
		metric.WithDescription("Message broker consume duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.messageBrokerConnectionErrors, err = meter.Int64Counter(
		"message_broker_connection_errors_total",
		metric.WithDescription("Total number of message broker connection errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	// Connection manager metrics
	mm.connectionsActive, err = meter.Int64UpDownCounter(
		"websocket_connections_active",
		metric.WithDescription("Number of currently active WebSocket connections"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.connectionsRejected, err = meter.Int64Counter(
		"websocket_connections_rejected_total",
		metric.WithDescription("Total number of rejected connection upgrades"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.connectionsRecovered, err = meter.Int64Counter(
		"websocket_connections_recovered_total",
		metric.WithDescription("Total number of connections restored from the recovery cache"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.outboundFramesDropped, err = meter.Int64Counter(
		"websocket_outbound_frames_dropped_total",
		metric.WithDescription("Total number of outbound frames dropped due to a full queue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.heartbeatMissedPongs, err = meter.Int64Counter(
		"websocket_heartbeat_missed_pongs_total",
		metric.WithDescription("Total number of missed pong responses observed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	// Scheduler metrics
	mm.schedulerQueueDepth, err = meter.Int64UpDownCounter(
		"scheduler_queue_depth",
		metric.WithDescription("Number of workflow requests waiting in the scheduler queue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.schedulerDecisionsTotal, err = meter.Int64Counter(
		"scheduler_decisions_total",
		metric.WithDescription("Total number of successful scheduling decisions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.schedulerFailuresTotal, err = meter.Int64Counter(
		"scheduler_failures_total",
		metric.WithDescription("Total number of scheduling attempts that found no eligible agent"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	// Alert metrics
	mm.alertsFiredTotal, err = meter.Int64Counter(
		"alerts_fired_total",
		metric.WithDescription("Total number of alerts transitioned to active"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.alertsResolvedTotal, err = meter.Int64Counter(
		"alerts_resolved_total",
		metric.WithDescription("Total number of alerts transitioned to resolved"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return mm, nil
}

// Event metrics methods
func (mm *MetricsManager) IncrementEventsProcessed(ctx context.Context, eventType, source string, success bool) {
	mm.eventsProcessedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("source", source),
		attribute.Bool("success", success),
	))
}

func (mm *MetricsManager) RecordEventProcessingDuration(ctx context.Context, eventType, source string, duration time.Duration) {
	mm.eventProcessingDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("source", source),
	))
}

func (mm *MetricsManager) IncrementEventErrors(ctx context.Context, eventType, source, errorType string) {
	mm.eventErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("source", source),
		attribute.String("error", errorType),
	))
}

func (mm *MetricsManager) IncrementEventsPublished(ctx context.Context, eventType, destination string) {
	mm.eventsPublishedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("destination", destination),
	))
}

// System metrics methods
func (mm *MetricsManager) UpdateSystemMetrics(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.goGoroutines.Add(ctx, int64(runtime.NumGoroutine()))
	mm.goMemstatsAllocBytes.Add(ctx, int64(m.Alloc))
	mm.processResidentMemoryBytes.Add(ctx, int64(m.Sys))
}

// Message broker metrics methods
func (mm *MetricsManager) RecordBrokerPublishDuration(ctx context.Context, topic string, duration time.Duration) {
	mm.messageBrokerPublishDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("topic", topic),
	))
}

func (mm *MetricsManager) RecordBrokerConsumeDuration(ctx context.Context, topic string, duration time.Duration) {
	mm.messageBrokerConsumeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("topic", topic),
	))
}

func (mm *MetricsManager) IncrementBrokerConnectionErrors(ctx context.Context) {
	mm.messageBrokerConnectionErrors.Add(ctx, 1)
}

// Connection manager metrics methods
func (mm *MetricsManager) ConnectionOpened(ctx context.Context) {
	mm.connectionsActive.Add(ctx, 1)
}

func (mm *MetricsManager) ConnectionClosed(ctx context.Context) {
	mm.connectionsActive.Add(ctx, -1)
}

func (mm *MetricsManager) ConnectionRejected(ctx context.Context, reason string) {
	mm.connectionsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (mm *MetricsManager) ConnectionRecovered(ctx context.Context) {
	mm.connectionsRecovered.Add(ctx, 1)
}

func (mm *MetricsManager) OutboundFrameDropped(ctx context.Context) {
	mm.outboundFramesDropped.Add(ctx, 1)
}

func (mm *MetricsManager) HeartbeatMissedPong(ctx context.Context) {
	mm.heartbeatMissedPongs.Add(ctx, 1)
}

// Scheduler metrics methods
func (mm *MetricsManager) SetSchedulerQueueDepth(ctx context.Context, delta int64) {
	mm.schedulerQueueDepth.Add(ctx, delta)
}

func (mm *MetricsManager) SchedulingDecided(ctx context.Context, strategy string) {
	mm.schedulerDecisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

func (mm *MetricsManager) SchedulingFailed(ctx context.Context, workflowType string) {
	mm.schedulerFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_type", workflowType)))
}

// Alert metrics methods
func (mm *MetricsManager) AlertFired(ctx context.Context, rule string) {
	mm.alertsFiredTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

func (mm *MetricsManager) AlertResolved(ctx context.Context, rule string) {
	mm.alertsResolvedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

// Helper method to start timing an operation
func (mm *MetricsManager) StartTimer() func(ctx context.Context, eventType, source string) {
	start := time.Now()
	return func(ctx context.Context, eventType, source string) {
		duration := time.Since(start)
		mm.RecordEventProcessingDuration(ctx, eventType, source, duration)
	}
}

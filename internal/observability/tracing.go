package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceManager wraps an OTel tracer with the span conventions this fabric
// uses for event publication, fan-out, and scheduling decisions.
type TraceManager struct {
	tracer trace.Tracer
}

func NewTraceManager(serviceName string) *TraceManager {
	return &TraceManager{
		tracer: otel.Tracer(serviceName),
	}
}

func (tm *TraceManager) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

func (tm *TraceManager) InjectTraceContext(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

func (tm *TraceManager) ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// StartPublishSpan starts a span for a broker gateway publish to a channel.
func (tm *TraceManager) StartPublishSpan(ctx context.Context, channel, eventType string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "publish_event", trace.WithAttributes(
		attribute.String("messaging.system", "redis"),
		attribute.String("messaging.destination", channel),
		attribute.String("messaging.operation", "publish"),
		attribute.String("event.type", eventType),
	))
}

// StartConsumeSpan starts a span for a broker gateway subscription callback.
func (tm *TraceManager) StartConsumeSpan(ctx context.Context, channel, eventType string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "consume_event", trace.WithAttributes(
		attribute.String("messaging.system", "redis"),
		attribute.String("messaging.source", channel),
		attribute.String("messaging.operation", "receive"),
		attribute.String("event.type", eventType),
	))
}

// StartFanoutSpan starts a span covering delivery of one event to the
// connection manager's subscribed connections.
func (tm *TraceManager) StartFanoutSpan(ctx context.Context, eventType string, candidateConnections int) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "fanout_event", trace.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.Int("fanout.candidates", candidateConnections),
	))
}

// StartSchedulingSpan starts a span for a scheduler dispatch decision.
func (tm *TraceManager) StartSchedulingSpan(ctx context.Context, requestID, workflowType string, priority int) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "schedule_request", trace.WithAttributes(
		attribute.String("request.id", requestID),
		attribute.String("request.workflow_type", workflowType),
		attribute.Int("request.priority", priority),
	))
}

func (tm *TraceManager) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(1, err.Error()) // Error status
	}
}

func (tm *TraceManager) SetSpanSuccess(span trace.Span) {
	span.SetStatus(2, "") // OK status
}

// AddSchedulingResult records the outcome of a scheduling decision on a span.
func (tm *TraceManager) AddSchedulingResult(span trace.Span, selected map[string]interface{}) {
	for key, value := range selected {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String("schedule.result."+key, v))
		case float64:
			span.SetAttributes(attribute.Float64("schedule.result."+key, v))
		case int:
			span.SetAttributes(attribute.Int("schedule.result."+key, v))
		case bool:
			span.SetAttributes(attribute.Bool("schedule.result."+key, v))
		default:
			span.SetAttributes(attribute.String("schedule.result."+key, fmt.Sprintf("%v", v)))
		}
	}
}

// AddSpanEvent adds a timestamped event to a span for tracking processing steps.
func (tm *TraceManager) AddSpanEvent(span trace.Span, eventName string, attributes ...attribute.KeyValue) {
	span.AddEvent(eventName, trace.WithAttributes(attributes...))
}

// AddComponentAttribute adds a component identifier to a span.
func (tm *TraceManager) AddComponentAttribute(span trace.Span, component string) {
	span.SetAttributes(attribute.String("fabric.component", component))
}

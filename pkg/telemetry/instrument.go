package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/decocms/mesh/pkg/audit"
	gwerr "github.com/decocms/mesh/pkg/errors"
)

const instrumentationName = "github.com/decocms/mesh"

// Attribute keys on spans and metrics.
const (
	AttrTool       = "mesh.tool"
	AttrConnection = "mesh.connection_id"
	AttrTenant     = "mesh.tenant_id"
	AttrPrincipal  = "mesh.principal_id"
	AttrOutcome    = "mesh.outcome"
	AttrErrorKind  = "mesh.error_kind"
)

// CallInfo identifies one tool invocation for tracing, metrics, and audit.
type CallInfo struct {
	Tool         string
	ConnectionID string
	TenantID     string
	PrincipalID  string
	RequestID    string
	ClientIP     string
}

// Instrumentor observes tool invocations: one span, a duration histogram,
// call and error counters, and a fire-and-forget audit record per call.
type Instrumentor struct {
	tracer       trace.Tracer
	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter
	auditor      *audit.Logger
}

// NewInstrumentor builds an Instrumentor on the given provider. The auditor
// may be nil to disable audit records.
func NewInstrumentor(p *Provider, auditor *audit.Logger) (*Instrumentor, error) {
	meter := p.MeterProvider().Meter(instrumentationName)

	duration, err := meter.Float64Histogram(
		"mesh_tool_call_duration_seconds",
		metric.WithDescription("End-to-end duration of proxied tool calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	calls, err := meter.Int64Counter(
		"mesh_tool_calls_total",
		metric.WithDescription("Total proxied tool calls by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating call counter: %w", err)
	}

	toolErrors, err := meter.Int64Counter(
		"mesh_tool_call_errors_total",
		metric.WithDescription("Failed proxied tool calls by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating error counter: %w", err)
	}

	return &Instrumentor{
		tracer:       p.TracerProvider().Tracer(instrumentationName),
		toolDuration: duration,
		toolCalls:    calls,
		toolErrors:   toolErrors,
		auditor:      auditor,
	}, nil
}

// ObserveToolCall runs fn inside a span named after the tool and records
// duration, outcome, and an audit entry. The error from fn is returned
// unchanged.
func (i *Instrumentor) ObserveToolCall(ctx context.Context, info CallInfo, fn func(context.Context) error) error {
	principal := info.PrincipalID
	if principal == "" {
		principal = "anonymous"
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrTool, info.Tool),
		attribute.String(AttrConnection, info.ConnectionID),
		attribute.String(AttrTenant, info.TenantID),
		attribute.String(AttrPrincipal, principal),
	}

	ctx, span := i.tracer.Start(ctx, "tool."+info.Tool,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	elapsed := time.Since(started)

	outcome := outcomeOf(err)
	outcomeAttrs := append(attrs, attribute.String(AttrOutcome, outcome))
	i.toolDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(outcomeAttrs...))
	i.toolCalls.Add(ctx, 1, metric.WithAttributes(outcomeAttrs...))

	if err != nil {
		i.toolErrors.Add(ctx, 1, metric.WithAttributes(
			append(attrs, attribute.String(AttrErrorKind, gwerr.Kind(err)))...))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	i.auditor.Record(ctx, &audit.Record{
		TenantID:     info.TenantID,
		PrincipalID:  info.PrincipalID,
		ConnectionID: info.ConnectionID,
		ToolName:     info.Tool,
		Outcome:      outcome,
		Duration:     elapsed,
		Timestamp:    started,
		Metadata: map[string]any{
			"request_id": info.RequestID,
			"client_ip":  info.ClientIP,
		},
	})

	return err
}

// StartProxySpan opens a client span around the downstream call itself,
// nested inside the tool call span.
func (i *Instrumentor) StartProxySpan(ctx context.Context, connectionID, method string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "proxy."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(AttrConnection, connectionID)),
	)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return audit.OutcomeAllowed
	case gwerr.IsForbidden(err), gwerr.IsUnauthorized(err):
		return audit.OutcomeDenied
	default:
		return audit.OutcomeError
	}
}

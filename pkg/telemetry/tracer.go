// Package telemetry provides OpenTelemetry integration for the application.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the default tracer name for the application
	TracerName = "github.com/arvlabs/arv"
)

// Tracer returns the global tracer for the application
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a new span with the given name and returns the context and span.
// The caller is responsible for calling span.End() when the operation is complete.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SpanFromContext returns the current span from the context.
// If no span is found, a no-op span is returned.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// SetSpanError records an error on the span and sets its status to error
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanOK sets the span status to OK
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes sets attributes on the span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// Common attribute keys for consistent naming
var (
	// Session attributes
	AttrSessionID    = attribute.Key("session.id")
	AttrSessionPhase = attribute.Key("session.phase")

	// Repository attributes
	AttrRepoPath = attribute.Key("repo.path")
	AttrRepoBase = attribute.Key("repo.base_ref")

	// Issue attributes
	AttrIssueID     = attribute.Key("issue.id")
	AttrIssueStatus = attribute.Key("issue.status")
	AttrIssueNumber = attribute.Key("issue.display_number")

	// Agent attributes
	AttrAgentModel = attribute.Key("agent.model")
	AttrAgentKind  = attribute.Key("agent.client_kind")

	// Result attributes
	AttrIssueCount = attribute.Key("issues.count")
	AttrTurn       = attribute.Key("deliberation.turn")
	AttrDurationMs = attribute.Key("duration.ms")
)

// WithSessionAttributes returns span start options with session attributes
func WithSessionAttributes(sessionID, repoPath, baseRef string) trace.SpanStartOption {
	return trace.WithAttributes(
		AttrSessionID.String(sessionID),
		AttrRepoPath.String(repoPath),
		AttrRepoBase.String(baseRef),
	)
}

// WithAgentAttributes returns span start options with agent attributes
func WithAgentAttributes(model string, clientKind string) trace.SpanStartOption {
	return trace.WithAttributes(
		AttrAgentModel.String(model),
		AttrAgentKind.String(clientKind),
	)
}

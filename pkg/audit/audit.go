// Package audit records tool invocations for compliance review. Emission is
// fire-and-forget: an audit failure is logged but never fails the request
// that produced it.
package audit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/decocms/mesh/pkg/logger"
)

// Outcomes of an audited invocation.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Record is one audited tool invocation.
type Record struct {
	// TenantID scopes the record; empty means system scope.
	TenantID string

	// PrincipalID is the acting user or API key id; empty for anonymous.
	PrincipalID string

	// ConnectionID is the downstream connection targeted, if any.
	ConnectionID string

	// ToolName is the tool invoked.
	ToolName string

	// Outcome is one of the Outcome constants.
	Outcome string

	// Duration is the end-to-end invocation time.
	Duration time.Duration

	// Timestamp is when the invocation started.
	Timestamp time.Time

	// Metadata carries request correlation fields (request id, client ip).
	Metadata map[string]any
}

// Sink persists audit records.
type Sink interface {
	Write(ctx context.Context, rec *Record) error
}

// SlogSink writes records as structured JSON lines.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing JSON records to w. A nil writer means
// stdout.
func NewSlogSink(w io.Writer) *SlogSink {
	if w == nil {
		w = os.Stdout
	}
	return &SlogSink{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

// Write emits one record as a single structured log line.
func (s *SlogSink) Write(ctx context.Context, rec *Record) error {
	attrs := []any{
		slog.String("tenant_id", rec.TenantID),
		slog.String("principal_id", rec.PrincipalID),
		slog.String("connection_id", rec.ConnectionID),
		slog.String("tool", rec.ToolName),
		slog.String("outcome", rec.Outcome),
		slog.Int64("duration_ms", rec.Duration.Milliseconds()),
		slog.Time("timestamp", rec.Timestamp),
	}
	for key, value := range rec.Metadata {
		attrs = append(attrs, slog.Any(key, value))
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

// Logger emits records to a sink without blocking the caller.
type Logger struct {
	sink Sink
}

// NewLogger creates a Logger over the given sink. A nil sink disables
// auditing.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink}
}

// Record emits rec asynchronously. The write is detached from the request's
// cancellation so an aborted request still leaves its audit trail. Sink
// errors are logged and swallowed.
func (l *Logger) Record(ctx context.Context, rec *Record) {
	if l == nil || l.sink == nil || rec == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		if err := l.sink.Write(detached, rec); err != nil {
			logger.Errorf("audit write failed: %v", err)
		}
	}()
}

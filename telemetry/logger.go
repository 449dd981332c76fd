package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(component string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for lifecycle events

// LogTransition logs one proposal state transition.
func (l *Logger) LogTransition(ctx context.Context, proposalID, actor, from, to string) {
	l.WithContext(ctx).Info().
		Str("proposal_id", proposalID).
		Str("actor", actor).
		Str("from_status", from).
		Str("to_status", to).
		Msg("proposal transition")
}

// LogTransitionDenied logs a lifecycle race loser or an illegal edge attempt.
func (l *Logger) LogTransitionDenied(ctx context.Context, proposalID, actor string, err error) {
	l.WithContext(ctx).Warn().
		Err(err).
		Str("proposal_id", proposalID).
		Str("actor", actor).
		Msg("transition denied")
}

// LogExecution logs the outcome of one external action call.
func (l *Logger) LogExecution(ctx context.Context, proposalID, target string, success bool, detail string) {
	event := l.WithContext(ctx).Info()
	if !success {
		event = l.WithContext(ctx).Error()
	}
	event.
		Str("proposal_id", proposalID).
		Str("target", target).
		Bool("success", success).
		Str("detail", detail).
		Msg("action executed")
}

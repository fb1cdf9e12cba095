package observability

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	meterName         = "support-bridge/helpdesk"
	failureMetricName = "support_bridge_failures_total"
	maxMessageRunes   = 64
	maxDetailRunes    = 512
)

// Stages of the helpdesk workflow that can fail.
const (
	StageSession            = "session"
	StageCreateConversation = "create_conversation"
	StageCreateMessage      = "create_message"
	StageAddNote            = "add_note"
	StageSendReply          = "send_reply"
	StageCloseConversation  = "close_conversation"
)

// Failure describes an upstream helpdesk error with enough context to
// correlate it. Partial marks a conversation that exists without a message.
type Failure struct {
	Stage          string
	ConversationID string
	Message        string
	StatusCode     int
	Detail         string
	Partial        bool
	Err            error
}

// Reporter is the sink for upstream failures. Implementations must not
// panic or block.
type Reporter interface {
	Report(ctx context.Context, f Failure)
}

// OTelReporter logs failures with slog and counts them on an OpenTelemetry
// counter labelled by stage and partial.
type OTelReporter struct {
	failures metric.Int64Counter
}

// NewReporter creates an OTelReporter whose counter is registered on mp.
func NewReporter(mp metric.MeterProvider) (*OTelReporter, error) {
	if mp == nil {
		return nil, errors.New("observability: meter provider must not be nil")
	}
	counter, err := mp.Meter(meterName).Int64Counter(
		failureMetricName,
		metric.WithDescription("Helpdesk calls that failed, by stage"),
	)
	if err != nil {
		return nil, err
	}
	return &OTelReporter{failures: counter}, nil
}

func (r *OTelReporter) Report(ctx context.Context, f Failure) {
	r.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", f.Stage),
		attribute.Bool("partial", f.Partial),
	))

	span := trace.SpanFromContext(ctx)
	span.AddEvent("helpdesk.failure", trace.WithAttributes(
		attribute.String("stage", f.Stage),
		attribute.String("conversation_id", f.ConversationID),
		attribute.Bool("partial", f.Partial),
	))
	span.SetStatus(codes.Error, "helpdesk "+f.Stage+" failed")

	attrs := []any{
		"stage", f.Stage,
		"partial", f.Partial,
		"message", Truncate(f.Message, maxMessageRunes),
	}
	if f.ConversationID != "" {
		attrs = append(attrs, "conversation_id", f.ConversationID)
	}
	if f.StatusCode != 0 {
		attrs = append(attrs, "status", f.StatusCode)
	}
	if f.Detail != "" {
		attrs = append(attrs, "detail", Truncate(f.Detail, maxDetailRunes))
	}
	if f.Err != nil {
		attrs = append(attrs, "err", f.Err)
	}
	Logger(ctx).ErrorContext(ctx, "helpdesk error: "+f.Stage+" failed", attrs...)
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

var _ Reporter = (*OTelReporter)(nil)

// Logger returns the default logger annotated with the request's
// correlation id, if any.
func Logger(ctx context.Context) *slog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return slog.Default().With("correlation_id", id)
	}
	return slog.Default()
}

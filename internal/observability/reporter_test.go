package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func failureCount(t *testing.T, reader *sdkmetric.ManualReader, stage string, partial bool) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != failureMetricName {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				s, _ := dp.Attributes.Value("stage")
				p, _ := dp.Attributes.Value("partial")
				if s.AsString() == stage && p.AsBool() == partial {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestNewReporter_NilProvider(t *testing.T) {
	_, err := NewReporter(nil)
	require.Error(t, err)
}

func TestReport_CountsAndLogs(t *testing.T) {
	logs := captureLogs(t)
	reader := sdkmetric.NewManualReader()
	r, err := NewReporter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	ctx := WithCorrelationID(context.Background(), "corr-9")
	r.Report(ctx, Failure{
		Stage:          StageCreateMessage,
		ConversationID: "abc123",
		Message:        strings.Repeat("x", 100),
		StatusCode:     502,
		Detail:         "bad gateway",
		Partial:        true,
	})

	require.Equal(t, int64(1), failureCount(t, reader, StageCreateMessage, true))
	require.Equal(t, int64(0), failureCount(t, reader, StageCreateConversation, false))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &rec))
	require.Equal(t, "ERROR", rec["level"])
	require.Equal(t, "abc123", rec["conversation_id"])
	require.Equal(t, "corr-9", rec["correlation_id"])
	require.Equal(t, true, rec["partial"])
	require.Equal(t, float64(502), rec["status"])
	require.Len(t, []rune(rec["message"].(string)), maxMessageRunes+1)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", Truncate("short", 10))
	require.Equal(t, "héll…", Truncate("héllo", 4))
}

func TestCorrelationID_RoundTrip(t *testing.T) {
	require.Equal(t, "", CorrelationID(context.Background()))
	ctx := WithCorrelationID(context.Background(), "id-1")
	require.Equal(t, "id-1", CorrelationID(ctx))
}

func TestNewTracerProvider_RequiresEndpoint(t *testing.T) {
	_, err := NewTracerProvider(context.Background(), "svc", " ")
	require.Error(t, err)
}

func TestNewMeterProvider_RequiresEndpoint(t *testing.T) {
	_, err := NewMeterProvider(context.Background(), "svc", "")
	require.Error(t, err)
}

func TestInstallMeterProvider_GlobalReporterRecords(t *testing.T) {
	prev := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prev) })
	captureLogs(t)

	reader := sdkmetric.NewManualReader()
	mp := installMeterProvider(resource.Empty(), reader)
	require.Same(t, mp, otel.GetMeterProvider())

	r, err := NewReporter(otel.GetMeterProvider())
	require.NoError(t, err)
	r.Report(context.Background(), Failure{Stage: StageCreateMessage, ConversationID: "abc123", Partial: true})
	r.Report(context.Background(), Failure{Stage: StageCreateConversation})

	require.Equal(t, int64(1), failureCount(t, reader, StageCreateMessage, true))
	require.Equal(t, int64(1), failureCount(t, reader, StageCreateConversation, false))
	require.NoError(t, mp.ForceFlush(context.Background()))
}

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func testEvent() FailureEvent {
	return FailureEvent{
		PayloadType: "orders.placed",
		Consumer:    "billing",
		Queue:       "orders.q",
		DeliveryTag: 42,
		Requeued:    true,
		Err:         errors.New("payment declined"),
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.RecordFailure(context.Background(), testEvent())

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "failed to process delivery", record["msg"])
	assert.Equal(t, "orders.placed", record["payloadType"])
	assert.Equal(t, "orders.q", record["queue"])
	assert.Equal(t, float64(42), record["deliveryTag"])
	assert.Equal(t, "payment declined", record["error"])
}

func TestMeterSink(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	sink, err := NewMeterSink(provider.Meter("test"))
	require.NoError(t, err)

	sink.RecordFailure(ctx, testEvent())
	sink.RecordFailure(ctx, testEvent())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	failures := rm.ScopeMetrics[0].Metrics[0]
	assert.Equal(t, "burrow.consumer.failures", failures.Name)
	sum, ok := failures.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	queue, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("queue"))
	require.True(t, ok)
	assert.Equal(t, "orders.q", queue.AsString())
}

func TestMultiSink(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	sink := MultiSink{first, nil, second}

	sink.RecordFailure(context.Background(), testEvent())

	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
}

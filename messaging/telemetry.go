package messaging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// FailureEvent describes one delivery that failed processing
type FailureEvent struct {
	PayloadType string
	Consumer    string
	Queue       string
	DeliveryTag uint64
	Redelivered bool
	Requeued    bool
	Err         error
}

// TelemetrySink receives failure events. Implementations must not block
// for long: the dispatcher calls them before taking the next delivery.
type TelemetrySink interface {
	RecordFailure(ctx context.Context, event FailureEvent)
}

// TelemetrySinkFunc is a function adapter for TelemetrySink
type TelemetrySinkFunc func(ctx context.Context, event FailureEvent)

// RecordFailure implements TelemetrySink
func (f TelemetrySinkFunc) RecordFailure(ctx context.Context, event FailureEvent) {
	f(ctx, event)
}

// LogSink writes failure events to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging to logger, or slog.Default() if nil
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// RecordFailure implements TelemetrySink
func (s *LogSink) RecordFailure(ctx context.Context, event FailureEvent) {
	s.logger.ErrorContext(ctx, "failed to process delivery",
		"payloadType", event.PayloadType,
		"consumer", event.Consumer,
		"queue", event.Queue,
		"deliveryTag", event.DeliveryTag,
		"redelivered", event.Redelivered,
		"requeued", event.Requeued,
		"error", event.Err,
	)
}

// MeterSink counts failure events with an OpenTelemetry counter
type MeterSink struct {
	failures metric.Int64Counter
}

// NewMeterSink creates the burrow.consumer.failures counter on meter
func NewMeterSink(meter metric.Meter) (*MeterSink, error) {
	failures, err := meter.Int64Counter(
		"burrow.consumer.failures",
		metric.WithDescription("Deliveries that failed processing"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, err
	}
	return &MeterSink{failures: failures}, nil
}

// RecordFailure implements TelemetrySink
func (s *MeterSink) RecordFailure(ctx context.Context, event FailureEvent) {
	s.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payload_type", event.PayloadType),
		attribute.String("consumer", event.Consumer),
		attribute.String("queue", event.Queue),
		attribute.Bool("redelivered", event.Redelivered),
		attribute.Bool("requeued", event.Requeued),
	))
}

// MultiSink fans an event out to every sink in order
type MultiSink []TelemetrySink

// RecordFailure implements TelemetrySink
func (m MultiSink) RecordFailure(ctx context.Context, event FailureEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.RecordFailure(ctx, event)
		}
	}
}

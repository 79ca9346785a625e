package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/burrow/contracts"
	"github.com/glimte/burrow/serialization"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/glimte/burrow/messaging"

// Dispatcher turns broker deliveries for payload type T into handler
// calls and acknowledges each delivery exactly once.
type Dispatcher[T any] struct {
	resolve     HandlerFactory[T]
	config      ConsumerConfig
	serializer  serialization.Serializer
	payloadType string
	consumer    string
	queue       string
	sink        TelemetrySink
	tracer      trace.Tracer
	logger      *slog.Logger
}

type dispatcherSettings struct {
	serializer  serialization.Serializer
	payloadType string
	consumer    string
	queue       string
	sink        TelemetrySink
	tracer      trace.Tracer
	logger      *slog.Logger
}

// DispatcherOption configures a dispatcher
type DispatcherOption func(*dispatcherSettings)

// WithDispatcherSerializer sets the serializer used to decode bodies
func WithDispatcherSerializer(serializer serialization.Serializer) DispatcherOption {
	return func(s *dispatcherSettings) {
		s.serializer = serializer
	}
}

// WithPayloadType overrides the payload type name used in errors and telemetry
func WithPayloadType(name string) DispatcherOption {
	return func(s *dispatcherSettings) {
		s.payloadType = name
	}
}

// WithConsumerName names the consumer in errors and telemetry
func WithConsumerName(name string) DispatcherOption {
	return func(s *dispatcherSettings) {
		s.consumer = name
	}
}

// WithQueueName records the queue the dispatcher consumes from
func WithQueueName(queue string) DispatcherOption {
	return func(s *dispatcherSettings) {
		s.queue = queue
	}
}

// WithTelemetrySink sets where failure events go
func WithTelemetrySink(sink TelemetrySink) DispatcherOption {
	return func(s *dispatcherSettings) {
		s.sink = sink
	}
}

// WithTracer sets the tracer for dispatch spans
func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(s *dispatcherSettings) {
		s.tracer = tracer
	}
}

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(s *dispatcherSettings) {
		s.logger = logger
	}
}

// NewDispatcher creates a dispatcher resolving one handler per delivery
// through resolve.
func NewDispatcher[T any](resolve HandlerFactory[T], config ConsumerConfig, options ...DispatcherOption) *Dispatcher[T] {
	settings := dispatcherSettings{
		serializer: serialization.NewJSONSerializer(),
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(&settings)
	}

	if settings.payloadType == "" {
		settings.payloadType = serialization.TypeName[T](serialization.NewTypeRegistry())
	}
	if settings.consumer == "" {
		settings.consumer = settings.payloadType
	}
	if settings.sink == nil {
		settings.sink = NewLogSink(settings.logger)
	}
	if settings.tracer == nil {
		settings.tracer = otel.Tracer(instrumentationName)
	}

	return &Dispatcher[T]{
		resolve:     resolve,
		config:      config,
		serializer:  settings.serializer,
		payloadType: settings.payloadType,
		consumer:    settings.consumer,
		queue:       settings.queue,
		sink:        settings.sink,
		tracer:      settings.tracer,
		logger:      settings.logger,
	}
}

// Config returns the acknowledgement settings
func (d *Dispatcher[T]) Config() ConsumerConfig {
	return d.config
}

// Dispatch runs one delivery through deserialize, handle and acknowledge.
// It returns nil on success, a ProcessingError when the payload could not
// be handled and a TransportError when the ack or nack failed.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, delivery amqp.Delivery) error {
	ctx, span := d.tracer.Start(ctx, "burrow.dispatch "+d.payloadType,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", d.queue),
			attribute.String("messaging.consumer.group.name", d.consumer),
			attribute.String("messaging.message.id", delivery.MessageId),
			attribute.Int64("messaging.rabbitmq.delivery_tag", int64(delivery.DeliveryTag)),
			attribute.Bool("messaging.rabbitmq.redelivered", delivery.Redelivered),
		),
	)
	defer span.End()

	result := d.process(ctx, delivery)
	ack := Decide(result, delivery.Redelivered, d.config)
	ackErr := d.acknowledge(delivery, ack)
	span.SetAttributes(attribute.String("burrow.ack", ack.Action.String()))

	if result == nil {
		if ackErr != nil {
			span.RecordError(ackErr)
			span.SetStatus(codes.Error, ackErr.Error())
			return ackErr
		}
		d.logger.DebugContext(ctx, "delivery handled",
			"payloadType", d.payloadType,
			"deliveryTag", delivery.DeliveryTag,
		)
		return nil
	}

	procErr := &contracts.ProcessingError{
		PayloadType: d.payloadType,
		Consumer:    d.consumer,
		DeliveryTag: delivery.DeliveryTag,
		Redelivered: delivery.Redelivered,
		Err:         result,
	}

	d.emit(ctx, FailureEvent{
		PayloadType: d.payloadType,
		Consumer:    d.consumer,
		Queue:       d.queue,
		DeliveryTag: delivery.DeliveryTag,
		Redelivered: delivery.Redelivered,
		Requeued:    ack.Requeue,
		Err:         result,
	})

	span.RecordError(procErr)
	span.SetStatus(codes.Error, procErr.Error())

	if ackErr != nil {
		return errors.Join(procErr, ackErr)
	}
	return procErr
}

// process deserializes the body and runs the handler inside a fresh scope
func (d *Dispatcher[T]) process(ctx context.Context, delivery amqp.Delivery) (err error) {
	scope := NewScope()
	defer func() {
		if closeErr := scope.Close(); closeErr != nil {
			d.logger.WarnContext(ctx, "failed to close delivery scope",
				"payloadType", d.payloadType,
				"deliveryTag", delivery.DeliveryTag,
				"error", closeErr,
			)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	payload, err := serialization.Decode[T](d.serializer, delivery.Body, d.payloadType)
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, scopeKey{}, scope)
	ctx = context.WithValue(ctx, deliveryKey{}, delivery)

	handler, err := d.resolve(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to resolve handler: %w", err)
	}
	if handler == nil {
		return fmt.Errorf("failed to resolve handler: no handler for %s", d.payloadType)
	}

	return handler.Handle(ctx, payload)
}

func (d *Dispatcher[T]) acknowledge(delivery amqp.Delivery, ack Acknowledgement) error {
	var err error
	switch ack.Action {
	case AckPositive:
		err = delivery.Ack(ack.Multiple)
	case AckNegative:
		err = delivery.Nack(ack.Multiple, ack.Requeue)
	default:
		return nil
	}

	if err != nil {
		d.logger.Error("failed to acknowledge delivery",
			"action", ack.Action.String(),
			"deliveryTag", delivery.DeliveryTag,
			"requeue", ack.Requeue,
			"error", err,
		)
		return &contracts.TransportError{
			Op:        ack.Action.String(),
			Target:    d.queue,
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// emit hands event to the sink. A panicking sink is logged and ignored.
func (d *Dispatcher[T]) emit(ctx context.Context, event FailureEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("telemetry sink panicked",
				"payloadType", event.PayloadType,
				"deliveryTag", event.DeliveryTag,
				"panic", r,
			)
		}
	}()
	d.sink.RecordFailure(ctx, event)
}

// DeliveryFromContext returns the delivery being handled
func DeliveryFromContext(ctx context.Context) (amqp.Delivery, bool) {
	delivery, ok := ctx.Value(deliveryKey{}).(amqp.Delivery)
	return delivery, ok
}

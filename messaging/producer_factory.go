package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/glimte/burrow/contracts"
	"github.com/glimte/burrow/internal/rabbitmq"
	"github.com/glimte/burrow/serialization"
	"github.com/glimte/burrow/topology"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ProducerFactory builds one producer per payload type, lazily, on a
// dedicated channel.
type ProducerFactory struct {
	opener     rabbitmq.ChannelOpener
	registry   *topology.Registry
	declarer   *topology.Declarer
	serializer serialization.Serializer
	types      *serialization.TypeRegistry
	logger     *slog.Logger

	mu        sync.Mutex
	metadata  map[reflect.Type]*ProducerMetadata
	producers map[reflect.Type]closer
}

// closer is implemented by every built producer
type closer interface {
	Close() error
}

// FactoryOption configures the producer factory
type FactoryOption func(*ProducerFactory)

// WithSerializer sets the serializer shared by all producers
func WithSerializer(serializer serialization.Serializer) FactoryOption {
	return func(f *ProducerFactory) {
		f.serializer = serializer
	}
}

// WithTypeRegistry sets the registry used to name payload types
func WithTypeRegistry(types *serialization.TypeRegistry) FactoryOption {
	return func(f *ProducerFactory) {
		f.types = types
	}
}

// WithFactoryLogger sets the logger
func WithFactoryLogger(logger *slog.Logger) FactoryOption {
	return func(f *ProducerFactory) {
		f.logger = logger
	}
}

// NewProducerFactory creates a factory that opens channels through opener
// and declares topology from registry.
func NewProducerFactory(opener rabbitmq.ChannelOpener, registry *topology.Registry, options ...FactoryOption) *ProducerFactory {
	f := &ProducerFactory{
		opener:     opener,
		registry:   registry,
		serializer: serialization.NewJSONSerializer(),
		types:      serialization.NewTypeRegistry(),
		logger:     slog.Default(),
		metadata:   make(map[reflect.Type]*ProducerMetadata),
		producers:  make(map[reflect.Type]closer),
	}

	for _, opt := range options {
		opt(f)
	}

	f.declarer = topology.NewDeclarer(registry, topology.WithDeclarerLogger(f.logger))
	return f
}

// Serializer returns the shared serializer
func (f *ProducerFactory) Serializer() serialization.Serializer {
	return f.serializer
}

// Types returns the payload type registry
func (f *ProducerFactory) Types() *serialization.TypeRegistry {
	return f.types
}

// AddProducer registers how payloads of type T are published. queue may
// be empty. The first registration for a type wins; later ones return the
// existing metadata.
func AddProducer[T any](f *ProducerFactory, exchange, queue string, options ...ProducerOption) (*ProducerMetadata, error) {
	t := reflect.TypeFor[T]()

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.metadata[t]; ok {
		f.logger.Debug("producer already registered, keeping first registration",
			"payloadType", f.types.Name(t),
			"exchange", existing.ExchangeName,
		)
		return existing, nil
	}

	metadata := &ProducerMetadata{
		ExchangeName:   exchange,
		QueueName:      queue,
		ConfirmTimeout: DefaultConfirmTimeout,
	}
	for _, opt := range options {
		opt(metadata)
	}

	// The default exchange cannot carry a queue binding
	if metadata.ExchangeName == "" {
		return nil, &contracts.ConfigurationError{
			Queue: queue,
			Cause: contracts.CauseMissingName,
			Err:   fmt.Errorf("%w: producer for %s needs an exchange", contracts.ErrMissingName, f.types.Name(t)),
		}
	}
	if metadata.ConfirmTimeout <= 0 {
		metadata.ConfirmTimeout = DefaultConfirmTimeout
	}

	f.metadata[t] = metadata
	return metadata, nil
}

// Metadata returns the registered metadata for T
func Metadata[T any](f *ProducerFactory) (*ProducerMetadata, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.metadata[reflect.TypeFor[T]()]
	return m, ok
}

// GetProducer returns the producer for T, building it on first use. A
// failed build leaves nothing behind, so a later call builds again.
func GetProducer[T any](ctx context.Context, f *ProducerFactory) (*Producer[T], error) {
	t := reflect.TypeFor[T]()

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.producers[t]; ok {
		return existing.(*Producer[T]), nil
	}

	metadata, ok := f.metadata[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrProducerNotRegistered, f.types.Name(t))
	}

	producer, err := buildProducer[T](ctx, f, *metadata, f.types.Name(t))
	if err != nil {
		return nil, err
	}

	f.producers[t] = producer
	return producer, nil
}

func buildProducer[T any](ctx context.Context, f *ProducerFactory, metadata ProducerMetadata, typeName string) (*Producer[T], error) {
	ch, err := f.opener.OpenChannel()
	if err != nil {
		return nil, err
	}

	producer, err := configureProducer[T](ctx, f, ch, metadata, typeName)
	if err != nil {
		if closeErr := ch.Close(); closeErr != nil && !rabbitmq.IsChannelClosed(closeErr) {
			f.logger.Warn("failed to close channel of failed producer",
				"exchange", metadata.ExchangeName,
				"error", closeErr,
			)
		}
		f.logger.Error("failed to build producer",
			"payloadType", typeName,
			"exchange", metadata.ExchangeName,
			"queue", metadata.QueueName,
			"error", err,
		)
		return nil, err
	}

	f.logger.Info("producer ready",
		"payloadType", typeName,
		"exchange", metadata.ExchangeName,
		"routingKey", metadata.Key(),
		"confirms", metadata.WaitForConfirms,
	)
	return producer, nil
}

func configureProducer[T any](ctx context.Context, f *ProducerFactory, ch rabbitmq.Channel, metadata ProducerMetadata, typeName string) (*Producer[T], error) {
	f.registry.Freeze()

	exchange, err := f.declarer.Declare(ctx, ch, metadata.ExchangeName)
	if err != nil {
		return nil, err
	}

	if err := f.declarer.BindQueue(ctx, ch, metadata.queueBinding(), exchange); err != nil {
		return nil, err
	}

	base := amqp.Publishing{ContentType: f.serializer.ContentType()}
	producer := &Producer[T]{
		channel:    ch,
		serializer: f.serializer,
		metadata:   metadata,
		template:   ApplyProperties(base, metadata.Properties...),
		typeName:   typeName,
		logger:     f.logger,
	}

	if metadata.WaitForConfirms {
		if err := ch.Confirm(false); err != nil {
			return nil, &contracts.TransportError{
				Op:        "enable confirms",
				Target:    metadata.ExchangeName,
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		producer.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))
	}

	return producer, nil
}

// Close closes every built producer
func (f *ProducerFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for t, producer := range f.producers {
		if err := producer.Close(); err != nil && !rabbitmq.IsChannelClosed(err) {
			errs = append(errs, fmt.Errorf("failed to close producer for %s: %w", f.types.Name(t), err))
		}
		delete(f.producers, t)
	}
	return errors.Join(errs...)
}

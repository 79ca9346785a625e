// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package burrow declares RabbitMQ topology and moves typed payloads over
// it. Register exchanges, producers and consumers on a Client at startup,
// connect, then publish and consume.
package burrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/burrow/contracts"
	"github.com/glimte/burrow/health"
	"github.com/glimte/burrow/internal/rabbitmq"
	"github.com/glimte/burrow/messaging"
	"github.com/glimte/burrow/serialization"
	"github.com/glimte/burrow/topology"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// connection is what the client needs from the connection manager
type connection interface {
	Connect(ctx context.Context) error
	OpenChannel() (rabbitmq.Channel, error)
	IsConnected() bool
	Close() error
}

// Client is the entry point of burrow
type Client struct {
	conn     connection
	registry *topology.Registry
	types    *serialization.TypeRegistry
	factory  *messaging.ProducerFactory
	sink     messaging.TelemetrySink
	tracer   trace.Tracer
	logger   *slog.Logger

	mu        sync.Mutex
	consumers []*consumerRegistration
	running   []*rabbitmq.Consumer
	started   bool
}

type consumerRegistration struct {
	queue    string
	name     string
	dispatch rabbitmq.DeliveryHandler
	options  []rabbitmq.ConsumerOption
}

// clientConfig holds client configuration
type clientConfig struct {
	logger         *slog.Logger
	serializer     serialization.Serializer
	types          *serialization.TypeRegistry
	connectTimeout time.Duration
	sink           messaging.TelemetrySink
	meter          metric.Meter
	tracer         trace.Tracer
	conn           connection
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithSerializer replaces the JSON serializer
func WithSerializer(serializer serialization.Serializer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.serializer = serializer
	}
}

// WithTypeRegistry sets the registry naming payload types
func WithTypeRegistry(types *serialization.TypeRegistry) ClientOption {
	return func(cfg *clientConfig) {
		cfg.types = types
	}
}

// WithConnectTimeout bounds how long Connect waits for the broker
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectTimeout = timeout
	}
}

// WithTelemetrySink receives consumer failure events in addition to the log
func WithTelemetrySink(sink messaging.TelemetrySink) ClientOption {
	return func(cfg *clientConfig) {
		cfg.sink = sink
	}
}

// WithMeter counts consumer failures on meter
func WithMeter(meter metric.Meter) ClientOption {
	return func(cfg *clientConfig) {
		cfg.meter = meter
	}
}

// WithTracer sets the tracer for dispatch spans
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.tracer = tracer
	}
}

func withConnection(conn connection) ClientOption {
	return func(cfg *clientConfig) {
		cfg.conn = conn
	}
}

// NewClient creates a client for the broker at url. No connection is made
// until Connect.
func NewClient(url string, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:         slog.Default(),
		serializer:     serialization.NewJSONSerializer(),
		types:          serialization.NewTypeRegistry(),
		connectTimeout: 30 * time.Second,
	}

	for _, opt := range options {
		opt(cfg)
	}

	if cfg.conn == nil {
		cfg.conn = rabbitmq.NewConnectionManager(url,
			rabbitmq.WithLogger(cfg.logger),
			rabbitmq.WithConnectTimeout(cfg.connectTimeout),
		)
	}

	sinks := messaging.MultiSink{messaging.NewLogSink(cfg.logger)}
	if cfg.meter != nil {
		meterSink, err := messaging.NewMeterSink(cfg.meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create failure counter: %w", err)
		}
		sinks = append(sinks, meterSink)
	}
	if cfg.sink != nil {
		sinks = append(sinks, cfg.sink)
	}

	registry := topology.NewRegistry()
	return &Client{
		conn:     cfg.conn,
		registry: registry,
		types:    cfg.types,
		factory: messaging.NewProducerFactory(cfg.conn, registry,
			messaging.WithSerializer(cfg.serializer),
			messaging.WithTypeRegistry(cfg.types),
			messaging.WithFactoryLogger(cfg.logger),
		),
		sink:   sinks,
		tracer: cfg.tracer,
		logger: cfg.logger,
	}, nil
}

// Connect dials the broker
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Topology returns the exchange registry
func (c *Client) Topology() *topology.Registry {
	return c.registry
}

// Types returns the payload type registry
func (c *Client) Types() *serialization.TypeRegistry {
	return c.types
}

// AddExchange registers an exchange to be declared by the producers
// publishing to it
func (c *Client) AddExchange(kind, name string, options ...topology.ExchangeOption) (*topology.Exchange, error) {
	return c.registry.AddExchange(kind, name, options...)
}

// AddProducer registers the producer for payload type T
func AddProducer[T any](c *Client, exchange, queue string, options ...messaging.ProducerOption) error {
	_, err := messaging.AddProducer[T](c.factory, exchange, queue, options...)
	return err
}

// Producer returns the producer for T, declaring its topology on first use
func Producer[T any](ctx context.Context, c *Client) (*messaging.Producer[T], error) {
	return messaging.GetProducer[T](ctx, c.factory)
}

// Publish publishes payload with the producer registered for T
func Publish[T any](ctx context.Context, c *Client, payload T, overrides ...messaging.PropertyMutator) error {
	producer, err := Producer[T](ctx, c)
	if err != nil {
		return err
	}
	return producer.Publish(ctx, payload, overrides...)
}

// consumerSettings collects consumer options
type consumerSettings struct {
	config        messaging.ConsumerConfig
	prefetchCount int
	consumerTag   string
	exclusive     bool
	name          string
}

// ConsumerOption configures a consumer
type ConsumerOption func(*consumerSettings)

// AutoAck lets the broker consider deliveries acknowledged on send
func AutoAck() ConsumerOption {
	return func(s *consumerSettings) {
		s.config.AutoAck = true
	}
}

// AckMultiple acks and nacks every outstanding delivery up to the current one
func AckMultiple() ConsumerOption {
	return func(s *consumerSettings) {
		s.config.Multiple = true
	}
}

// Requeue requeues failed deliveries once
func Requeue() ConsumerOption {
	return func(s *consumerSettings) {
		s.config.Requeue = true
	}
}

// WithPrefetchCount sets how many unacked deliveries the broker sends ahead
func WithPrefetchCount(count int) ConsumerOption {
	return func(s *consumerSettings) {
		s.prefetchCount = count
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(s *consumerSettings) {
		s.consumerTag = tag
	}
}

// Exclusive requests exclusive access to the queue
func Exclusive() ConsumerOption {
	return func(s *consumerSettings) {
		s.exclusive = true
	}
}

// WithConsumerName names the consumer in errors and telemetry
func WithConsumerName(name string) ConsumerOption {
	return func(s *consumerSettings) {
		s.name = name
	}
}

// AddConsumer registers a consumer of T on queue. A handler is resolved
// through resolve for every delivery. Consumers start with Start.
func AddConsumer[T any](c *Client, queue string, resolve messaging.HandlerFactory[T], options ...ConsumerOption) error {
	if queue == "" {
		return &contracts.ConfigurationError{
			Cause: contracts.CauseMissingName,
			Err:   fmt.Errorf("%w: consumer needs a queue", contracts.ErrMissingName),
		}
	}
	if resolve == nil {
		return fmt.Errorf("consumer for queue %s needs a handler", queue)
	}

	settings := consumerSettings{prefetchCount: 10}
	for _, opt := range options {
		opt(&settings)
	}

	payloadType := serialization.TypeName[T](c.types)
	if settings.name == "" {
		settings.name = queue
	}

	dispatcherOptions := []messaging.DispatcherOption{
		messaging.WithDispatcherSerializer(c.factory.Serializer()),
		messaging.WithPayloadType(payloadType),
		messaging.WithConsumerName(settings.name),
		messaging.WithQueueName(queue),
		messaging.WithTelemetrySink(c.sink),
		messaging.WithDispatcherLogger(c.logger),
	}
	if c.tracer != nil {
		dispatcherOptions = append(dispatcherOptions, messaging.WithTracer(c.tracer))
	}
	dispatcher := messaging.NewDispatcher(resolve, settings.config, dispatcherOptions...)

	consumerOptions := []rabbitmq.ConsumerOption{
		rabbitmq.WithPrefetchCount(settings.prefetchCount),
		rabbitmq.WithAutoAck(settings.config.AutoAck),
		rabbitmq.WithExclusive(settings.exclusive),
		rabbitmq.WithConsumerLogger(c.logger),
	}
	if settings.consumerTag != "" {
		consumerOptions = append(consumerOptions, rabbitmq.WithConsumerTag(settings.consumerTag))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("cannot add consumer for queue %s: client already started", queue)
	}
	c.consumers = append(c.consumers, &consumerRegistration{
		queue:    queue,
		name:     settings.name,
		dispatch: dispatcher.Dispatch,
		options:  consumerOptions,
	})
	return nil
}

// Start starts every registered consumer. If one fails to start, the
// ones already started are stopped.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	for _, reg := range c.consumers {
		consumer := rabbitmq.NewConsumer(c.conn, reg.queue, reg.options...)
		if err := consumer.Start(ctx, reg.dispatch); err != nil {
			for _, running := range c.running {
				running.Stop()
			}
			c.running = nil
			return fmt.Errorf("failed to start consumer %s: %w", reg.name, err)
		}
		c.running = append(c.running, consumer)
	}

	c.started = true
	c.logger.Info("client started", "consumers", len(c.running))
	return nil
}

// Wait blocks until every consumer stopped or ctx is done and returns the
// errors that stopped them.
func (c *Client) Wait(ctx context.Context) error {
	c.mu.Lock()
	running := append([]*rabbitmq.Consumer(nil), c.running...)
	c.mu.Unlock()

	var errs []error
	for _, consumer := range running {
		select {
		case <-consumer.Done():
			if err := consumer.Err(); err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// Health checks the connection and every started consumer. extra
// checkers run after the built-in ones.
func (c *Client) Health(ctx context.Context, extra ...health.Checker) health.Report {
	c.mu.Lock()
	checkers := []health.Checker{health.NewConnectionChecker(c.conn)}
	for _, consumer := range c.running {
		checkers = append(checkers, health.NewConsumerChecker(consumer))
	}
	c.mu.Unlock()

	return health.Check(ctx, append(checkers, extra...)...)
}

// Close stops consumers, closes producers and the connection
func (c *Client) Close() error {
	c.mu.Lock()
	running := c.running
	c.running = nil
	c.started = false
	c.mu.Unlock()

	for _, consumer := range running {
		consumer.Stop()
	}

	var errs []error
	if err := c.factory.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

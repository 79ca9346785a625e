package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/burrow/contracts"
	"github.com/glimte/burrow/internal/rabbitmq"
	"github.com/glimte/burrow/serialization"
	"github.com/glimte/burrow/topology"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultConfirmTimeout bounds the wait for a publisher confirm
const DefaultConfirmTimeout = 5 * time.Second

// confirmBuffer sizes the NotifyPublish channel. The client library
// blocks on a full listener, so late confirms of timed out publishes
// need room until the next publish drains them.
const confirmBuffer = 128

// ProducerMetadata describes how one payload type is published.
type ProducerMetadata struct {
	ExchangeName    string
	QueueName       string
	RoutingKey      string // Defaults to QueueName
	Mandatory       bool
	WaitForConfirms bool
	ConfirmTimeout  time.Duration
	Properties      []PropertyMutator
	Arguments       amqp.Table // Queue binding arguments
}

// Key returns the routing key used for publishing and queue binding
func (m *ProducerMetadata) Key() string {
	if m.RoutingKey == "" {
		return m.QueueName
	}
	return m.RoutingKey
}

func (m *ProducerMetadata) queueBinding() topology.QueueBinding {
	return topology.QueueBinding{
		Exchange:   m.ExchangeName,
		Queue:      m.QueueName,
		RoutingKey: m.RoutingKey,
		Mandatory:  m.Mandatory,
		Arguments:  m.Arguments,
	}
}

// ProducerOption configures producer metadata at registration
type ProducerOption func(*ProducerMetadata)

// WithRoutingKey sets the routing key. Without it the queue name is used.
func WithRoutingKey(key string) ProducerOption {
	return func(m *ProducerMetadata) {
		m.RoutingKey = key
	}
}

// Mandatory requires the queue to exist before the producer is built and
// publishes with the mandatory flag.
func Mandatory() ProducerOption {
	return func(m *ProducerMetadata) {
		m.Mandatory = true
	}
}

// WaitForConfirms switches the producer channel into confirm mode
func WaitForConfirms() ProducerOption {
	return func(m *ProducerMetadata) {
		m.WaitForConfirms = true
	}
}

// WithConfirmTimeout sets how long a publish waits for its confirm
func WithConfirmTimeout(timeout time.Duration) ProducerOption {
	return func(m *ProducerMetadata) {
		m.ConfirmTimeout = timeout
	}
}

// WithProperties appends property mutators. Order is preserved across
// calls.
func WithProperties(mutators ...PropertyMutator) ProducerOption {
	return func(m *ProducerMetadata) {
		m.Properties = append(m.Properties, mutators...)
	}
}

// WithQueueArgument sets an argument on the queue binding
func WithQueueArgument(key string, value interface{}) ProducerOption {
	return func(m *ProducerMetadata) {
		if m.Arguments == nil {
			m.Arguments = amqp.Table{}
		}
		m.Arguments[key] = value
	}
}

// PublishChannel is the part of a channel a built producer uses.
type PublishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Producer publishes payloads of type T to one exchange. It is safe for
// concurrent use; publishes are serialized on its channel.
type Producer[T any] struct {
	mu         sync.Mutex
	channel    PublishChannel
	serializer serialization.Serializer
	metadata   ProducerMetadata
	template   amqp.Publishing
	typeName   string
	confirms   chan amqp.Confirmation // nil unless in confirm mode
	published  uint64                 // Delivery tag of the last confirmed-mode publish
	closed     bool
	logger     *slog.Logger
}

// Metadata returns the metadata the producer was built from
func (p *Producer[T]) Metadata() ProducerMetadata {
	return p.metadata
}

// Template returns a copy of the base properties applied to every publish
func (p *Producer[T]) Template() amqp.Publishing {
	return clonePublishing(p.template)
}

// Publish serializes payload and writes it to the producer's exchange.
// overrides are applied after the registered properties. In confirm mode
// Publish blocks until the broker confirms the message, the confirm
// timeout elapses or ctx is done.
func (p *Producer[T]) Publish(ctx context.Context, payload T, overrides ...PropertyMutator) error {
	body, err := p.serializer.Serialize(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", p.typeName, err)
	}

	msg := ApplyProperties(p.template, overrides...)
	if msg.MessageId == "" {
		msg.MessageId = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.Body = body

	p.mu.Lock()
	defer p.mu.Unlock()

	// closed by the caller, so retrying cannot help
	if p.closed {
		return fmt.Errorf("%w: %w", contracts.ErrProducerClosed, contracts.ErrChannelClosed)
	}

	if err := p.channel.PublishWithContext(
		ctx,
		p.metadata.ExchangeName,
		p.metadata.Key(),
		p.metadata.Mandatory,
		false, // immediate
		msg,
	); err != nil {
		if rabbitmq.IsChannelClosed(err) {
			err = fmt.Errorf("%w: %w", contracts.ErrChannelClosed, err)
		}
		return p.transportError("publish", err)
	}

	if p.confirms == nil {
		return nil
	}

	p.published++
	return p.waitForConfirm(ctx, p.published)
}

// waitForConfirm waits for the confirm of tag. Must be called with p.mu held.
func (p *Producer[T]) waitForConfirm(ctx context.Context, tag uint64) error {
	timer := time.NewTimer(p.metadata.ConfirmTimeout)
	defer timer.Stop()

	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				return p.transportError("confirm", contracts.ErrChannelClosed)
			}
			if confirm.DeliveryTag < tag {
				p.logger.Debug("skipping stale confirm",
					"exchange", p.metadata.ExchangeName,
					"deliveryTag", confirm.DeliveryTag,
				)
				continue
			}
			if !confirm.Ack {
				return p.transportError("confirm", contracts.ErrPublishNacked)
			}
			return nil

		case <-timer.C:
			return p.transportError("confirm", contracts.ErrConfirmTimeout)

		case <-ctx.Done():
			return p.transportError("confirm", ctx.Err())
		}
	}
}

// Close closes the producer's channel. Further publishes fail.
func (p *Producer[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.channel.Close()
}

func (p *Producer[T]) transportError(op string, err error) error {
	return &contracts.TransportError{
		Op:         op,
		Target:     p.metadata.ExchangeName,
		RoutingKey: p.metadata.Key(),
		Err:        err,
		Timestamp:  time.Now(),
	}
}

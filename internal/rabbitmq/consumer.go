package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/burrow/contracts"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryHandler processes one delivery, including its ack or nack.
type DeliveryHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer runs basic.consume on a dedicated channel and passes deliveries
// to its handler strictly one at a time, in broker order.
type Consumer struct {
	opener        ChannelOpener
	queue         string
	prefetchCount int
	autoAck       bool
	exclusive     bool
	consumerTag   string
	logger        *slog.Logger

	mu      sync.Mutex
	channel Channel
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithAutoAck lets the broker consider deliveries acknowledged on send
func WithAutoAck(autoAck bool) ConsumerOption {
	return func(c *Consumer) {
		c.autoAck = autoAck
	}
}

// WithExclusive sets exclusive consumer mode
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer for queue
func NewConsumer(opener ChannelOpener, queue string, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		opener:        opener,
		queue:         queue,
		prefetchCount: 10,
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.consumerTag == "" {
		c.consumerTag = "burrow-" + uuid.NewString()
	}

	return c
}

// Tag returns the consumer tag
func (c *Consumer) Tag() string {
	return c.consumerTag
}

// Queue returns the consumed queue
func (c *Consumer) Queue() string {
	return c.queue
}

// Start opens the channel, starts consuming and returns once the broker
// accepted the subscription. Deliveries are processed in the background.
func (c *Consumer) Start(ctx context.Context, handler DeliveryHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		return fmt.Errorf("consumer %s already started", c.consumerTag)
	}

	ch, err := c.opener.OpenChannel()
	if err != nil {
		return err
	}

	if !c.autoAck {
		if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
			ch.Close()
			return &contracts.TransportError{Op: "set qos", Target: c.queue, Err: err}
		}
	}

	deliveries, err := ch.Consume(
		c.queue,
		c.consumerTag,
		c.autoAck,
		c.exclusive,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return &contracts.TransportError{Op: "consume", Target: c.queue, Err: err}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.channel = ch
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.processMessages(loopCtx, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", c.queue,
		"consumerTag", c.consumerTag,
		"prefetchCount", c.prefetchCount,
		"autoAck", c.autoAck,
	)

	return nil
}

// processMessages handles incoming deliveries until the context is
// cancelled, the delivery channel closes or the handler reports a
// transport failure.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery, handler DeliveryHandler) {
	defer func() {
		c.mu.Lock()
		if c.channel != nil && !c.channel.IsClosed() {
			c.channel.Close()
		}
		c.mu.Unlock()
		close(c.done)
		c.logger.Info("consumer stopped", "queue", c.queue, "consumerTag", c.consumerTag)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", c.queue)
				c.setErr(&contracts.TransportError{Op: "consume", Target: c.queue, Err: contracts.ErrChannelClosed})
				return
			}

			// an in-flight delivery always runs to its ack or nack
			err := handler(context.WithoutCancel(ctx), delivery)
			if err == nil {
				continue
			}

			var transportErr *contracts.TransportError
			if errors.As(err, &transportErr) {
				c.logger.Error("acknowledgement failed, closing channel",
					"error", err,
					"queue", c.queue,
					"deliveryTag", delivery.DeliveryTag,
				)
				c.setErr(err)
				return
			}

			c.logger.Warn("failed to handle message",
				"error", err,
				"queue", c.queue,
				"deliveryTag", delivery.DeliveryTag,
				"redelivered", delivery.Redelivered,
			)
		}
	}
}

func (c *Consumer) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Err returns the error that stopped the consumer, if any
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the consumer stopped
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Stop cancels consumption and waits for the in-flight delivery to finish
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

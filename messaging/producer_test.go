package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glimte/burrow/contracts"
	"github.com/glimte/burrow/internal/rabbitmqtest"
	"github.com/glimte/burrow/topology"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var noArgs = amqp.Table(nil)

type orderPlaced struct {
	ID int `json:"id"`
}

type orderShipped struct {
	ID int `json:"id"`
}

type unserializable struct {
	Callback func() `json:"callback"`
}

func ordersRegistry(t *testing.T) *topology.Registry {
	t.Helper()
	registry := topology.NewRegistry()
	orders, err := registry.AddExchange(topology.KindTopic, "orders", topology.Durable())
	require.NoError(t, err)
	require.NoError(t, orders.BindTo("orders.audit", topology.WithRoutingKey("audit")))
	return registry
}

func openerFor(ch *rabbitmqtest.MockChannel) *rabbitmqtest.MockOpener {
	opener := &rabbitmqtest.MockOpener{}
	opener.On("OpenChannel").Return(ch, nil)
	return opener
}

func TestProducerFactory(t *testing.T) {
	ctx := context.Background()

	t.Run("builds producer for orders scenario", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("ExchangeDeclare", "orders", "topic", true, false, false, false, noArgs).Return(nil)
		ch.On("ExchangeBind", "orders.audit", "audit", "orders", false, noArgs).Return(nil)
		ch.On("QueueBind", "orders.q", "orders.q", "orders", false, noArgs).Return(nil)
		ch.On("PublishWithContext", mock.Anything, "orders", "orders.q", false, false,
			mock.MatchedBy(func(msg amqp.Publishing) bool {
				return string(msg.Body) == `{"id":1}` && msg.ContentType == "application/json"
			})).Return(nil)

		factory := NewProducerFactory(openerFor(ch), ordersRegistry(t))
		_, err := AddProducer[orderPlaced](factory, "orders", "orders.q")
		require.NoError(t, err)

		producer, err := GetProducer[orderPlaced](ctx, factory)
		require.NoError(t, err)
		assert.Equal(t, []string{"ExchangeDeclare", "ExchangeBind", "QueueBind"}, ch.Methods())

		require.NoError(t, producer.Publish(ctx, orderPlaced{ID: 1}))
		ch.AssertNumberOfCalls(t, "PublishWithContext", 1)
		ch.AssertExpectations(t)
	})

	t.Run("memoizes producer per payload type", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		opener := openerFor(ch)
		factory := NewProducerFactory(opener, topology.NewRegistry())
		_, err := AddProducer[orderPlaced](factory, "amq.topic", "")
		require.NoError(t, err)

		first, err := GetProducer[orderPlaced](ctx, factory)
		require.NoError(t, err)
		second, err := GetProducer[orderPlaced](ctx, factory)
		require.NoError(t, err)

		assert.Same(t, first, second)
		opener.AssertNumberOfCalls(t, "OpenChannel", 1)
		assert.Empty(t, ch.Calls)
	})

	t.Run("freezes the registry on first build", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		registry := topology.NewRegistry()
		factory := NewProducerFactory(openerFor(ch), registry)
		_, err := AddProducer[orderPlaced](factory, "amq.direct", "")
		require.NoError(t, err)

		_, err = GetProducer[orderPlaced](ctx, factory)
		require.NoError(t, err)

		assert.True(t, registry.Frozen())
		_, err = registry.AddExchange(topology.KindFanout, "late")
		assert.True(t, contracts.IsConfiguration(err, contracts.CauseFrozen))
	})

	t.Run("mandatory producer fails when queue is missing", func(t *testing.T) {
		missing := &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue 'orders.q' in vhost '/'"}
		ch := &rabbitmqtest.MockChannel{}
		ch.On("ExchangeDeclare", "orders", "topic", true, false, false, false, noArgs).Return(nil)
		ch.On("ExchangeBind", "orders.audit", "audit", "orders", false, noArgs).Return(nil)
		ch.On("QueueDeclarePassive", "orders.q", false, false, false, false, noArgs).Return(missing)
		ch.On("Close").Return(nil)
		opener := openerFor(ch)

		factory := NewProducerFactory(opener, ordersRegistry(t))
		_, err := AddProducer[orderPlaced](factory, "orders", "orders.q", Mandatory())
		require.NoError(t, err)

		producer, err := GetProducer[orderPlaced](ctx, factory)

		assert.Nil(t, producer)
		var cfgErr *contracts.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "orders", cfgErr.Exchange)
		assert.Equal(t, "orders.q", cfgErr.Queue)
		assert.Equal(t, contracts.CauseQueueNotDeclared, cfgErr.Cause)
		assert.False(t, contracts.IsRetryable(err))
		ch.AssertCalled(t, "Close")
		ch.AssertNotCalled(t, "QueueBind", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

		_, err = GetProducer[orderPlaced](ctx, factory)
		assert.Error(t, err)
		opener.AssertNumberOfCalls(t, "OpenChannel", 2)
	})

	t.Run("channel open failure is returned", func(t *testing.T) {
		opener := &rabbitmqtest.MockOpener{}
		opener.On("OpenChannel").Return(nil, &contracts.TransportError{Op: "open channel", Err: contracts.ErrNotConnected})
		factory := NewProducerFactory(opener, topology.NewRegistry())
		_, err := AddProducer[orderPlaced](factory, "orders", "")
		require.NoError(t, err)

		_, err = GetProducer[orderPlaced](ctx, factory)

		assert.ErrorIs(t, err, contracts.ErrNotConnected)
		assert.True(t, contracts.IsRetryable(err))
	})

	t.Run("unregistered payload type", func(t *testing.T) {
		factory := NewProducerFactory(&rabbitmqtest.MockOpener{}, topology.NewRegistry())

		_, err := GetProducer[orderShipped](ctx, factory)

		assert.ErrorIs(t, err, contracts.ErrProducerNotRegistered)
	})

	t.Run("empty exchange is rejected at registration", func(t *testing.T) {
		factory := NewProducerFactory(&rabbitmqtest.MockOpener{}, topology.NewRegistry())

		_, err := AddProducer[orderPlaced](factory, "", "orders.q")

		assert.True(t, contracts.IsConfiguration(err, contracts.CauseMissingName))
		assert.ErrorIs(t, err, contracts.ErrMissingName)
	})

	t.Run("first registration wins", func(t *testing.T) {
		factory := NewProducerFactory(&rabbitmqtest.MockOpener{}, topology.NewRegistry())

		first, err := AddProducer[orderPlaced](factory, "orders", "orders.q")
		require.NoError(t, err)
		second, err := AddProducer[orderPlaced](factory, "billing", "billing.q")
		require.NoError(t, err)

		assert.Same(t, first, second)
		metadata, ok := Metadata[orderPlaced](factory)
		require.True(t, ok)
		assert.Equal(t, "orders", metadata.ExchangeName)
		assert.Equal(t, DefaultConfirmTimeout, metadata.ConfirmTimeout)
	})

	t.Run("enables confirm mode when requested", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("Confirm", false).Return(nil)
		ch.On("NotifyPublish", mock.Anything).Return()
		factory := NewProducerFactory(openerFor(ch), topology.NewRegistry())
		_, err := AddProducer[orderPlaced](factory, "amq.topic", "", WaitForConfirms())
		require.NoError(t, err)

		producer, err := GetProducer[orderPlaced](ctx, factory)

		require.NoError(t, err)
		assert.NotNil(t, producer.confirms)
		assert.Equal(t, []string{"Confirm", "NotifyPublish"}, ch.Methods())
	})

	t.Run("confirm mode failure closes the channel", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("Confirm", false).Return(amqp.ErrClosed)
		ch.On("Close").Return(amqp.ErrClosed)
		factory := NewProducerFactory(openerFor(ch), topology.NewRegistry())
		_, err := AddProducer[orderPlaced](factory, "amq.topic", "", WaitForConfirms())
		require.NoError(t, err)

		_, err = GetProducer[orderPlaced](ctx, factory)

		var transportErr *contracts.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, "enable confirms", transportErr.Op)
		ch.AssertCalled(t, "Close")
	})

	t.Run("close closes every producer channel", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("Close").Return(nil)
		factory := NewProducerFactory(openerFor(ch), topology.NewRegistry())
		_, err := AddProducer[orderPlaced](factory, "amq.topic", "")
		require.NoError(t, err)
		_, err = GetProducer[orderPlaced](ctx, factory)
		require.NoError(t, err)

		require.NoError(t, factory.Close())

		ch.AssertNumberOfCalls(t, "Close", 1)
	})
}

func newTestProducer(ch *rabbitmqtest.MockChannel, options ...ProducerOption) *Producer[orderPlaced] {
	metadata := ProducerMetadata{ExchangeName: "orders", QueueName: "orders.q", ConfirmTimeout: DefaultConfirmTimeout}
	for _, opt := range options {
		opt(&metadata)
	}
	factory := NewProducerFactory(openerFor(ch), topology.NewRegistry())
	producer := &Producer[orderPlaced]{
		channel:    ch,
		serializer: factory.Serializer(),
		metadata:   metadata,
		template:   ApplyProperties(amqp.Publishing{ContentType: "application/json"}, metadata.Properties...),
		typeName:   "orderPlaced",
		logger:     factory.logger,
	}
	if metadata.WaitForConfirms {
		producer.confirms = make(chan amqp.Confirmation, confirmBuffer)
	}
	return producer
}

func TestProducerPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("applies registered properties then overrides", func(t *testing.T) {
		var published amqp.Publishing
		ch := &rabbitmqtest.MockChannel{}
		ch.On("PublishWithContext", mock.Anything, "orders", "created", true, false, mock.Anything).
			Run(func(args mock.Arguments) { published = args.Get(5).(amqp.Publishing) }).
			Return(nil)
		producer := newTestProducer(ch,
			WithRoutingKey("created"),
			Mandatory(),
			WithProperties(Persistent(), WithPriority(3), WithAppID("shop")),
		)

		err := producer.Publish(ctx, orderPlaced{ID: 1}, WithPriority(7), WithCorrelationID("c-1"))

		require.NoError(t, err)
		assert.Equal(t, "application/json", published.ContentType)
		assert.Equal(t, amqp.Persistent, published.DeliveryMode)
		assert.Equal(t, uint8(7), published.Priority)
		assert.Equal(t, "shop", published.AppId)
		assert.Equal(t, "c-1", published.CorrelationId)
		assert.NotEmpty(t, published.MessageId)
		assert.False(t, published.Timestamp.IsZero())
		assert.JSONEq(t, `{"id":1}`, string(published.Body))
	})

	t.Run("overrides do not leak into the template", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("PublishWithContext", mock.Anything, "orders", "orders.q", false, false, mock.Anything).Return(nil)
		producer := newTestProducer(ch, WithProperties(WithHeader("tenant", "a")))

		require.NoError(t, producer.Publish(ctx, orderPlaced{ID: 1}, WithHeader("tenant", "b"), WithMessageID("m-1")))

		template := producer.Template()
		assert.Equal(t, "a", template.Headers["tenant"])
		assert.Empty(t, template.MessageId)
	})

	t.Run("every publish gets its own message id", func(t *testing.T) {
		var ids []string
		ch := &rabbitmqtest.MockChannel{}
		ch.On("PublishWithContext", mock.Anything, "orders", "orders.q", false, false, mock.Anything).
			Run(func(args mock.Arguments) { ids = append(ids, args.Get(5).(amqp.Publishing).MessageId) }).
			Return(nil)
		producer := newTestProducer(ch)

		require.NoError(t, producer.Publish(ctx, orderPlaced{ID: 1}))
		require.NoError(t, producer.Publish(ctx, orderPlaced{ID: 2}))

		require.Len(t, ids, 2)
		assert.NotEqual(t, ids[0], ids[1])
	})

	t.Run("serialization failure is not retryable", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		factory := NewProducerFactory(openerFor(ch), topology.NewRegistry())
		producer := &Producer[unserializable]{
			channel:    ch,
			serializer: factory.Serializer(),
			metadata:   ProducerMetadata{ExchangeName: "orders"},
			typeName:   "unserializable",
			logger:     factory.logger,
		}

		err := producer.Publish(ctx, unserializable{Callback: func() {}})

		assert.Error(t, err)
		assert.False(t, contracts.IsRetryable(err))
		assert.Empty(t, ch.Calls)
	})

	t.Run("closed channel is a transport error", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("PublishWithContext", mock.Anything, "orders", "orders.q", false, false, mock.Anything).Return(amqp.ErrClosed)
		producer := newTestProducer(ch)

		err := producer.Publish(ctx, orderPlaced{ID: 1})

		assert.ErrorIs(t, err, contracts.ErrChannelClosed)
		assert.ErrorIs(t, err, amqp.ErrClosed)
		assert.True(t, contracts.IsRetryable(err))
	})

	t.Run("waits for broker ack in confirm mode", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("PublishWithContext", mock.Anything, "orders", "orders.q", false, false, mock.Anything).Return(nil)
		producer := newTestProducer(ch, WaitForConfirms())
		producer.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}

		assert.NoError(t, producer.Publish(ctx, orderPlaced{ID: 1}))
	})

	t.Run("broker nack is a transport error", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("PublishWithContext", mock.Anything, "orders", "orders.q", false, false, mock.Anything).Return(nil)
		producer := newTestProducer(ch, WaitForConfirms())
		producer.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: false}

		err := producer.Publish(ctx, orderPlaced{ID: 1})

		assert.ErrorIs(t, err, contracts.ErrPublishNacked)
		assert.True(t, contracts.IsRetryable(err))
	})

	t.Run("confirm timeout is retryable", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("PublishWithContext", mock.Anything, "orders", "orders.q", false, false, mock.Anything).Return(nil)
		producer := newTestProducer(ch, WaitForConfirms(), WithConfirmTimeout(10*time.Millisecond))

		err := producer.Publish(ctx, orderPlaced{ID: 1})

		var transportErr *contracts.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, "confirm", transportErr.Op)
		assert.ErrorIs(t, err, contracts.ErrConfirmTimeout)
		assert.True(t, contracts.IsRetryable(err))
	})

	t.Run("skips confirms of timed out publishes", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("PublishWithContext", mock.Anything, "orders", "orders.q", false, false, mock.Anything).Return(nil)
		producer := newTestProducer(ch, WaitForConfirms(), WithConfirmTimeout(10*time.Millisecond))

		require.ErrorIs(t, producer.Publish(ctx, orderPlaced{ID: 1}), contracts.ErrConfirmTimeout)

		producer.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: false}
		producer.confirms <- amqp.Confirmation{DeliveryTag: 2, Ack: true}
		assert.NoError(t, producer.Publish(ctx, orderPlaced{ID: 2}))
	})

	t.Run("closed confirm channel", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("PublishWithContext", mock.Anything, "orders", "orders.q", false, false, mock.Anything).Return(nil)
		producer := newTestProducer(ch, WaitForConfirms())
		close(producer.confirms)

		err := producer.Publish(ctx, orderPlaced{ID: 1})

		assert.ErrorIs(t, err, contracts.ErrChannelClosed)
	})

	t.Run("context cancellation stops waiting", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("PublishWithContext", mock.Anything, "orders", "orders.q", false, false, mock.Anything).Return(nil)
		producer := newTestProducer(ch, WaitForConfirms())
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		err := producer.Publish(cancelled, orderPlaced{ID: 1})

		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("publish after close fails", func(t *testing.T) {
		ch := &rabbitmqtest.MockChannel{}
		ch.On("Close").Return(nil)
		producer := newTestProducer(ch)

		require.NoError(t, producer.Close())
		require.NoError(t, producer.Close())
		err := producer.Publish(ctx, orderPlaced{ID: 1})

		assert.ErrorIs(t, err, contracts.ErrChannelClosed)
		assert.ErrorIs(t, err, contracts.ErrProducerClosed)
		assert.False(t, contracts.IsRetryable(err))
		ch.AssertNumberOfCalls(t, "Close", 1)
		ch.AssertNotCalled(t, "PublishWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

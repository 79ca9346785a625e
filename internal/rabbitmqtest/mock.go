// Package rabbitmqtest provides testify mocks for the channel abstractions.
package rabbitmqtest

import (
	"context"

	"github.com/glimte/burrow/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
)

// MockChannel is a mock rabbitmq.Channel
type MockChannel struct {
	mock.Mock
}

var _ rabbitmq.Channel = (*MockChannel)(nil)

func (m *MockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *MockChannel) ExchangeBind(destination, key, source string, noWait bool, args amqp.Table) error {
	return m.Called(destination, key, source, noWait, args).Error(0)
}

func (m *MockChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	mockArgs := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return amqp.Queue{Name: name}, mockArgs.Error(0)
}

func (m *MockChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return m.Called(name, key, exchange, noWait, args).Error(0)
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *MockChannel) Confirm(noWait bool) error {
	return m.Called(noWait).Error(0)
}

// NotifyPublish returns the channel it is given, so tests can push
// confirmations into it after the producer registered it.
func (m *MockChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	m.Called(confirm)
	return confirm
}

func (m *MockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return m.Called(prefetchCount, prefetchSize, global).Error(0)
}

func (m *MockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	mockArgs := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	if mockArgs.Get(0) == nil {
		return nil, mockArgs.Error(1)
	}
	return mockArgs.Get(0).(<-chan amqp.Delivery), mockArgs.Error(1)
}

func (m *MockChannel) IsClosed() bool {
	return m.Called().Bool(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

// Methods returns the names of the recorded calls in order.
func (m *MockChannel) Methods() []string {
	methods := make([]string, 0, len(m.Calls))
	for _, call := range m.Calls {
		methods = append(methods, call.Method)
	}
	return methods
}

// MockOpener hands out a fixed channel
type MockOpener struct {
	mock.Mock
}

var _ rabbitmq.ChannelOpener = (*MockOpener)(nil)

func (m *MockOpener) OpenChannel() (rabbitmq.Channel, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(rabbitmq.Channel), args.Error(1)
}

// MockAcknowledger is a mock amqp.Acknowledger
type MockAcknowledger struct {
	mock.Mock
}

var _ amqp.Acknowledger = (*MockAcknowledger)(nil)

func (m *MockAcknowledger) Ack(tag uint64, multiple bool) error {
	return m.Called(tag, multiple).Error(0)
}

func (m *MockAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	return m.Called(tag, multiple, requeue).Error(0)
}

func (m *MockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Called(tag, requeue).Error(0)
}

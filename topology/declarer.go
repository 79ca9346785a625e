package topology

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/burrow/contracts"
	"github.com/glimte/burrow/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of an AMQP channel the declarer drives.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeBind(destination, key, source string, noWait bool, args amqp.Table) error
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// QueueBinding binds a producer's queue to its exchange.
type QueueBinding struct {
	Exchange   string
	Queue      string
	RoutingKey string // Defaults to Queue
	Mandatory  bool   // Queue must already exist in the broker
	Arguments  amqp.Table
}

// Key returns the routing key used for the binding
func (qb QueueBinding) Key() string {
	if qb.RoutingKey == "" {
		return qb.Queue
	}
	return qb.RoutingKey
}

// Declarer issues declare and bind commands for registered topology.
type Declarer struct {
	registry *Registry
	logger   *slog.Logger
}

// DeclarerOption configures the declarer
type DeclarerOption func(*Declarer)

// WithDeclarerLogger sets the logger
func WithDeclarerLogger(logger *slog.Logger) DeclarerOption {
	return func(d *Declarer) {
		d.logger = logger
	}
}

// NewDeclarer creates a declarer over registry
func NewDeclarer(registry *Registry, options ...DeclarerOption) *Declarer {
	d := &Declarer{
		registry: registry,
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Declare declares the exchange registered under name and its outbound
// bindings. When nothing is registered under name it issues no command and
// returns nil: the exchange is the default exchange or was declared
// elsewhere.
func (d *Declarer) Declare(ctx context.Context, ch Channel, name string) (*Exchange, error) {
	exchange, ok := d.registry.Lookup(name)
	if !ok {
		d.logger.DebugContext(ctx, "exchange not registered, skipping declaration", "exchange", name)
		return nil, nil
	}

	if err := ch.ExchangeDeclare(
		exchange.Name(),
		exchange.Kind(),
		exchange.IsDurable(),
		exchange.IsAutoDelete(),
		exchange.IsInternal(),
		exchange.IsNoWait(),
		exchange.Arguments(),
	); err != nil {
		return nil, classify("declare exchange", exchange.Name(), "", err)
	}

	for _, binding := range exchange.Bindings() {
		if err := ch.ExchangeBind(
			binding.Destination,
			binding.Key(),
			exchange.Name(),
			binding.NoWait,
			binding.Arguments,
		); err != nil {
			return nil, classify("bind exchange", binding.Destination, "", err)
		}
	}

	d.logger.DebugContext(ctx, "declared exchange",
		"exchange", exchange.Name(),
		"kind", exchange.Kind(),
		"bindings", len(exchange.Bindings()),
	)

	return exchange, nil
}

// BindQueue binds qb.Queue to qb.Exchange. exchange is the model returned
// by Declare and may be nil. A mandatory binding first checks passively
// that the queue exists; it never creates it.
func (d *Declarer) BindQueue(ctx context.Context, ch Channel, qb QueueBinding, exchange *Exchange) error {
	if qb.Queue == "" {
		return nil
	}

	if qb.Mandatory {
		if _, err := ch.QueueDeclarePassive(qb.Queue, false, false, false, false, nil); err != nil {
			switch rabbitmq.ClassifyRejection(err) {
			case rabbitmq.QueueNotFound, rabbitmq.ExchangeNotFound:
				// a passive declare only ever misses the queue
				return &contracts.ConfigurationError{
					Exchange: qb.Exchange,
					Queue:    qb.Queue,
					Cause:    contracts.CauseQueueNotDeclared,
					Err:      err,
				}
			case rabbitmq.NotRejected:
				return transportError("check queue", qb.Queue, err)
			}
			return classify("check queue", qb.Exchange, qb.Queue, err)
		}
	}

	noWait := exchange != nil && exchange.IsNoWait()
	if err := ch.QueueBind(qb.Queue, qb.Key(), qb.Exchange, noWait, qb.Arguments); err != nil {
		return classify("bind queue", qb.Exchange, qb.Queue, err)
	}

	d.logger.DebugContext(ctx, "bound queue",
		"exchange", qb.Exchange,
		"queue", qb.Queue,
		"routingKey", qb.Key(),
	)

	return nil
}

// classify turns a broker rejection into a ConfigurationError and
// anything else into a TransportError.
func classify(op, exchange, queue string, err error) error {
	switch rabbitmq.ClassifyRejection(err) {
	case rabbitmq.QueueNotFound:
		return &contracts.ConfigurationError{Exchange: exchange, Queue: queue, Cause: contracts.CauseQueueNotDeclared, Err: err}
	case rabbitmq.ExchangeNotFound:
		return &contracts.ConfigurationError{Exchange: exchange, Queue: queue, Cause: contracts.CauseExchangeNotDeclared, Err: err}
	case rabbitmq.PreconditionFailed:
		return &contracts.ConfigurationError{Exchange: exchange, Queue: queue, Cause: contracts.CausePreconditionFailed, Err: err}
	case rabbitmq.AccessRefused:
		return &contracts.ConfigurationError{Exchange: exchange, Queue: queue, Cause: contracts.CauseAccessRefused, Err: err}
	}
	return transportError(op, exchange, err)
}

func transportError(op, target string, err error) error {
	return &contracts.TransportError{
		Op:        op,
		Target:    target,
		Err:       err,
		Timestamp: time.Now(),
	}
}

package topology

import (
	"reflect"
	"sync"

	"github.com/glimte/burrow/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange kinds understood by RabbitMQ
const (
	KindDirect  = amqp.ExchangeDirect
	KindFanout  = amqp.ExchangeFanout
	KindTopic   = amqp.ExchangeTopic
	KindHeaders = amqp.ExchangeHeaders
)

// Exchange describes an exchange and its outbound exchange-to-exchange
// bindings. Kind and name are fixed at creation; flags are set through
// options and frozen with the registry.
type Exchange struct {
	kind       string
	name       string
	durable    bool
	autoDelete bool
	internal   bool
	noWait     bool
	arguments  amqp.Table

	mu       sync.RWMutex
	bindings []Binding
	frozen   bool
}

// Binding routes messages from its source exchange to Destination.
type Binding struct {
	Destination string
	RoutingKey  string // Defaults to Destination
	NoWait      bool
	Arguments   amqp.Table
}

// Key returns the routing key used for the binding
func (b Binding) Key() string {
	if b.RoutingKey == "" {
		return b.Destination
	}
	return b.RoutingKey
}

func (b Binding) equal(other Binding) bool {
	return b.Destination == other.Destination &&
		b.Key() == other.Key() &&
		b.NoWait == other.NoWait &&
		tablesEqual(b.Arguments, other.Arguments)
}

// ExchangeOption configures an exchange at registration
type ExchangeOption func(*Exchange)

// Durable makes the exchange survive broker restarts
func Durable() ExchangeOption {
	return func(e *Exchange) {
		e.durable = true
	}
}

// AutoDelete deletes the exchange once its last binding is removed
func AutoDelete() ExchangeOption {
	return func(e *Exchange) {
		e.autoDelete = true
	}
}

// Internal rejects publishes from clients; only bindings feed the exchange
func Internal() ExchangeOption {
	return func(e *Exchange) {
		e.internal = true
	}
}

// NoWait declares without waiting for the broker reply
func NoWait() ExchangeOption {
	return func(e *Exchange) {
		e.noWait = true
	}
}

// WithArgument sets an exchange argument, e.g. "alternate-exchange"
func WithArgument(key string, value interface{}) ExchangeOption {
	return func(e *Exchange) {
		if e.arguments == nil {
			e.arguments = amqp.Table{}
		}
		e.arguments[key] = value
	}
}

// BindingOption configures an exchange binding
type BindingOption func(*Binding)

// WithRoutingKey overrides the default routing key (the destination name)
func WithRoutingKey(key string) BindingOption {
	return func(b *Binding) {
		b.RoutingKey = key
	}
}

// WithBindingNoWait binds without waiting for the broker reply
func WithBindingNoWait() BindingOption {
	return func(b *Binding) {
		b.NoWait = true
	}
}

// WithBindingArgument sets a binding argument, e.g. headers match rules
func WithBindingArgument(key string, value interface{}) BindingOption {
	return func(b *Binding) {
		if b.Arguments == nil {
			b.Arguments = amqp.Table{}
		}
		b.Arguments[key] = value
	}
}

func newExchange(kind, name string, options ...ExchangeOption) *Exchange {
	e := &Exchange{kind: kind, name: name}
	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *Exchange) Kind() string          { return e.kind }
func (e *Exchange) Name() string          { return e.name }
func (e *Exchange) IsDurable() bool       { return e.durable }
func (e *Exchange) IsAutoDelete() bool    { return e.autoDelete }
func (e *Exchange) IsInternal() bool      { return e.internal }
func (e *Exchange) IsNoWait() bool        { return e.noWait }
func (e *Exchange) Arguments() amqp.Table { return e.arguments }

// Bindings returns a copy of the outbound bindings
func (e *Exchange) Bindings() []Binding {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Binding(nil), e.bindings...)
}

// BindTo adds a binding from this exchange to the destination exchange.
// Adding an identical binding again is a no-op.
func (e *Exchange) BindTo(destination string, options ...BindingOption) error {
	if destination == "" {
		return &contracts.ConfigurationError{
			Exchange: e.name,
			Cause:    contracts.CauseMissingName,
			Err:      contracts.ErrMissingName,
		}
	}

	binding := Binding{Destination: destination}
	for _, opt := range options {
		opt(&binding)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.frozen {
		return &contracts.ConfigurationError{
			Exchange: e.name,
			Cause:    contracts.CauseFrozen,
			Err:      contracts.ErrTopologyFrozen,
		}
	}

	for _, existing := range e.bindings {
		if existing.equal(binding) {
			return nil
		}
	}

	e.bindings = append(e.bindings, binding)
	return nil
}

func (e *Exchange) freeze() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frozen = true
}

// sameDeclaration reports whether other would declare identically
func (e *Exchange) sameDeclaration(other *Exchange) bool {
	return e.kind == other.kind &&
		e.durable == other.durable &&
		e.autoDelete == other.autoDelete &&
		e.internal == other.internal &&
		e.noWait == other.noWait &&
		tablesEqual(e.arguments, other.arguments)
}

func tablesEqual(a, b amqp.Table) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

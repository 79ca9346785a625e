package contracts

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Registration errors
	ErrMissingName           = errors.New("burrow: name is required")
	ErrTopologyFrozen        = errors.New("burrow: topology is frozen")
	ErrExchangeConflict      = errors.New("burrow: exchange already registered with different parameters")
	ErrProducerNotRegistered = errors.New("burrow: no producer registered for payload type")
	ErrProducerClosed        = errors.New("burrow: producer is closed")

	// Broker errors
	ErrQueueNotDeclared    = errors.New("burrow: queue not declared in broker")
	ErrExchangeNotDeclared = errors.New("burrow: exchange not declared in broker")
	ErrPreconditionFailed  = errors.New("burrow: broker precondition failed")
	ErrAccessRefused       = errors.New("burrow: broker access refused")

	// Transport errors
	ErrNotConnected   = errors.New("burrow: not connected")
	ErrChannelClosed  = errors.New("burrow: channel is closed")
	ErrConfirmTimeout = errors.New("burrow: timeout waiting for publisher confirm")
	ErrPublishNacked  = errors.New("burrow: publish was nacked by broker")
)

// Cause tells why a ConfigurationError was raised.
type Cause int

const (
	CauseUnknown Cause = iota
	CauseMissingName
	CauseFrozen
	CauseConflict
	CauseQueueNotDeclared
	CauseExchangeNotDeclared
	CausePreconditionFailed
	CauseAccessRefused
)

func (c Cause) String() string {
	switch c {
	case CauseMissingName:
		return "missing name"
	case CauseFrozen:
		return "frozen"
	case CauseConflict:
		return "conflict"
	case CauseQueueNotDeclared:
		return "queue not declared"
	case CauseExchangeNotDeclared:
		return "exchange not declared"
	case CausePreconditionFailed:
		return "precondition failed"
	case CauseAccessRefused:
		return "access refused"
	default:
		return "unknown"
	}
}

// ConfigurationError is raised while registering topology or building a
// producer. It is fatal to startup and never retried.
type ConfigurationError struct {
	Exchange string // Exchange involved, may be empty
	Queue    string // Queue involved, may be empty
	Cause    Cause
	Err      error // Underlying broker rejection or sentinel
}

func (e *ConfigurationError) Error() string {
	switch e.Cause {
	case CauseQueueNotDeclared:
		return fmt.Sprintf("burrow configuration error: producer for exchange '%s' requires queue '%s', but the queue is not declared in broker: %v",
			e.Exchange, e.Queue, e.Err)
	case CauseExchangeNotDeclared:
		if e.Queue == "" {
			return fmt.Sprintf("burrow configuration error: cannot bind exchange '%s', an exchange it references is not declared in broker: %v",
				e.Exchange, e.Err)
		}
		return fmt.Sprintf("burrow configuration error: cannot bind queue '%s', exchange '%s' is not declared in broker: %v",
			e.Queue, e.Exchange, e.Err)
	}
	if e.Queue != "" {
		return fmt.Sprintf("burrow configuration error: %s for exchange '%s' and queue '%s': %v",
			e.Cause, e.Exchange, e.Queue, e.Err)
	}
	return fmt.Sprintf("burrow configuration error: %s for exchange '%s': %v", e.Cause, e.Exchange, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TransportError is raised when the broker or the channel fails an
// operation for reasons unrelated to the payload or the topology.
type TransportError struct {
	Op         string    // Operation that failed
	Target     string    // Exchange name, queue name or broker address
	RoutingKey string    // Routing key used, if any
	Err        error     // Underlying error
	Timestamp  time.Time // When the error occurred
}

func (e *TransportError) Error() string {
	if e.RoutingKey != "" {
		return fmt.Sprintf("burrow transport error: %s on %s/%s: %v", e.Op, e.Target, e.RoutingKey, e.Err)
	}
	return fmt.Sprintf("burrow transport error: %s on '%s': %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProcessingError wraps a deserialization, resolution or handler failure
// for one delivery.
type ProcessingError struct {
	PayloadType string
	Consumer    string
	DeliveryTag uint64
	Redelivered bool
	Err         error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("burrow processing error: consumer %s failed to process %s (tag=%d, redelivered=%v): %v",
		e.Consumer, e.PayloadType, e.DeliveryTag, e.Redelivered, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may retry the failed operation.
// Only transport failures are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}

	var procErr *ProcessingError
	if errors.As(err, &procErr) {
		return false
	}

	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsConfiguration reports whether err is a ConfigurationError with the given cause.
func IsConfiguration(err error, cause Cause) bool {
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		return false
	}
	return cfgErr.Cause == cause
}

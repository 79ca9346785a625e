package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/burrow/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Dialer opens an AMQP connection. amqp.Dial is the default.
type Dialer func(url string) (*amqp.Connection, error)

// ConnectionManager owns the broker connection and opens dedicated channels
// from it. It does not reconnect: once the connection closes, OpenChannel
// reports a transport error until Connect is called again.
type ConnectionManager struct {
	url            string
	conn           *amqp.Connection
	mu             sync.RWMutex
	dial           Dialer
	connectTimeout time.Duration
	logger         *slog.Logger
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithConnectTimeout bounds how long Connect waits for the broker
func WithConnectTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.connectTimeout = timeout
	}
}

// WithDialer replaces amqp.Dial
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		dial:           amqp.Dial,
		connectTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the connection
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.conn != nil && !cm.conn.IsClosed() {
		return nil
	}

	connCtx, cancel := context.WithTimeout(ctx, cm.connectTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)

	go func() {
		conn, err := cm.dial(cm.url)
		done <- result{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return &contracts.TransportError{
				Op:        "connect",
				Target:    SanitizeURL(cm.url),
				Err:       res.err,
				Timestamp: time.Now(),
			}
		}
		cm.conn = res.conn
		cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
		return nil

	case <-connCtx.Done():
		// a late dial must not leak its connection
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		return &contracts.TransportError{
			Op:        "connect",
			Target:    SanitizeURL(cm.url),
			Err:       fmt.Errorf("%w: %v", contracts.ErrNotConnected, connCtx.Err()),
			Timestamp: time.Now(),
		}
	}
}

// OpenChannel opens a new channel on the current connection
func (cm *ConnectionManager) OpenChannel() (Channel, error) {
	cm.mu.RLock()
	conn := cm.conn
	cm.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, &contracts.TransportError{
			Op:        "open channel",
			Target:    SanitizeURL(cm.url),
			Err:       contracts.ErrNotConnected,
			Timestamp: time.Now(),
		}
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &contracts.TransportError{
			Op:        "open channel",
			Target:    SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	return ch, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn != nil && !cm.conn.IsClosed()
}

// Close closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.conn == nil {
		return nil
	}

	err := cm.conn.Close()
	cm.conn = nil
	if err != nil && !IsChannelClosed(err) {
		return err
	}
	return nil
}

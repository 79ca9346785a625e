package health

import (
	"context"
	"time"
)

// Connection is satisfied by the connection manager
type Connection interface {
	IsConnected() bool
}

// ConnectionChecker checks the broker connection
type ConnectionChecker struct {
	conn Connection
}

// NewConnectionChecker creates a connection checker
func NewConnectionChecker(conn Connection) *ConnectionChecker {
	return &ConnectionChecker{conn: conn}
}

func (c *ConnectionChecker) Name() string {
	return "rabbitmq"
}

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	connected := c.conn.IsConnected()
	if connected {
		result.Status = StatusHealthy
		result.Message = "Connection is open"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "Connection is closed"
	}

	result.Details["connection_open"] = connected
	result.Duration = time.Since(start)
	return result
}

// Consumer is satisfied by a running queue consumer
type Consumer interface {
	Queue() string
	Tag() string
	Done() <-chan struct{}
	Err() error
}

// ConsumerChecker reports a consumer that stopped on its own as unhealthy
type ConsumerChecker struct {
	consumer Consumer
}

// NewConsumerChecker creates a consumer checker
func NewConsumerChecker(consumer Consumer) *ConsumerChecker {
	return &ConsumerChecker{consumer: consumer}
}

func (c *ConsumerChecker) Name() string {
	return "consumer:" + c.consumer.Queue()
}

func (c *ConsumerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"queue":        c.consumer.Queue(),
			"consumer_tag": c.consumer.Tag(),
		},
	}

	select {
	case <-c.consumer.Done():
		result.Status = StatusUnhealthy
		result.Message = "Consumer stopped"
		if err := c.consumer.Err(); err != nil {
			result.Error = err.Error()
		}
	default:
		result.Status = StatusHealthy
		result.Message = "Consumer is running"
	}

	result.Duration = time.Since(start)
	return result
}

// ComponentChecker allows checking custom components
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, map[string]interface{}, error)
}

// NewComponentChecker creates a checker for custom components
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, map[string]interface{}, error)) *ComponentChecker {
	return &ComponentChecker{
		name:    name,
		checker: checker,
	}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	status, message, details, err := c.checker(ctx)

	result.Status = status
	result.Message = message
	if details != nil {
		result.Details = details
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)

	return result
}

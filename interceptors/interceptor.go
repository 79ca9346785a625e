package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/burrow/contracts"
	"github.com/glimte/burrow/messaging"
)

// Interceptor processes a payload and calls the next handler in the chain
type Interceptor[T any] interface {
	Intercept(ctx context.Context, payload T, next contracts.Handler[T]) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc[T any] struct {
	name string
	fn   func(ctx context.Context, payload T, next contracts.Handler[T]) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc[T any](name string, fn func(ctx context.Context, payload T, next contracts.Handler[T]) error) *InterceptorFunc[T] {
	return &InterceptorFunc[T]{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc[T]) Intercept(ctx context.Context, payload T, next contracts.Handler[T]) error {
	return i.fn(ctx, payload, next)
}

// Name implements Interceptor
func (i *InterceptorFunc[T]) Name() string {
	return i.name
}

// Chain runs interceptors in the order they were added
type Chain[T any] struct {
	interceptors []Interceptor[T]
	logger       *slog.Logger
}

// NewChain creates an empty chain
func NewChain[T any](logger *slog.Logger) *Chain[T] {
	if logger == nil {
		logger = slog.Default()
	}

	return &Chain[T]{logger: logger}
}

// Add appends an interceptor to the chain
func (c *Chain[T]) Add(interceptor Interceptor[T]) *Chain[T] {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Handler returns final wrapped by every interceptor
func (c *Chain[T]) Handler(final contracts.Handler[T]) contracts.Handler[T] {
	// Build the chain in reverse order
	handler := final
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := handler
		handler = contracts.HandlerFunc[T](func(ctx context.Context, payload T) error {
			return interceptor.Intercept(ctx, payload, next)
		})
	}
	return handler
}

// Wrap applies the chain to every handler resolve builds
func (c *Chain[T]) Wrap(resolve messaging.HandlerFactory[T]) messaging.HandlerFactory[T] {
	return func(ctx context.Context, scope *messaging.Scope) (contracts.Handler[T], error) {
		handler, err := resolve(ctx, scope)
		if err != nil || handler == nil {
			return handler, err
		}
		c.logger.DebugContext(ctx, "wrapping handler", "interceptors", len(c.interceptors))
		return c.Handler(handler), nil
	}
}

// LoggingInterceptor logs payload processing with timing
type LoggingInterceptor[T any] struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor[T any](logger *slog.Logger) *LoggingInterceptor[T] {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor[T]{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor[T]) Intercept(ctx context.Context, payload T, next contracts.Handler[T]) error {
	start := time.Now()
	attrs := []any{"payloadType", fmt.Sprintf("%T", payload)}
	if delivery, ok := messaging.DeliveryFromContext(ctx); ok {
		attrs = append(attrs,
			"messageId", delivery.MessageId,
			"deliveryTag", delivery.DeliveryTag,
			"redelivered", delivery.Redelivered,
		)
	}

	i.logger.DebugContext(ctx, "processing payload", attrs...)

	err := next.Handle(ctx, payload)
	attrs = append(attrs, "duration", time.Since(start))
	if err != nil {
		i.logger.WarnContext(ctx, "payload processing failed", append(attrs, "error", err)...)
		return err
	}

	i.logger.DebugContext(ctx, "payload processed", attrs...)
	return nil
}

// Name implements Interceptor
func (i *LoggingInterceptor[T]) Name() string {
	return "LoggingInterceptor"
}

// TimeoutInterceptor bounds how long the rest of the chain may run. The
// deadline is signalled through ctx; Intercept still waits for the handler
// to return before reporting the timeout, so a handler that ignores ctx
// delays the nack but never outlives its delivery.
type TimeoutInterceptor[T any] struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor[T any](timeout time.Duration) *TimeoutInterceptor[T] {
	return &TimeoutInterceptor[T]{timeout: timeout}
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor[T]) Intercept(ctx context.Context, payload T, next contracts.Handler[T]) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- next.Handle(timeoutCtx, payload)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if err := <-done; err != nil && !errors.Is(err, timeoutCtx.Err()) {
			return fmt.Errorf("processing timed out after %v: %w", i.timeout, errors.Join(timeoutCtx.Err(), err))
		}
		return fmt.Errorf("processing timed out after %v: %w", i.timeout, timeoutCtx.Err())
	}
}

// Name implements Interceptor
func (i *TimeoutInterceptor[T]) Name() string {
	return "TimeoutInterceptor"
}

// ValidationInterceptor rejects payloads the validator refuses. The
// handler is not called and the delivery is nacked.
type ValidationInterceptor[T any] struct {
	validate func(T) error
}

// NewValidationInterceptor creates a new validation interceptor
func NewValidationInterceptor[T any](validate func(T) error) *ValidationInterceptor[T] {
	return &ValidationInterceptor[T]{validate: validate}
}

// Intercept implements Interceptor
func (i *ValidationInterceptor[T]) Intercept(ctx context.Context, payload T, next contracts.Handler[T]) error {
	if err := i.validate(payload); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return next.Handle(ctx, payload)
}

// Name implements Interceptor
func (i *ValidationInterceptor[T]) Name() string {
	return "ValidationInterceptor"
}

package contracts

import "context"

// Handler processes a single payload of type T.
type Handler[T any] interface {
	Handle(ctx context.Context, payload T) error
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc[T any] func(ctx context.Context, payload T) error

// Handle implements Handler
func (f HandlerFunc[T]) Handle(ctx context.Context, payload T) error {
	return f(ctx, payload)
}

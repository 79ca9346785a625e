package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/burrow/contracts"
)

// ErrFiltered is returned for payloads a SkipWithError filter drops
var ErrFiltered = errors.New("payload filtered")

// SkipBehavior defines what happens when a payload is filtered out
type SkipBehavior int

const (
	// SkipSilently drops the payload and acks it
	SkipSilently SkipBehavior = iota
	// SkipWithError fails the payload so it is nacked
	SkipWithError
	// SkipWithLog acks the payload and logs that it was dropped
	SkipWithLog
)

// FilteringInterceptor only passes payloads the filter accepts
type FilteringInterceptor[T any] struct {
	filter       func(ctx context.Context, payload T) (bool, error)
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor[T any](filter func(ctx context.Context, payload T) (bool, error), skipBehavior SkipBehavior, logger *slog.Logger) *FilteringInterceptor[T] {
	if logger == nil {
		logger = slog.Default()
	}

	return &FilteringInterceptor[T]{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       logger,
	}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor[T]) Intercept(ctx context.Context, payload T, next contracts.Handler[T]) error {
	shouldProcess, err := i.filter(ctx, payload)
	if err != nil {
		return fmt.Errorf("filter error: %w", err)
	}

	if shouldProcess {
		return next.Handle(ctx, payload)
	}

	switch i.skipBehavior {
	case SkipWithError:
		return fmt.Errorf("%w: %T", ErrFiltered, payload)
	case SkipWithLog:
		i.logger.InfoContext(ctx, "payload filtered", "payloadType", fmt.Sprintf("%T", payload))
	}
	return nil
}

// Name implements Interceptor
func (i *FilteringInterceptor[T]) Name() string {
	return "FilteringInterceptor"
}

package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/glimte/burrow/contracts"
)

// Scope holds the state of one dispatch cycle. It is created when a
// delivery arrives and closed once the delivery is acked or nacked.
// Anything a handler builds for a delivery belongs in its scope.
type Scope struct {
	mu      sync.Mutex
	values  map[any]any
	closers []func() error
	closed  bool
}

// NewScope creates an empty scope
func NewScope() *Scope {
	return &Scope{values: make(map[any]any)}
}

// Set stores value under key
func (s *Scope) Set(key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Value returns the value stored under key
func (s *Scope) Value(key any) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// OnClose registers fn to run when the scope closes. Closers run in
// reverse registration order. Registering on a closed scope runs fn
// immediately.
func (s *Scope) OnClose(fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fn()
	}
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
	return nil
}

// Close runs the registered closers and returns their joined errors.
// Closing twice is a no-op.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.values = make(map[any]any)
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Resolve returns the value stored under key, building and storing it on
// first use within s.
func Resolve[V any](s *Scope, key any, build func() (V, error)) (V, error) {
	if v, ok := s.Value(key); ok {
		typed, ok := v.(V)
		if !ok {
			var zero V
			return zero, fmt.Errorf("scope value %v has type %T", key, v)
		}
		return typed, nil
	}

	v, err := build()
	if err != nil {
		var zero V
		return zero, err
	}
	s.Set(key, v)
	return v, nil
}

// HandlerFactory builds the handler for one delivery inside its scope
type HandlerFactory[T any] func(ctx context.Context, scope *Scope) (contracts.Handler[T], error)

// HandleFunc wraps fn as a HandlerFactory
func HandleFunc[T any](fn func(ctx context.Context, payload T) error) HandlerFactory[T] {
	return func(context.Context, *Scope) (contracts.Handler[T], error) {
		return contracts.HandlerFunc[T](fn), nil
	}
}

type scopeKey struct{}
type deliveryKey struct{}

// ScopeFromContext returns the scope of the delivery being handled
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}

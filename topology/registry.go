package topology

import (
	"sort"
	"sync"

	"github.com/glimte/burrow/contracts"
	"github.com/samber/lo"
)

// Registry holds the exchanges registered at startup. Registration stops
// once the registry is frozen, which happens when the first producer is
// built; after that the registry is read-only.
type Registry struct {
	mu        sync.RWMutex
	exchanges map[string]*Exchange
	frozen    bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		exchanges: make(map[string]*Exchange),
	}
}

// AddExchange registers an exchange. Registering the same name again with
// identical parameters returns the existing exchange; different parameters
// are a configuration error.
func (r *Registry) AddExchange(kind, name string, options ...ExchangeOption) (*Exchange, error) {
	if name == "" || kind == "" {
		return nil, &contracts.ConfigurationError{
			Exchange: name,
			Cause:    contracts.CauseMissingName,
			Err:      contracts.ErrMissingName,
		}
	}

	candidate := newExchange(kind, name, options...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.exchanges[name]; ok {
		if existing.sameDeclaration(candidate) {
			return existing, nil
		}
		return nil, &contracts.ConfigurationError{
			Exchange: name,
			Cause:    contracts.CauseConflict,
			Err:      contracts.ErrExchangeConflict,
		}
	}

	if r.frozen {
		return nil, &contracts.ConfigurationError{
			Exchange: name,
			Cause:    contracts.CauseFrozen,
			Err:      contracts.ErrTopologyFrozen,
		}
	}

	r.exchanges[name] = candidate
	return candidate, nil
}

// Lookup returns the exchange registered under name
func (r *Registry) Lookup(name string) (*Exchange, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exchange, ok := r.exchanges[name]
	return exchange, ok
}

// Names returns the registered exchange names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.exchanges)
	sort.Strings(names)
	return names
}

// Freeze stops further registration and mutation. It is safe to call
// more than once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.frozen = true
	for _, exchange := range r.exchanges {
		exchange.freeze()
	}
}

// Frozen reports whether the registry is frozen
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

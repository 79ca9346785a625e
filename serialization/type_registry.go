package serialization

import (
	"fmt"
	"reflect"
	"sync"
)

// TypeRegistry names payload types. Producers are cached per type and
// failures are reported with the type name, so names must be stable.
type TypeRegistry struct {
	names map[reflect.Type]string
	types map[string]reflect.Type
	mu    sync.RWMutex
}

// NewTypeRegistry creates a new type registry
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		names: make(map[reflect.Type]string),
		types: make(map[string]reflect.Type),
	}
}

// Register gives T an explicit name
func Register[T any](r *TypeRegistry, typeName string) error {
	if typeName == "" {
		return fmt.Errorf("type name cannot be empty")
	}

	t := reflect.TypeFor[T]()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.types[typeName]; exists && existing != t {
		return fmt.Errorf("type name %s already registered to %v", typeName, existing)
	}
	if existing, exists := r.names[t]; exists && existing != typeName {
		return fmt.Errorf("type %v already registered as %s", t, existing)
	}

	r.types[typeName] = t
	r.names[t] = typeName
	return nil
}

// Name returns the registered name of t, or its qualified Go name.
func (r *TypeRegistry) Name(t reflect.Type) string {
	r.mu.RLock()
	name, ok := r.names[t]
	r.mu.RUnlock()
	if ok {
		return name
	}
	return QualifiedName(t)
}

// Lookup returns the type registered under typeName
func (r *TypeRegistry) Lookup(typeName string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[typeName]
	return t, ok
}

// TypeName returns the name of T in r
func TypeName[T any](r *TypeRegistry) string {
	return r.Name(reflect.TypeFor[T]())
}

// QualifiedName returns the package-qualified name of t. Pointer types
// are named after their element.
func QualifiedName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	prefix := ""
	for t.Kind() == reflect.Ptr {
		prefix += "*"
		t = t.Elem()
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return prefix + t.String()
	}
	return prefix + t.PkgPath() + "." + t.Name()
}

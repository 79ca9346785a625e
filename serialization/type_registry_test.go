package serialization

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test payload types
type OrderPlaced struct {
	ID     int     `json:"id"`
	Amount float64 `json:"amount"`
}

type OrderCancelled struct {
	ID int `json:"id"`
}

func TestTypeRegistry(t *testing.T) {
	t.Run("creates new registry", func(t *testing.T) {
		registry := NewTypeRegistry()
		assert.NotNil(t, registry)
		assert.NotNil(t, registry.types)
		assert.NotNil(t, registry.names)
	})

	t.Run("unregistered type uses qualified name", func(t *testing.T) {
		registry := NewTypeRegistry()

		name := TypeName[OrderPlaced](registry)

		assert.Equal(t, "github.com/glimte/burrow/serialization.OrderPlaced", name)
	})

	t.Run("registered type uses its name", func(t *testing.T) {
		registry := NewTypeRegistry()

		require.NoError(t, Register[OrderPlaced](registry, "orders.placed"))

		assert.Equal(t, "orders.placed", TypeName[OrderPlaced](registry))
		found, ok := registry.Lookup("orders.placed")
		assert.True(t, ok)
		assert.Equal(t, reflect.TypeFor[OrderPlaced](), found)
	})

	t.Run("rejects empty type name", func(t *testing.T) {
		registry := NewTypeRegistry()

		err := Register[OrderPlaced](registry, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "type name cannot be empty")
	})

	t.Run("handles duplicate registration of same type", func(t *testing.T) {
		registry := NewTypeRegistry()

		require.NoError(t, Register[OrderPlaced](registry, "orders.placed"))
		assert.NoError(t, Register[OrderPlaced](registry, "orders.placed"))
	})

	t.Run("rejects name taken by another type", func(t *testing.T) {
		registry := NewTypeRegistry()

		require.NoError(t, Register[OrderPlaced](registry, "orders"))
		err := Register[OrderCancelled](registry, "orders")

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("rejects second name for same type", func(t *testing.T) {
		registry := NewTypeRegistry()

		require.NoError(t, Register[OrderPlaced](registry, "orders.placed"))
		err := Register[OrderPlaced](registry, "orders.created")

		assert.Error(t, err)
	})
}

func TestQualifiedName(t *testing.T) {
	assert.Equal(t, "*github.com/glimte/burrow/serialization.OrderPlaced", QualifiedName(reflect.TypeFor[*OrderPlaced]()))
	assert.Equal(t, "string", QualifiedName(reflect.TypeFor[string]()))
	assert.Equal(t, "map[string]int", QualifiedName(reflect.TypeFor[map[string]int]()))
	assert.Equal(t, "<nil>", QualifiedName(nil))
}

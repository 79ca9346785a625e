package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSerializer(t *testing.T) {
	t.Run("serializes and decodes payload", func(t *testing.T) {
		serializer := NewJSONSerializer()

		data, err := serializer.Serialize(OrderPlaced{ID: 1, Amount: 9.5})
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":1,"amount":9.5}`, string(data))

		payload, err := Decode[OrderPlaced](serializer, data, "OrderPlaced")
		require.NoError(t, err)
		assert.Equal(t, OrderPlaced{ID: 1, Amount: 9.5}, payload)
	})

	t.Run("content type is json", func(t *testing.T) {
		assert.Equal(t, "application/json", NewJSONSerializer().ContentType())
	})

	t.Run("pretty print indents output", func(t *testing.T) {
		serializer := NewJSONSerializer(WithPrettyPrint(true))

		data, err := serializer.Serialize(OrderCancelled{ID: 2})

		require.NoError(t, err)
		assert.Contains(t, string(data), "\n  \"id\": 2")
	})

	t.Run("malformed body is a deserialization error", func(t *testing.T) {
		serializer := NewJSONSerializer()

		_, err := Decode[OrderPlaced](serializer, []byte(`{"id":`), "OrderPlaced")

		var deserErr *DeserializationError
		require.ErrorAs(t, err, &deserErr)
		assert.Equal(t, "OrderPlaced", deserErr.TypeName)
		assert.Contains(t, err.Error(), "failed to deserialize OrderPlaced")
	})

	t.Run("empty body is a deserialization error", func(t *testing.T) {
		_, err := Decode[OrderPlaced](NewJSONSerializer(), nil, "OrderPlaced")

		var deserErr *DeserializationError
		assert.ErrorAs(t, err, &deserErr)
	})

	t.Run("unknown fields rejected when configured", func(t *testing.T) {
		body := []byte(`{"id":1,"unexpected":true}`)

		_, err := Decode[OrderCancelled](NewJSONSerializer(), body, "OrderCancelled")
		assert.NoError(t, err)

		_, err = Decode[OrderCancelled](NewJSONSerializer(WithDisallowUnknownFields(true)), body, "OrderCancelled")
		assert.Error(t, err)
	})
}

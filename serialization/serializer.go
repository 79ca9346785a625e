package serialization

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Serializer turns payloads into message bodies and back.
type Serializer interface {
	// Serialize encodes v
	Serialize(v any) ([]byte, error)

	// Deserialize decodes data into the value pointed to by v
	Deserialize(data []byte, v any) error

	// ContentType is set on every published message
	ContentType() string
}

// DeserializationError is the single error kind returned when a body
// cannot be decoded.
type DeserializationError struct {
	TypeName string
	Err      error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("failed to deserialize %s: %v", e.TypeName, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// Decode deserializes data into a new T
func Decode[T any](s Serializer, data []byte, typeName string) (T, error) {
	var payload T
	if err := s.Deserialize(data, &payload); err != nil {
		return payload, &DeserializationError{TypeName: typeName, Err: err}
	}
	return payload, nil
}

// JSONSerializer implements Serializer using encoding/json
type JSONSerializer struct {
	prettyPrint           bool
	disallowUnknownFields bool
}

// JSONSerializerOption configures the JSON serializer
type JSONSerializerOption func(*JSONSerializer)

// WithPrettyPrint enables pretty printing
func WithPrettyPrint(pretty bool) JSONSerializerOption {
	return func(s *JSONSerializer) {
		s.prettyPrint = pretty
	}
}

// WithDisallowUnknownFields rejects bodies carrying fields the payload
// type does not declare
func WithDisallowUnknownFields(disallow bool) JSONSerializerOption {
	return func(s *JSONSerializer) {
		s.disallowUnknownFields = disallow
	}
}

// NewJSONSerializer creates a new JSON serializer
func NewJSONSerializer(opts ...JSONSerializerOption) *JSONSerializer {
	s := &JSONSerializer{}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Serialize implements Serializer
func (s *JSONSerializer) Serialize(v any) ([]byte, error) {
	if s.prettyPrint {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// Deserialize implements Serializer
func (s *JSONSerializer) Deserialize(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("data cannot be empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	if s.disallowUnknownFields {
		decoder.DisallowUnknownFields()
	}
	return decoder.Decode(v)
}

// ContentType implements Serializer
func (s *JSONSerializer) ContentType() string {
	return "application/json"
}

package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Serializer converts a value to and from its byte representation.
// Deserialize expects a pointer to the target value.
type Serializer interface {
	// Name returns the identifier used in configuration (json, gob, binary)
	Name() string
	// Serialize encodes v into a byte slice
	Serialize(v any) ([]byte, error)
	// Deserialize decodes b into the value pointed to by v
	Deserialize(b []byte, v any) error
}

// ErrUnsupportedType is returned by the binary serializer for values other than []byte and string
var ErrUnsupportedType = errors.New("codec: unsupported type")

// NewSerializer returns the serializer with the given name
func NewSerializer(name string) (Serializer, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	case "binary":
		return NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("codec: unknown serializer %q (json, gob, binary)", name)
	}
}

// --------------------------------------------------------------------------
// JSON
// --------------------------------------------------------------------------

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() Serializer {
	return jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

func (jsonSerializerImpl) Name() string { return "json" }

func (jsonSerializerImpl) Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonSerializerImpl) Deserialize(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// --------------------------------------------------------------------------
// GOB
// --------------------------------------------------------------------------

// NewGOBSerializer creates a new serializer using Go's binary gob format.
// Interface values must be registered with gob.Register by the caller.
func NewGOBSerializer() Serializer {
	return gobSerializerImpl{}
}

type gobSerializerImpl struct{}

func (gobSerializerImpl) Name() string { return "gob" }

func (gobSerializerImpl) Serialize(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobSerializerImpl) Deserialize(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}

// --------------------------------------------------------------------------
// Binary
// --------------------------------------------------------------------------

// NewBinarySerializer creates a serializer that passes raw bytes through.
// It only accepts []byte and string values (or pointers to them).
func NewBinarySerializer() Serializer {
	return binarySerializerImpl{}
}

type binarySerializerImpl struct{}

func (binarySerializerImpl) Name() string { return "binary" }

func (binarySerializerImpl) Serialize(v any) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out, nil
	case string:
		return []byte(val), nil
	case *[]byte:
		if val == nil {
			return nil, fmt.Errorf("%w: nil *[]byte", ErrUnsupportedType)
		}
		return binarySerializerImpl{}.Serialize(*val)
	case *string:
		if val == nil {
			return nil, fmt.Errorf("%w: nil *string", ErrUnsupportedType)
		}
		return []byte(*val), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func (binarySerializerImpl) Deserialize(b []byte, v any) error {
	switch ptr := v.(type) {
	case *[]byte:
		out := make([]byte, len(b))
		copy(out, b)
		*ptr = out
		return nil
	case *string:
		*ptr = string(b)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

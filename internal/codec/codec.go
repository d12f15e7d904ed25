package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvableCodec is returned when an identifier matches no known format.
	ErrUnresolvableCodec = errors.New("codec: unresolvable codec")

	// ErrCodec wraps every per-message encode or decode failure.
	ErrCodec = errors.New("codec: transform failed")
)

// Codec is a serialize/deserialize pair.
//
// Implementations must be safe for concurrent use: one Codec instance is
// shared by every bridge.
type Codec interface {
	// Name identifies the codec in logs and health output.
	Name() string

	// Serialize encodes msg into a payload.
	Serialize(msg any) ([]byte, error)

	// Deserialize decodes data into into, which must be a pointer to the
	// target message type.
	Deserialize(data []byte, into any) error
}

// SerializeFunc encodes a message.
type SerializeFunc func(msg any) ([]byte, error)

// DeserializeFunc decodes a payload into a message pointer.
type DeserializeFunc func(data []byte, into any) error

// Funcs builds a Codec from direct callables.
func Funcs(name string, serialize SerializeFunc, deserialize DeserializeFunc) Codec {
	return funcCodec{name: name, serialize: serialize, deserialize: deserialize}
}

type funcCodec struct {
	name        string
	serialize   SerializeFunc
	deserialize DeserializeFunc
}

func (c funcCodec) Name() string { return c.name }

func (c funcCodec) Serialize(msg any) ([]byte, error) {
	data, err := c.serialize(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s serialize: %w", ErrCodec, c.name, err)
	}
	return data, nil
}

func (c funcCodec) Deserialize(data []byte, into any) error {
	if err := c.deserialize(data, into); err != nil {
		return fmt.Errorf("%w: %s deserialize: %w", ErrCodec, c.name, err)
	}
	return nil
}

// pair serializes with one codec and deserializes with another.
type pair struct {
	serializer   Codec
	deserializer Codec
}

func (p pair) Name() string {
	if p.serializer.Name() == p.deserializer.Name() {
		return p.serializer.Name()
	}
	return p.serializer.Name() + "/" + p.deserializer.Name()
}

func (p pair) Serialize(msg any) ([]byte, error) { return p.serializer.Serialize(msg) }

func (p pair) Deserialize(data []byte, into any) error { return p.deserializer.Deserialize(data, into) }

package codec

import (
	"fmt"
	"strings"
	"sync"
)

// Registry resolves codec identifiers to Codecs.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	formats  map[string]Codec
	resolved map[string]Codec
}

// NewRegistry returns a registry preloaded with msgpack, json and yaml.
func NewRegistry() *Registry {
	r := &Registry{
		formats:  make(map[string]Codec),
		resolved: make(map[string]Codec),
	}
	r.Register("msgpack", MsgPack())
	r.Register("umsgpack", MsgPack())
	r.Register("json", JSON())
	r.Register("yaml", YAML())
	r.Register("yml", YAML())
	return r
}

// Register adds or replaces the codec for a format name.
// Memoized resolutions are discarded.
func (r *Registry) Register(name string, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formats[strings.ToLower(name)] = c
	r.resolved = make(map[string]Codec)
}

// Resolve returns the codec named by identifier.
//
// Accepted forms are "format" and "format:function"; the function part
// ("dumps", "loads", ...) is ignored because the direction is chosen by the
// caller. Results are memoized.
func (r *Registry) Resolve(identifier string) (Codec, error) {
	key := formatName(identifier)

	r.mu.RLock()
	c, ok := r.resolved[key]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok = r.formats[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnresolvableCodec, identifier)
	}
	r.resolved[key] = c
	return c, nil
}

// ResolvePair resolves a serializer and a deserializer separately and
// combines them. When both name the same format the format's codec is
// returned as is.
func (r *Registry) ResolvePair(serializer, deserializer string) (Codec, error) {
	ser, err := r.Resolve(serializer)
	if err != nil {
		return nil, fmt.Errorf("serializer: %w", err)
	}
	de, err := r.Resolve(deserializer)
	if err != nil {
		return nil, fmt.Errorf("deserializer: %w", err)
	}
	if formatName(serializer) == formatName(deserializer) {
		return ser, nil
	}
	return pair{serializer: ser, deserializer: de}, nil
}

// Names returns the registered format names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.formats))
	for name := range r.formats {
		names = append(names, name)
	}
	return names
}

// formatName extracts the format from "format" or "format:function".
func formatName(identifier string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(identifier), ":")
	return strings.ToLower(strings.TrimSpace(name))
}

package msgs

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownType is returned when a message type name is not registered.
var ErrUnknownType = errors.New("msgs: unknown message type")

// ErrWrongType is returned when a value is not an instance of the expected type.
var ErrWrongType = errors.New("msgs: value does not match message type")

// Type describes one registered message type.
// The zero Type is invalid.
type Type struct {
	name string
	rt   reflect.Type
}

// Name returns the canonical "package/Type" name.
func (t Type) Name() string { return t.name }

// String implements fmt.Stringer.
func (t Type) String() string { return t.name }

// Valid reports whether t came from a registry.
func (t Type) Valid() bool { return t.rt != nil }

// New returns a pointer to a fresh zero message of this type.
func (t Type) New() any {
	return reflect.New(t.rt).Interface()
}

// Check verifies that msg is a *T or T for this type.
func (t Type) Check(msg any) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message for %s", ErrWrongType, t.name)
	}
	rt := reflect.TypeOf(msg)
	if rt == t.rt || (rt.Kind() == reflect.Pointer && rt.Elem() == t.rt) {
		return nil
	}
	return fmt.Errorf("%w: got %s, want %s", ErrWrongType, rt, t.name)
}

// Registry maps type names to message types.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Type
	names  map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Type),
		names:  make(map[string]struct{}),
	}
}

// DefaultRegistry returns a registry holding the std_msgs and geometry_msgs types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("std_msgs/Bool", Bool{})
	r.MustRegister("std_msgs/String", String{})
	r.MustRegister("std_msgs/Int32", Int32{})
	r.MustRegister("std_msgs/Int64", Int64{})
	r.MustRegister("std_msgs/Float32", Float32{})
	r.MustRegister("std_msgs/Float64", Float64{})
	r.MustRegister("std_msgs/Empty", Empty{})
	r.MustRegister("std_msgs/Header", Header{})
	r.MustRegister("geometry_msgs/Vector3", Vector3{})
	r.MustRegister("geometry_msgs/Point", Point{})
	r.MustRegister("geometry_msgs/Quaternion", Quaternion{})
	r.MustRegister("geometry_msgs/Pose", Pose{})
	r.MustRegister("geometry_msgs/Twist", Twist{})
	return r
}

// Register adds a message type under its canonical "package/Type" name.
// The short aliases "Type" and "TypeMsg" are registered too unless they
// are already taken by another type.
func (r *Registry) Register(name string, prototype any) error {
	pkg, typ, ok := strings.Cut(name, "/")
	if !ok || pkg == "" || typ == "" || strings.Contains(typ, "/") {
		return fmt.Errorf("msgs: register %q: name must be package/Type", name)
	}
	rt := reflect.TypeOf(prototype)
	if rt == nil {
		return fmt.Errorf("msgs: register %q: nil prototype", name)
	}
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("msgs: register %q: already registered", name)
	}

	t := Type{name: name, rt: rt}
	r.byName[name] = t
	r.names[name] = struct{}{}
	for _, alias := range []string{typ, typ + "Msg"} {
		if _, taken := r.byName[alias]; !taken {
			r.byName[alias] = t
		}
	}
	return nil
}

// MustRegister is Register that panics on error. For package-level setup.
func (r *Registry) MustRegister(name string, prototype any) {
	if err := r.Register(name, prototype); err != nil {
		panic(err)
	}
}

// Lookup resolves a type name in any accepted spelling.
func (r *Registry) Lookup(name string) (Type, error) {
	key := canonicalName(name)

	r.mu.RLock()
	t, ok := r.byName[key]
	r.mu.RUnlock()

	if !ok {
		return Type{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return t, nil
}

// Names returns the canonical names of all registered types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// canonicalName folds "pkg/msg/Type" into "pkg/Type" and trims spaces.
func canonicalName(name string) string {
	name = strings.TrimSpace(name)
	if pkg, rest, ok := strings.Cut(name, "/msg/"); ok {
		return pkg + "/" + rest
	}
	return name
}

package bridge

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Factory names.
const (
	FactoryOutbound = "ros_to_mqtt"
	FactoryInbound  = "mqtt_to_ros"

	// Dotted names used by existing configuration files.
	FactoryOutboundLegacy = "mqtt_bridge.bridge:RosToMqttBridge"
	FactoryInboundLegacy  = "mqtt_bridge.bridge:MqttToRosBridge"
)

// Constructor builds a bridge from a resolved spec.
// It may return a non-nil Faulted bridge together with an error.
type Constructor func(spec Spec, deps Deps) (Bridge, error)

// Registry maps factory names to constructors.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns a registry with the outbound and inbound factories
// under their short and dotted names.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}

	outbound := func(spec Spec, deps Deps) (Bridge, error) {
		b, err := NewOutbound(spec, deps)
		if b == nil {
			return nil, err
		}
		return b, err
	}
	inbound := func(spec Spec, deps Deps) (Bridge, error) {
		b, err := NewInbound(spec, deps)
		if b == nil {
			return nil, err
		}
		return b, err
	}

	r.Register(FactoryOutbound, outbound)
	r.Register(FactoryOutboundLegacy, outbound)
	r.Register(FactoryInbound, inbound)
	r.Register(FactoryInboundLegacy, inbound)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// Names returns the registered factory names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.constructors[name]
	return ctor, ok
}

// Validate checks a descriptor without creating anything: required fields,
// a known factory and a resolvable message type.
func (r *Registry) Validate(d Descriptor, types TypeResolver) error {
	if err := d.check(); err != nil {
		return err
	}
	if _, ok := r.lookup(d.Factory); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFactory, d.Factory)
	}
	if _, err := types.Lookup(d.MsgType); err != nil {
		return fmt.Errorf("%w: %w", ErrUnknownMessageType, err)
	}
	return nil
}

// Create validates d and calls its factory.
//
// Descriptor problems are returned as *ConfigurationError carrying index.
// A subscribe failure returns the Faulted bridge together with the error.
//
// Parameters:
//   - index: Position of the descriptor in configuration, for reporting
//   - d: The descriptor
//   - deps: Shared collaborators
func (r *Registry) Create(index int, d Descriptor, deps Deps) (Bridge, error) {
	if err := r.Validate(d, deps.Types); err != nil {
		return nil, &ConfigurationError{Index: index, Descriptor: d, Err: err}
	}

	ctor, _ := r.lookup(d.Factory)
	typ, _ := deps.Types.Lookup(d.MsgType)

	spec := Spec{
		Index:     index,
		Factory:   d.Factory,
		Type:      typ,
		TopicFrom: d.TopicFrom,
		TopicTo:   d.TopicTo,
		Frequency: d.Frequency,
		QoS:       deps.DefaultQoS,
		Retain:    deps.DefaultRetain,
	}
	if d.QoS != nil {
		spec.QoS = byte(*d.QoS) //nolint:gosec // range checked by Validate
	}
	if d.Retain != nil {
		spec.Retain = *d.Retain
	}

	b, err := ctor(spec, deps)
	if err != nil && errors.Is(err, ErrInvalidDescriptor) {
		return nil, &ConfigurationError{Index: index, Descriptor: d, Err: err}
	}
	return b, err
}

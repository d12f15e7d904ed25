package bridge

import (
	"errors"
	"fmt"

	"github.com/nerrad567/mqtt-bridge/internal/localbus"
	"github.com/nerrad567/mqtt-bridge/internal/topic"
)

// InboundBridge forwards MQTT messages to the local bus.
type InboundBridge struct {
	base

	conn  Connection
	bus   LocalBus
	paths topic.PrivatePath

	// filter is set when Source contains a wildcard.
	filter bool
}

// NewInbound subscribes to the resolved spec.TopicFrom through the
// connection manager and publishes each decoded message on spec.TopicTo.
//
// When the connection is down the subscription is recorded by the manager
// and applied on connect, so the bridge is Subscribed either way. The
// returned bridge is non-nil even on a subscribe error.
func NewInbound(spec Spec, deps Deps) (*InboundBridge, error) {
	source := deps.Paths.Resolve(spec.TopicFrom)
	if err := topic.ValidateSubscribe(source); err != nil {
		return nil, fmt.Errorf("%w: topic_from: %w", ErrInvalidDescriptor, err)
	}

	b := &InboundBridge{
		conn:   deps.Conn,
		bus:    deps.Bus,
		paths:  deps.Paths,
		filter: topic.IsFilter(source),
	}
	b.init(Info{
		Index:       spec.Index,
		Factory:     spec.Factory,
		Direction:   Inbound,
		MsgType:     spec.Type.Name(),
		Source:      source,
		Destination: spec.TopicTo,
		QoS:         spec.QoS,
	}, spec, deps)

	if err := deps.Conn.Subscribe(source, spec.QoS, b.handle); err != nil {
		b.state.Store(int32(Faulted))
		return b, fmt.Errorf("%w: mqtt %s: %w", ErrSubscribeFailed, source, err)
	}
	b.state.Store(int32(Subscribed))
	b.logDebug("inbound bridge subscribed", "from", source, "to", spec.TopicTo)
	return b, nil
}

// handle processes one MQTT message. Failures are counted and logged here,
// so it always returns nil.
func (b *InboundBridge) handle(mqttTopic string, payload []byte) error {
	if !b.enter() {
		return nil
	}
	defer b.gate.RUnlock()

	if b.filter {
		b.matched(mqttTopic)
	}

	msg := b.typ.New()
	if err := b.codec.Deserialize(payload, msg); err != nil {
		b.codecErrors.Add(1)
		b.logWarn("failed to deserialize message", "topic", mqttTopic, "error", err)
		return nil
	}

	err := b.bus.Publish(b.info.Destination, b.typ, msg)
	switch {
	case errors.Is(err, localbus.ErrClosed):
		// Shutdown race: the bus went first.
		b.dropped.Add(1)
		b.logDebug("local bus closed, dropping message", "topic", b.info.Destination)
		return nil
	case err != nil:
		b.publishErrors.Add(1)
		b.logError("failed to publish to local bus", "topic", b.info.Destination, "error", err)
		return nil
	}
	b.published.Add(1)
	return nil
}

// matched records which concrete topic a wildcard subscription delivered.
func (b *InboundBridge) matched(mqttTopic string) {
	label := mqttTopic
	if rel, ok := b.paths.Relative(mqttTopic); ok {
		label = rel
	}
	b.lastTopic.Store(&label)
	b.logDebug("wildcard match", "filter", b.info.Source, "topic", label)
}

// Close unsubscribes from MQTT and waits for an in-flight message.
func (b *InboundBridge) Close() error {
	return b.shut(func() error {
		return b.conn.Unsubscribe(b.info.Source)
	})
}

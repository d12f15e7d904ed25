package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/mqtt-bridge/internal/connection"
	"github.com/nerrad567/mqtt-bridge/internal/localbus"
	"github.com/nerrad567/mqtt-bridge/internal/topic"
)

// OutboundBridge forwards local bus messages to MQTT.
type OutboundBridge struct {
	base

	conn     Connection
	sub      *localbus.Subscription
	interval time.Duration

	// lastPublish is touched only from the subscription's delivery goroutine.
	lastPublish time.Time
}

// NewOutbound subscribes to spec.TopicFrom on the local bus and publishes
// each message to the resolved spec.TopicTo.
//
// The returned bridge is non-nil even on error; a subscribe failure leaves
// it Faulted so it can still be reported.
//
// Returns:
//   - *OutboundBridge: The bridge, Subscribed on success
//   - error: ErrInvalidDescriptor for a bad MQTT topic, ErrSubscribeFailed
func NewOutbound(spec Spec, deps Deps) (*OutboundBridge, error) {
	dest := deps.Paths.Resolve(spec.TopicTo)
	if err := topic.ValidatePublish(dest); err != nil {
		return nil, fmt.Errorf("%w: topic_to: %w", ErrInvalidDescriptor, err)
	}

	b := &OutboundBridge{conn: deps.Conn}
	b.init(Info{
		Index:       spec.Index,
		Factory:     spec.Factory,
		Direction:   Outbound,
		MsgType:     spec.Type.Name(),
		Source:      spec.TopicFrom,
		Destination: dest,
		QoS:         spec.QoS,
		Retain:      spec.Retain,
		Frequency:   spec.Frequency,
	}, spec, deps)
	if spec.Frequency > 0 {
		b.interval = time.Duration(float64(time.Second) / spec.Frequency)
	}

	sub, err := deps.Bus.Subscribe(spec.TopicFrom, spec.Type, b.handle)
	if err != nil {
		b.state.Store(int32(Faulted))
		return b, fmt.Errorf("%w: local %s: %w", ErrSubscribeFailed, spec.TopicFrom, err)
	}
	b.sub = sub
	b.state.Store(int32(Subscribed))
	b.logDebug("outbound bridge subscribed", "from", spec.TopicFrom, "to", dest)
	return b, nil
}

// handle processes one local message.
func (b *OutboundBridge) handle(msg any) {
	if !b.enter() {
		return
	}
	defer b.gate.RUnlock()

	if b.interval > 0 {
		now := b.now()
		if !b.lastPublish.IsZero() && now.Sub(b.lastPublish) < b.interval {
			b.throttled.Add(1)
			return
		}
	}

	if b.conn.State() != connection.Connected {
		b.dropped.Add(1)
		b.logDebug("MQTT not connected, message dropped", "topic", b.info.Destination)
		return
	}

	payload, err := b.codec.Serialize(msg)
	if err != nil {
		b.codecErrors.Add(1)
		b.logWarn("failed to serialize message", "topic", b.info.Source, "error", err)
		return
	}

	err = b.conn.Publish(b.info.Destination, payload, b.info.QoS, b.info.Retain)
	switch {
	case err == nil:
		b.published.Add(1)
		b.lastPublish = b.now()
	case errors.Is(err, connection.ErrNotConnected):
		// Connection dropped between the state check and the publish.
		b.dropped.Add(1)
		b.logDebug("MQTT not connected, message dropped", "topic", b.info.Destination)
	default:
		b.publishErrors.Add(1)
		b.logError("failed to publish to MQTT", "topic", b.info.Destination, "error", err)
	}
}

// Close unsubscribes from the local bus, delivering anything already
// queued, and waits for the handler to return.
func (b *OutboundBridge) Close() error {
	return b.shut(func() error {
		b.sub.Unsubscribe()
		return nil
	})
}

package bridge

import (
	"fmt"

	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/config"
)

// Descriptor declares one bridge.
type Descriptor struct {
	Factory   string `json:"factory"`
	MsgType   string `json:"msg_type"`
	TopicFrom string `json:"topic_from"`
	TopicTo   string `json:"topic_to"`

	// Frequency caps outbound publishes per second. Zero disables.
	Frequency float64 `json:"frequency,omitempty"`

	// QoS and Retain override the connection defaults when set.
	QoS    *int  `json:"qos,omitempty"`
	Retain *bool `json:"retain,omitempty"`
}

// FromConfig converts configured descriptors, preserving order.
func FromConfig(bridges []config.BridgeConfig) []Descriptor {
	out := make([]Descriptor, len(bridges))
	for i, b := range bridges {
		out[i] = Descriptor{
			Factory:   b.Factory,
			MsgType:   b.MsgType,
			TopicFrom: b.TopicFrom,
			TopicTo:   b.TopicTo,
			Frequency: b.Frequency,
			QoS:       b.QoS,
			Retain:    b.Retain,
		}
	}
	return out
}

// check validates the fields that need no external lookup.
func (d Descriptor) check() error {
	switch {
	case d.Factory == "":
		return fmt.Errorf("%w: factory is required", ErrInvalidDescriptor)
	case d.MsgType == "":
		return fmt.Errorf("%w: msg_type is required", ErrInvalidDescriptor)
	case d.TopicFrom == "":
		return fmt.Errorf("%w: topic_from is required", ErrInvalidDescriptor)
	case d.TopicTo == "":
		return fmt.Errorf("%w: topic_to is required", ErrInvalidDescriptor)
	case d.Frequency < 0:
		return fmt.Errorf("%w: frequency must not be negative", ErrInvalidDescriptor)
	case d.QoS != nil && (*d.QoS < 0 || *d.QoS > 2):
		return fmt.Errorf("%w: qos must be 0, 1 or 2", ErrInvalidDescriptor)
	}
	return nil
}

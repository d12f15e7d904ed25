package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish hands a message to paho's outbound queue.
//
// It does not wait for the broker. For QoS 0 an immediate paho error is
// returned; for QoS 1 and 2 the acknowledgement is awaited in the
// background and a failure is logged. Callers on a message hot path are
// therefore never held up by a slow broker.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected or ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)

	if qos == 0 {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				return fmt.Errorf("%w: %w", ErrPublishFailed, err)
			}
		default:
		}
		return nil
	}

	go c.awaitAck(topic, token)
	return nil
}

// awaitAck logs a QoS>0 publish that fails or is never acknowledged.
func (c *Client) awaitAck(topic string, token pahomqtt.Token) {
	if !token.WaitTimeout(defaultAckTimeout) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT publish not acknowledged", "topic", topic, "timeout", defaultAckTimeout)
		}
		return
	}
	if err := token.Error(); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Error("MQTT publish failed", "topic", topic, "error", err)
		}
	}
}

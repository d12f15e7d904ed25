package connection

import (
	"context"

	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/mqtt"
)

// Transport is the broker session the manager drives.
// *mqtt.Client implements it.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
}

// Dialer builds a fresh, unconnected transport from connection parameters.
type Dialer func(params config.MQTTConfig) (Transport, error)

// MQTTDialer returns a Dialer that builds paho-backed clients.
// logger may be nil.
func MQTTDialer(logger mqtt.Logger) Dialer {
	return func(params config.MQTTConfig) (Transport, error) {
		client, err := mqtt.New(params)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			client.SetLogger(logger)
		}
		return client, nil
	}
}

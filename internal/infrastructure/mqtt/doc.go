// Package mqtt is the broker transport used by the bridge, built on
// github.com/eclipse/paho.mqtt.golang.
//
// The client is deliberately thin. It owns the paho session, TLS and
// credential setup, the last will, and panic-safe handler wrapping. It
// does not track subscriptions or buffer messages: the connection manager
// above it decides what is subscribed and when publishing is allowed.
//
// # Delivery
//
// Ordered delivery is enabled, so paho calls handlers sequentially. A
// bridge's MQTT handler therefore sees messages in arrival order.
//
// Publish enqueues and returns. QoS 1 and 2 acknowledgements are awaited
// off the caller's goroutine and failures are logged.
//
// # Reconnection
//
// Auto-reconnect and connect-retry are enabled with a backoff capped at
// reconnect.max_delay. Transitions are reported via SetOnConnect and
// SetOnDisconnect.
//
// # Usage
//
//	client, err := mqtt.New(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	client.SetOnConnect(func() { ... })
//	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
//	defer cancel()
//	if err := client.Connect(ctx); err != nil {
//	    // paho keeps retrying; OnConnect fires on success
//	}
//	defer client.Disconnect()
package mqtt

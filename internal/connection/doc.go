// Package connection owns the bridge's single MQTT session.
//
// The Manager sits between the bridges and the broker transport. It keeps
// the connection state that outbound bridges consult before publishing,
// serializes every publish into the transport, remembers subscriptions so
// they survive reconnects, and fans state transitions out to observers.
//
// # State
//
//	Disconnected ──Connect──▶ Connecting ──transport up──▶ Connected
//	      ▲                        │                            │
//	      └──── connect failed ────┘◀──────── connection lost ──┘
//
// Reconnection after a loss is left to the transport (paho auto-reconnect).
// The manager never polls; it waits for the transport's OnConnect callback
// or an explicit Reconnect.
//
// # Locking
//
// A lifecycle RWMutex is held exclusively while a session is installed or
// torn down. Publish only try-acquires it shared, so a publish during a
// transition is rejected with ErrNotConnected instead of blocking. A
// separate mutex serializes calls into the transport's Publish.
package connection

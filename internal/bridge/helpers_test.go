package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-bridge/internal/codec"
	"github.com/nerrad567/mqtt-bridge/internal/connection"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-bridge/internal/localbus"
	"github.com/nerrad567/mqtt-bridge/internal/msgs"
	"github.com/nerrad567/mqtt-bridge/internal/topic"
)

// MockConnection implements Connection for testing.
type MockConnection struct {
	mu         sync.Mutex
	state      connection.State
	publishErr error
	subErr     error
	published  []mockPublish
	handlers   map[string]mqtt.MessageHandler
	unsubbed   []string
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockConnection() *MockConnection {
	return &MockConnection{
		state:    connection.Connected,
		handlers: make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockConnection) State() connection.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockConnection) SetState(s connection.State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *MockConnection) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{topic, payload, qos, retained})
	return nil
}

func (m *MockConnection) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *MockConnection) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	m.unsubbed = append(m.unsubbed, topic)
	return nil
}

// SimulateMessage delivers an MQTT message to the subscribed handler.
func (m *MockConnection) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler := m.handlers[topic]
	m.mu.Unlock()
	if handler != nil {
		_ = handler(topic, payload)
	}
}

// SimulateMatch delivers a message on topic to the handler subscribed
// with filter, as a broker does for wildcard subscriptions.
func (m *MockConnection) SimulateMatch(filter, topic string, payload []byte) {
	m.mu.Lock()
	handler := m.handlers[filter]
	m.mu.Unlock()
	if handler != nil {
		_ = handler(topic, payload)
	}
}

func (m *MockConnection) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// mockLogger records log calls.
type mockLogger struct {
	mu     sync.Mutex
	debugs []string
	warns  int
	errors int
}

func (l *mockLogger) Debug(msg string, _ ...any) {
	l.mu.Lock()
	l.debugs = append(l.debugs, msg)
	l.mu.Unlock()
}
func (l *mockLogger) Info(string, ...any)  {}

func (l *mockLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func (l *mockLogger) Error(string, ...any) {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

// testDeps returns deps wired to a real local bus and a mock connection.
func testDeps(t *testing.T, prefix string) (Deps, *localbus.Bus, *MockConnection) {
	t.Helper()
	bus := localbus.New(localbus.Options{QueueSize: 256})
	t.Cleanup(bus.Close)
	conn := NewMockConnection()
	return Deps{
		Bus:    bus,
		Conn:   conn,
		Codec:  codec.JSON(),
		Paths:  topic.NewPrivatePath(prefix),
		Types:  msgs.DefaultRegistry(),
		Logger: &mockLogger{},
	}, bus, conn
}

func lookup(t *testing.T, name string) msgs.Type {
	t.Helper()
	typ, err := msgs.DefaultRegistry().Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%q) error = %v", name, err)
	}
	return typ
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// overlapTransport implements connection.Transport and records whether two
// publishes were ever inside it at once.
type overlapTransport struct {
	mu        sync.Mutex
	onConnect func()
	payloads  [][]byte
	inFlight  atomic.Int32
	overlaps  atomic.Int32
}

func (o *overlapTransport) Connect(context.Context) error {
	o.mu.Lock()
	cb := o.onConnect
	o.mu.Unlock()
	go cb()
	return nil
}

func (o *overlapTransport) Disconnect() {}

func (o *overlapTransport) Publish(_ string, payload []byte, _ byte, _ bool) error {
	if o.inFlight.Add(1) > 1 {
		o.overlaps.Add(1)
	}
	defer o.inFlight.Add(-1)
	time.Sleep(100 * time.Microsecond)

	o.mu.Lock()
	o.payloads = append(o.payloads, append([]byte(nil), payload...))
	o.mu.Unlock()
	return nil
}

func (o *overlapTransport) Subscribe(string, byte, mqtt.MessageHandler) error { return nil }
func (o *overlapTransport) Unsubscribe(string) error                         { return nil }

func (o *overlapTransport) SetOnConnect(cb func()) {
	o.mu.Lock()
	o.onConnect = cb
	o.mu.Unlock()
}

func (o *overlapTransport) SetOnDisconnect(func(error)) {}

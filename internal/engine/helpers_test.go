package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-bridge/internal/connection"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-bridge/internal/journal"
)

// =============================================================================
// Fake transport
// =============================================================================

type published struct {
	topic   string
	payload []byte
	retain  bool
}

// fakeTransport implements connection.Transport in memory.
type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	onConnect    func()
	onDisconnect func(error)
	published    []published
	subscribed   map[string]mqtt.MessageHandler
	disconnects  int

	// onUnsubscribe, when set, runs after each unsubscribe.
	onUnsubscribe func(topic string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subscribed: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	err := f.connectErr
	if err == nil {
		f.connected = true
	}
	cb := f.onConnect
	f.mu.Unlock()
	if err != nil {
		return err
	}
	go cb()
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	f.published = append(f.published, published{topic, append([]byte(nil), payload...), retain})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	f.subscribed[topic] = handler
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	delete(f.subscribed, topic)
	hook := f.onUnsubscribe
	f.mu.Unlock()
	if hook != nil {
		hook(topic)
	}
	return nil
}

func (f *fakeTransport) SetOnConnect(cb func()) {
	f.mu.Lock()
	f.onConnect = cb
	f.mu.Unlock()
}

func (f *fakeTransport) SetOnDisconnect(cb func(error)) {
	f.mu.Lock()
	f.onDisconnect = cb
	f.mu.Unlock()
}

// deliver simulates an incoming MQTT message.
func (f *fakeTransport) deliver(topic string, payload []byte) error {
	f.mu.Lock()
	h := f.subscribed[topic]
	f.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no subscription for %q", topic)
	}
	return h(topic, payload)
}

// drop simulates a lost connection.
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	f.connected = false
	cb := f.onDisconnect
	f.mu.Unlock()
	cb(err)
}

func (f *fakeTransport) publishedOn(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeTransport) isSubscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subscribed[topic]
	return ok
}

func managerFor(t *fakeTransport) *connection.Manager {
	return connection.NewManager(func(config.MQTTConfig) (connection.Transport, error) {
		return t, nil
	})
}

// =============================================================================
// Fake journal, stats sink and logger
// =============================================================================

type memJournal struct {
	mu      sync.Mutex
	bridges []journal.BridgeEvent
	conns   []journal.ConnectionEvent
}

func (j *memJournal) RecordBridge(_ context.Context, ev *journal.BridgeEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.bridges = append(j.bridges, *ev)
	return nil
}

func (j *memJournal) RecordConnection(_ context.Context, ev *journal.ConnectionEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.conns = append(j.conns, *ev)
	return nil
}

func (j *memJournal) RecentBridgeEvents(context.Context, int) ([]journal.BridgeEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.BridgeEvent(nil), j.bridges...), nil
}

func (j *memJournal) RecentConnectionEvents(context.Context, int) ([]journal.ConnectionEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.ConnectionEvent(nil), j.conns...), nil
}

func (j *memJournal) bridgeEvents(event string) []journal.BridgeEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []journal.BridgeEvent
	for _, ev := range j.bridges {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

func (j *memJournal) connStates() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.conns))
	for _, ev := range j.conns {
		out = append(out, ev.State)
	}
	return out
}

type statSample struct {
	name, direction string
	stats           influxdb.BridgeStats
}

type memStats struct {
	mu      sync.Mutex
	samples []statSample
	states  []string
}

func (s *memStats) WriteBridgeStats(name, direction string, stats influxdb.BridgeStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, statSample{name, direction, stats})
}

func (s *memStats) WriteConnectionState(_ string, state string, _ bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *memStats) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, level+": "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }

func (l *recordingLogger) has(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// =============================================================================
// Helpers
// =============================================================================

var errBrokerDown = errors.New("connection refused")

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

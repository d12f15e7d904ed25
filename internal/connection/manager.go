package connection

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/mqtt"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// subscription is a tracked topic filter, replayed on every connect.
type subscription struct {
	qos     byte
	handler mqtt.MessageHandler
}

// session is one installed transport. Callbacks carry their session so
// that late events from a replaced transport are ignored.
type session struct {
	transport Transport
	ready     chan struct{}
	readyOnce sync.Once
}

func (s *session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Manager owns the MQTT session shared by all bridges.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	dial   Dialer
	logger Logger

	// lifecycle is exclusive while a session is installed or removed.
	lifecycle sync.RWMutex
	session   *session
	params    config.MQTTConfig

	// pubMu serializes calls into the transport's Publish.
	pubMu sync.Mutex

	// subMu guards subs. Lock order: subMu before stateMu.
	subMu sync.Mutex
	subs  map[string]subscription

	stateMu sync.RWMutex
	state   State
	lastErr error
	since   time.Time

	obsMu     sync.Mutex
	observers map[uint64]Observer
	nextObs   uint64
}

// NewManager creates a manager in the Disconnected state.
//
// Parameters:
//   - dial: Builds the transport on every Connect
//   - opts: Optional settings such as WithLogger
func NewManager(dial Dialer, opts ...Option) *Manager {
	m := &Manager{
		dial:      dial,
		subs:      make(map[string]subscription),
		observers: make(map[uint64]Observer),
		state:     Disconnected,
		since:     time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect dials the broker and waits until the session is Connected or ctx
// ends.
//
// On failure the state becomes Disconnected. A transport that supports
// connect-retry keeps trying after Connect returns, and the state moves to
// Connected when it succeeds. Tracked subscriptions are restored on every
// successful connect.
//
// Returns:
//   - error: ErrAlreadyConnected, or ErrConnectFailed wrapping the cause
func (m *Manager) Connect(ctx context.Context, params config.MQTTConfig) error {
	m.lifecycle.Lock()
	if m.session != nil {
		m.lifecycle.Unlock()
		return ErrAlreadyConnected
	}

	transport, err := m.dial(params)
	if err != nil {
		changed := m.setState(Disconnected, err)
		m.lifecycle.Unlock()
		m.notify(changed, Disconnected, err)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	s := &session{transport: transport, ready: make(chan struct{})}
	transport.SetOnConnect(func() { m.handleConnect(s) })
	transport.SetOnDisconnect(func(err error) { m.handleLost(s, err) })
	m.session = s
	m.params = params
	changed := m.setState(Connecting, nil)
	m.lifecycle.Unlock()
	m.notify(changed, Connecting, nil)

	m.logInfo("connecting to MQTT broker", "broker", params.BrokerURL())

	if err := transport.Connect(ctx); err != nil {
		m.connectFailed(s, err)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectFailed, ctx.Err())
	}
}

// connectFailed moves a still-connecting session to Disconnected.
func (m *Manager) connectFailed(s *session, err error) {
	m.lifecycle.RLock()
	changed := false
	if m.session == s {
		m.stateMu.Lock()
		if m.state == Connecting {
			changed = m.setStateLocked(Disconnected, err)
		}
		m.stateMu.Unlock()
	}
	m.lifecycle.RUnlock()

	if changed {
		m.logWarn("MQTT connect failed, transport will keep retrying", "error", err)
	}
	m.notify(changed, Disconnected, err)
}

// Disconnect tears down the session. Tracked subscriptions are kept and
// restored by the next Connect. Safe to call when not connected.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	s := m.session
	m.session = nil
	if s != nil {
		s.transport.Disconnect()
	}
	changed := m.setState(Disconnected, nil)
	m.lifecycle.Unlock()

	if s != nil {
		m.logInfo("disconnected from MQTT broker")
	}
	m.notify(changed, Disconnected, nil)
}

// Reconnect replaces the session with one built from params. This is the
// only way to change connection parameters.
func (m *Manager) Reconnect(ctx context.Context, params config.MQTTConfig) error {
	m.Disconnect()
	return m.Connect(ctx, params)
}

// handleConnect is the transport's OnConnect callback.
func (m *Manager) handleConnect(s *session) {
	m.lifecycle.RLock()
	if m.session != s {
		m.lifecycle.RUnlock()
		return
	}

	// Snapshot and state change happen together so a concurrent Subscribe
	// is either in the snapshot or sees Connected and subscribes itself.
	m.subMu.Lock()
	subs := maps.Clone(m.subs)
	changed := m.setState(Connected, nil)
	m.subMu.Unlock()

	for topic, sub := range subs {
		if err := s.transport.Subscribe(topic, sub.qos, sub.handler); err != nil {
			m.logWarn("failed to restore MQTT subscription", "topic", topic, "error", err)
		}
	}
	m.lifecycle.RUnlock()

	if changed {
		m.logInfo("MQTT connected", "subscriptions", len(subs))
	}
	m.notify(changed, Connected, nil)
	s.markReady()
}

// handleLost is the transport's connection-lost callback.
func (m *Manager) handleLost(s *session, err error) {
	m.lifecycle.RLock()
	changed := false
	if m.session == s {
		changed = m.setState(Disconnected, err)
	}
	m.lifecycle.RUnlock()

	if changed {
		m.logWarn("MQTT connection lost", "error", err)
	}
	m.notify(changed, Disconnected, err)
}

// Publish sends one message through the session.
//
// It never blocks on a connection transition: when the state is not
// Connected, or a transition holds the lifecycle lock, it returns
// ErrNotConnected without touching the transport.
func (m *Manager) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if !m.lifecycle.TryRLock() {
		return ErrNotConnected
	}
	defer m.lifecycle.RUnlock()

	s := m.session
	if s == nil || m.State() != Connected {
		return ErrNotConnected
	}

	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	return s.transport.Publish(topic, payload, qos, retain)
}

// Subscribe registers handler for a topic filter.
//
// The subscription is tracked and replayed on every connect. When the
// session is not Connected it is recorded and applied at the next connect.
//
// Returns:
//   - error: ErrNilHandler, ErrAlreadySubscribed, or the transport's error
func (m *Manager) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()

	m.subMu.Lock()
	if _, exists := m.subs[topic]; exists {
		m.subMu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, topic)
	}
	m.subs[topic] = subscription{qos: qos, handler: handler}
	connected := m.State() == Connected
	m.subMu.Unlock()

	s := m.session
	if !connected || s == nil {
		m.logDebug("MQTT subscription deferred until connected", "topic", topic)
		return nil
	}

	err := s.transport.Subscribe(topic, qos, handler)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mqtt.ErrNotConnected):
		// Lost in between; the next connect replays it.
		return nil
	default:
		m.subMu.Lock()
		delete(m.subs, topic)
		m.subMu.Unlock()
		return err
	}
}

// Unsubscribe stops tracking a topic filter and removes it from the broker
// if connected. Unknown topics are ignored.
func (m *Manager) Unsubscribe(topic string) error {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()

	m.subMu.Lock()
	_, exists := m.subs[topic]
	delete(m.subs, topic)
	connected := m.State() == Connected
	m.subMu.Unlock()

	s := m.session
	if !exists || !connected || s == nil {
		return nil
	}
	if err := s.transport.Unsubscribe(topic); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		return err
	}
	return nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Status returns a snapshot for reporting.
func (m *Manager) Status() Status {
	m.subMu.Lock()
	n := len(m.subs)
	m.subMu.Unlock()

	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return Status{
		State:         m.state,
		LastError:     m.lastErr,
		Since:         m.since,
		Subscriptions: n,
	}
}

// HealthCheck reports whether the session is Connected.
func (m *Manager) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("connection health check: %w", ctx.Err())
	default:
	}

	st := m.Status()
	if st.State != Connected {
		if st.LastError != nil {
			return fmt.Errorf("%w (%s): %w", ErrNotConnected, st.State, st.LastError)
		}
		return fmt.Errorf("%w (%s)", ErrNotConnected, st.State)
	}
	return nil
}

// Params returns the parameters of the current or last session.
func (m *Manager) Params() config.MQTTConfig {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	return m.params
}

// Userdata returns a copy of the configured userdata.
func (m *Manager) Userdata() map[string]string {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	return maps.Clone(m.params.Userdata)
}

// Observe registers fn for state transitions and returns a function that
// removes it.
func (m *Manager) Observe(fn Observer) (cancel func()) {
	m.obsMu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.obsMu.Lock()
			delete(m.observers, id)
			m.obsMu.Unlock()
		})
	}
}

// setState records a transition. Returns false if the state was unchanged.
func (m *Manager) setState(state State, err error) bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.setStateLocked(state, err)
}

// setStateLocked is setState with stateMu held.
func (m *Manager) setStateLocked(state State, err error) bool {
	if m.state == state {
		return false
	}
	m.state = state
	m.lastErr = err
	m.since = time.Now()
	return true
}

// notify fans a transition out to observers. Must be called without locks.
func (m *Manager) notify(changed bool, state State, err error) {
	if !changed {
		return
	}

	m.obsMu.Lock()
	observers := make([]Observer, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.obsMu.Unlock()

	for _, fn := range observers {
		fn(state, err)
	}
}

func (m *Manager) logDebug(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

func (m *Manager) logInfo(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}

func (m *Manager) logWarn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}

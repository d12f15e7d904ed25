package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mqtt-bridge/internal/codec"
	"github.com/nerrad567/mqtt-bridge/internal/connection"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-bridge/internal/localbus"
	"github.com/nerrad567/mqtt-bridge/internal/msgs"
	"github.com/nerrad567/mqtt-bridge/internal/topic"
)

// Direction is the flow of a bridge.
type Direction string

// Bridge directions.
const (
	Outbound Direction = "outbound" // local bus to MQTT
	Inbound  Direction = "inbound"  // MQTT to local bus
)

// State is the lifecycle state of a bridge.
type State int32

// Bridge states. Faulted is terminal.
const (
	Idle State = iota
	Subscribed
	Faulted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Subscribed:
		return "subscribed"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Bridge is a running bridge.
type Bridge interface {
	Info() Info
	State() State
	Stats() Stats

	// Close unsubscribes and waits for in-flight messages. Idempotent.
	Close() error
}

// Info describes a bridge after topic resolution.
type Info struct {
	Index       int       `json:"index"`
	Factory     string    `json:"factory"`
	Direction   Direction `json:"direction"`
	MsgType     string    `json:"msg_type"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	QoS         byte      `json:"qos"`
	Retain      bool      `json:"retain"`
	Frequency   float64   `json:"frequency,omitempty"`
}

// Name is a stable label for logs and metrics.
func (i Info) Name() string {
	return i.Source + " -> " + i.Destination
}

// Stats is a snapshot of a bridge's counters.
type Stats struct {
	Received      uint64    `json:"received"`
	Published     uint64    `json:"published"`
	Dropped       uint64    `json:"dropped"`
	Throttled     uint64    `json:"throttled"`
	CodecErrors   uint64    `json:"codec_errors"`
	PublishErrors uint64    `json:"publish_errors"`
	LastMessage   time.Time `json:"last_message,omitzero"`

	// LastTopic is the concrete topic of the last message matched by a
	// wildcard filter, in "~/..." form when it lies under the private path.
	LastTopic string `json:"last_topic,omitempty"`
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connection is the part of the connection manager bridges use.
type Connection interface {
	State() connection.State
	Publish(topic string, payload []byte, qos byte, retain bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// LocalBus is the part of the local bus bridges use.
type LocalBus interface {
	Subscribe(topic string, typ msgs.Type, handler localbus.Handler) (*localbus.Subscription, error)
	Publish(topic string, typ msgs.Type, msg any) error
}

// TypeResolver resolves message type names.
type TypeResolver interface {
	Lookup(name string) (msgs.Type, error)
}

// Deps are the shared collaborators handed to every constructor.
type Deps struct {
	Bus    LocalBus
	Conn   Connection
	Codec  codec.Codec
	Paths  topic.PrivatePath
	Types  TypeResolver
	Logger Logger

	// DefaultQoS and DefaultRetain apply when a descriptor does not override them.
	DefaultQoS    byte
	DefaultRetain bool
}

// Spec is a validated descriptor with its message type resolved.
type Spec struct {
	Index     int
	Factory   string
	Type      msgs.Type
	TopicFrom string
	TopicTo   string
	Frequency float64
	QoS       byte
	Retain    bool
}

// base carries what both directions share: state, counters, the close gate.
type base struct {
	info   Info
	typ    msgs.Type
	codec  codec.Codec
	logger Logger

	state atomic.Int32

	received      atomic.Uint64
	published     atomic.Uint64
	dropped       atomic.Uint64
	throttled     atomic.Uint64
	codecErrors   atomic.Uint64
	publishErrors atomic.Uint64
	lastMessage   atomic.Int64 // unix nanos
	lastTopic     atomic.Pointer[string]

	// gate is held shared by each handler invocation and exclusively by
	// Close, so Close returns only after in-flight handlers finish.
	gate      sync.RWMutex
	closed    bool
	closeOnce sync.Once

	now func() time.Time
}

func (b *base) init(info Info, spec Spec, deps Deps) {
	b.info = info
	b.typ = spec.Type
	b.codec = deps.Codec
	b.logger = deps.Logger
	b.now = time.Now
}

// Info implements Bridge.
func (b *base) Info() Info { return b.info }

// State implements Bridge.
func (b *base) State() State { return State(b.state.Load()) }

// Stats implements Bridge.
func (b *base) Stats() Stats {
	s := Stats{
		Received:      b.received.Load(),
		Published:     b.published.Load(),
		Dropped:       b.dropped.Load(),
		Throttled:     b.throttled.Load(),
		CodecErrors:   b.codecErrors.Load(),
		PublishErrors: b.publishErrors.Load(),
	}
	if ns := b.lastMessage.Load(); ns != 0 {
		s.LastMessage = time.Unix(0, ns)
	}
	if t := b.lastTopic.Load(); t != nil {
		s.LastTopic = *t
	}
	return s
}

// enter admits one handler invocation. The caller must call b.gate.RUnlock
// when enter returns true.
func (b *base) enter() bool {
	b.gate.RLock()
	if b.closed {
		b.gate.RUnlock()
		return false
	}
	b.received.Add(1)
	b.lastMessage.Store(b.now().UnixNano())
	return true
}

// shut closes the gate once, waiting for handlers inside it.
func (b *base) shut(unsubscribe func() error) error {
	var err error
	b.closeOnce.Do(func() {
		if b.State() == Subscribed {
			err = unsubscribe()
		}
		b.gate.Lock()
		b.closed = true
		b.gate.Unlock()
		if b.State() != Faulted {
			b.state.Store(int32(Idle))
		}
		b.logDebug("bridge closed")
	})
	return err
}

func (b *base) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, append([]any{"bridge", b.info.Index}, keysAndValues...)...)
	}
}

func (b *base) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, append([]any{"bridge", b.info.Index}, keysAndValues...)...)
	}
}

func (b *base) logError(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"bridge", b.info.Index}, keysAndValues...)...)
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/mqtt-bridge/internal/bridge"
	"github.com/nerrad567/mqtt-bridge/internal/codec"
	"github.com/nerrad567/mqtt-bridge/internal/connection"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-bridge/internal/journal"
	"github.com/nerrad567/mqtt-bridge/internal/msgs"
	"github.com/nerrad567/mqtt-bridge/internal/topic"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultHealthInterval = 30 * time.Second

	// journalTimeout bounds each journal write.
	journalTimeout = 2 * time.Second
)

// Errors returned by Start.
var (
	ErrNoConnection = errors.New("engine: connection manager is required")
	ErrNoBus        = errors.New("engine: local bus is required")
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ConnectionManager is the MQTT session the engine drives.
// *connection.Manager implements it.
type ConnectionManager interface {
	bridge.Connection
	Connect(ctx context.Context, params config.MQTTConfig) error
	Disconnect()
	Status() connection.Status
	Observe(fn connection.Observer) (cancel func())
}

// LocalBus is the local bus the engine owns for its lifetime.
// *localbus.Bus implements it.
type LocalBus interface {
	bridge.LocalBus
	Close()
}

// StatsSink receives periodic bridge counters. *influxdb.Client implements it.
type StatsSink interface {
	WriteBridgeStats(name, direction string, stats influxdb.BridgeStats)
}

// ConnectionSink is optionally implemented by a StatsSink that also
// records connection transitions.
type ConnectionSink interface {
	WriteConnectionState(clientID, state string, connected bool)
}

// Options configures Start.
type Options struct {
	Descriptors []bridge.Descriptor

	Conn   ConnectionManager
	Params config.MQTTConfig
	Bus    LocalBus

	// Serializer and Deserializer name the codec formats, for example
	// "msgpack:dumps" and "msgpack:loads". They are resolved through
	// Codecs, which defaults to codec.NewRegistry. An unresolvable name
	// fails every descriptor, not Start. Codec, when set, is used as is
	// and the names are ignored.
	Serializer   string
	Deserializer string
	Codecs       *codec.Registry
	Codec        codec.Codec

	// Types defaults to msgs.DefaultRegistry and Factories to
	// bridge.NewRegistry.
	Types     bridge.TypeResolver
	Factories *bridge.Registry

	Logger  Logger
	Journal journal.Repository // optional
	Stats   StatsSink          // optional

	// HealthTopic may be private ("~/health"). Empty disables health
	// documents; counters and the journal are still reported.
	HealthTopic    string
	HealthInterval time.Duration

	// ConnectTimeout bounds the initial connect. The transport keeps
	// retrying after it expires.
	ConnectTimeout time.Duration

	Version string
}

// Failure is a descriptor that did not produce a running bridge.
type Failure struct {
	Index      int               `json:"index"`
	Descriptor bridge.Descriptor `json:"descriptor"`
	Error      string            `json:"error"`

	Err error `json:"-"`
}

// Engine is a running set of bridges.
//
// Thread Safety: All methods are safe for concurrent use.
type Engine struct {
	conn   ConnectionManager
	bus    LocalBus
	paths  topic.PrivatePath
	params config.MQTTConfig
	logger Logger
	jrnl   journal.Repository
	stats  StatsSink

	bridges  []bridge.Bridge
	failures []Failure

	reporter      *reporter
	cancelObserve func()

	started  time.Time
	stopOnce sync.Once
}

// Start creates the bridges and connects to the broker.
//
// Descriptor problems, an unresolvable codec and bridge subscribe
// failures never fail Start; they
// are logged as "bridge N failed to start", journaled, and reported by
// Failures. A failed initial connect leaves the engine Disconnected while
// the transport retries.
//
// Parameters:
//   - ctx: Bounds the initial connect attempt
//   - opts: Collaborators and settings
//
// Returns:
//   - *Engine: Running engine; call Stop to shut it down
//   - error: Only for missing collaborators
func Start(ctx context.Context, opts Options) (*Engine, error) {
	switch {
	case opts.Conn == nil:
		return nil, ErrNoConnection
	case opts.Bus == nil:
		return nil, ErrNoBus
	}
	if opts.Types == nil {
		opts.Types = msgs.DefaultRegistry()
	}
	if opts.Factories == nil {
		opts.Factories = bridge.NewRegistry()
	}

	e := &Engine{
		conn:    opts.Conn,
		bus:     opts.Bus,
		paths:   topic.NewPrivatePath(opts.Params.PrivatePath),
		params:  opts.Params,
		logger:  opts.Logger,
		jrnl:    opts.Journal,
		stats:   opts.Stats,
		started: time.Now(),
	}

	e.warnPrivateTopics(opts)

	pair, codecErr := resolveCodec(opts)
	if codecErr != nil {
		e.logError("codec not resolvable, no bridge can start", "error", codecErr)
	} else {
		e.logInfo("codecs resolved", "codec", pair.Name())
	}

	deps := bridge.Deps{
		Bus:           opts.Bus,
		Conn:          opts.Conn,
		Codec:         pair,
		Paths:         e.paths,
		Types:         opts.Types,
		DefaultQoS:    byte(opts.Params.Message.QoS), //nolint:gosec // validated by config
		DefaultRetain: opts.Params.Message.Retain,
	}
	if opts.Logger != nil {
		deps.Logger = opts.Logger
	}

	// Validate everything first so all configuration problems are reported
	// together, before any subscription exists.
	valid := make([]bool, len(opts.Descriptors))
	for i, d := range opts.Descriptors {
		err := opts.Factories.Validate(d, opts.Types)
		if err == nil {
			err = codecErr
		}
		if err != nil {
			e.fail(i, d, &bridge.ConfigurationError{Index: i, Descriptor: d, Err: err})
			continue
		}
		valid[i] = true
	}

	for i, d := range opts.Descriptors {
		if !valid[i] {
			continue
		}
		b, err := opts.Factories.Create(i, d, deps)
		switch {
		case err != nil && b != nil:
			// Subscribe failed: keep the Faulted bridge visible.
			e.bridges = append(e.bridges, b)
			e.fail(i, d, err)
			e.recordBridge(b.Info(), journal.EventFaulted, err.Error())
		case err != nil:
			e.fail(i, d, err)
		default:
			e.bridges = append(e.bridges, b)
			e.recordBridge(b.Info(), journal.EventStarted, "")
			e.logInfo("bridge started",
				"bridge", i,
				"direction", b.Info().Direction,
				"from", b.Info().Source,
				"to", b.Info().Destination,
			)
		}
	}

	e.reporter = newReporter(reporterConfig{
		engine:   e,
		topic:    e.paths.Resolve(opts.HealthTopic),
		interval: opts.HealthInterval,
		version:  opts.Version,
	})
	e.cancelObserve = opts.Conn.Observe(e.reporter.observe)
	e.reporter.start()

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := opts.Conn.Connect(connectCtx, opts.Params); err != nil {
		e.logWarn("MQTT broker not reachable yet, bridges will start forwarding once connected",
			"broker", opts.Params.BrokerURL(),
			"error", err,
		)
	}

	e.logInfo("engine started",
		"bridges", len(e.bridges),
		"failures", len(e.failures),
		"state", opts.Conn.Status().State,
	)
	return e, nil
}

// resolveCodec returns opts.Codec or resolves the configured identifiers.
func resolveCodec(opts Options) (codec.Codec, error) {
	if opts.Codec != nil {
		return opts.Codec, nil
	}
	registry := opts.Codecs
	if registry == nil {
		registry = codec.NewRegistry()
	}
	return registry.ResolvePair(opts.Serializer, opts.Deserializer)
}

// warnPrivateTopics logs private topics that will resolve without a prefix.
func (e *Engine) warnPrivateTopics(opts Options) {
	topics := make([]string, 0, 2*len(opts.Descriptors)+1)
	for _, d := range opts.Descriptors {
		topics = append(topics, d.TopicFrom, d.TopicTo)
	}
	topics = append(topics, opts.HealthTopic)
	for _, t := range e.paths.Warnings(topics...) {
		e.logWarn("private topic used without mqtt.private_path, resolving at the root", "topic", t)
	}
}

// fail records a descriptor that did not start.
func (e *Engine) fail(index int, d bridge.Descriptor, err error) {
	e.failures = append(e.failures, Failure{Index: index, Descriptor: d, Error: err.Error(), Err: err})
	e.logError(fmt.Sprintf("bridge %d failed to start", index), "error", err)

	var cfgErr *bridge.ConfigurationError
	if errors.As(err, &cfgErr) {
		e.recordBridge(bridge.Info{
			Index:       index,
			Factory:     d.Factory,
			MsgType:     d.MsgType,
			Source:      d.TopicFrom,
			Destination: d.TopicTo,
		}, journal.EventFailed, err.Error())
	}
}

// Stop shuts the engine down. Safe to call multiple times.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.logInfo("engine stopping")

		// Inbound bridges go before the bus so no MQTT message is handed
		// to a closed bus. Outbound bridges go after it so queued local
		// messages still reach the broker.
		e.closeBridges(bridge.Inbound)
		e.bus.Close()
		e.closeBridges(bridge.Outbound)

		e.reporter.stop()
		e.cancelObserve()

		e.conn.Disconnect()
		e.recordConnection(connection.Disconnected, "shutdown")

		e.logInfo("engine stopped")
	})
}

// closeBridges closes the bridges flowing in dir.
func (e *Engine) closeBridges(dir bridge.Direction) {
	for _, b := range e.bridges {
		if b.Info().Direction != dir {
			continue
		}
		wasRunning := b.State() == bridge.Subscribed
		if err := b.Close(); err != nil {
			e.logWarn("bridge close failed", "bridge", b.Info().Index, "error", err)
		}
		if wasRunning {
			e.recordBridge(b.Info(), journal.EventStopped, "")
		}
	}
}

// Bridges returns the bridges that were created, Faulted ones included.
func (e *Engine) Bridges() []bridge.Bridge {
	return append([]bridge.Bridge(nil), e.bridges...)
}

// Failures returns descriptors that did not produce a running bridge.
func (e *Engine) Failures() []Failure {
	return append([]Failure(nil), e.failures...)
}

// State returns the MQTT connection state.
func (e *Engine) State() connection.State {
	return e.conn.Status().State
}

// Connection returns the full connection status.
func (e *Engine) Connection() connection.Status {
	return e.conn.Status()
}

// ClientID returns the configured MQTT client id. It is empty when the
// transport generates one.
func (e *Engine) ClientID() string {
	return e.params.Client.ClientID
}

// Uptime returns the time since Start.
func (e *Engine) Uptime() time.Duration {
	return time.Since(e.started)
}

// Health returns the current health document.
func (e *Engine) Health() Health {
	return e.reporter.snapshot(statusFor(e))
}

func (e *Engine) recordBridge(info bridge.Info, event, detail string) {
	if e.jrnl == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	err := e.jrnl.RecordBridge(ctx, &journal.BridgeEvent{
		Index:       info.Index,
		Factory:     info.Factory,
		MsgType:     info.MsgType,
		Source:      info.Source,
		Destination: info.Destination,
		Event:       event,
		Detail:      detail,
	})
	if err != nil {
		e.logWarn("journal write failed", "error", err)
	}
}

func (e *Engine) recordConnection(state connection.State, detail string) {
	if sink, ok := e.stats.(ConnectionSink); ok {
		sink.WriteConnectionState(e.params.Client.ClientID, state.String(), state == connection.Connected)
	}
	if e.jrnl == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := e.jrnl.RecordConnection(ctx, &journal.ConnectionEvent{State: state.String(), Detail: detail}); err != nil {
		e.logWarn("journal write failed", "error", err)
	}
}

func (e *Engine) logInfo(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}

func (e *Engine) logWarn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}

func (e *Engine) logError(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Error(msg, args...)
	}
}

// isNotConnected reports whether err means the session was down.
func isNotConnected(err error) bool {
	return errors.Is(err, connection.ErrNotConnected) || errors.Is(err, mqtt.ErrNotConnected)
}

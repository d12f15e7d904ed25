package localbus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/mqtt-bridge/internal/msgs"
)

// DefaultQueueSize is the per-subscription queue length used when none is set.
const DefaultQueueSize = 64

// Errors returned by the bus.
var (
	// ErrTypeMismatch is returned when a topic is used with a type other than
	// the one it was first bound to.
	ErrTypeMismatch = errors.New("localbus: topic type mismatch")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("localbus: bus closed")

	// ErrInvalidTopic is returned for empty topic names.
	ErrInvalidTopic = errors.New("localbus: invalid topic")
)

// Handler receives one message. It is called from the subscription's
// delivery goroutine, never concurrently with itself.
type Handler func(msg any)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Bus.
type Options struct {
	// QueueSize is the per-subscription buffer. Zero means DefaultQueueSize.
	QueueSize int

	// Logger is optional.
	Logger Logger
}

// topicEntry is the binding of one topic to its type and subscribers.
type topicEntry struct {
	typ  msgs.Type
	subs map[*Subscription]struct{}
}

// Bus is an in-process typed publish/subscribe bus.
//
// Thread Safety: All methods are safe for concurrent use.
type Bus struct {
	queueSize int
	logger    Logger

	mu     sync.RWMutex
	topics map[string]*topicEntry
	closed bool
}

// New creates a bus.
func New(opts Options) *Bus {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Bus{
		queueSize: size,
		logger:    opts.Logger,
		topics:    make(map[string]*topicEntry),
	}
}

// Subscribe registers handler for messages of type typ on topic.
//
// Parameters:
//   - topic: Local topic name, e.g. "/robot/status"
//   - typ: Message type; binds the topic if it is not yet bound
//   - handler: Called once per message, in publish order
//
// Returns:
//   - *Subscription: Handle used to stop delivery
//   - error: ErrTypeMismatch, ErrInvalidTopic or ErrClosed
func (b *Bus) Subscribe(topic string, typ msgs.Type, handler Handler) (*Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if handler == nil {
		return nil, fmt.Errorf("localbus: subscribe %q: nil handler", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	entry, err := b.bindLocked(topic, typ)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		bus:     b,
		topic:   topic,
		handler: handler,
		queue:   make(chan any, b.queueSize),
		done:    make(chan struct{}),
	}
	entry.subs[sub] = struct{}{}
	go sub.run()

	return sub, nil
}

// Publish delivers msg to every subscriber of topic.
// It never blocks on a slow subscriber. Publishing on a topic nobody
// subscribes to still binds its type.
func (b *Bus) Publish(topic string, typ msgs.Type, msg any) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if err := typ.Check(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	entry, err := b.bindLocked(topic, typ)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	subs := make([]*Subscription, 0, len(entry.subs))
	for sub := range entry.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if !sub.offer(msg) && b.logger != nil {
			b.logger.Debug("local subscriber queue full, message dropped", "topic", topic)
		}
	}
	return nil
}

// TopicType returns the type a topic is bound to.
func (b *Bus) TopicType(topic string) (msgs.Type, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.topics[topic]
	if !ok {
		return msgs.Type{}, false
	}
	return entry.typ, true
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if entry, ok := b.topics[topic]; ok {
		return len(entry.subs)
	}
	return 0
}

// Close stops all subscriptions and waits for their queued messages to be
// delivered. Further Subscribe and Publish calls return ErrClosed.
// Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var subs []*Subscription
	for _, entry := range b.topics {
		for sub := range entry.subs {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// bindLocked returns the topic entry, creating it bound to typ.
// Caller must hold b.mu for writing.
func (b *Bus) bindLocked(topic string, typ msgs.Type) (*topicEntry, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q: invalid message type", ErrTypeMismatch, topic)
	}
	entry, ok := b.topics[topic]
	if !ok {
		entry = &topicEntry{typ: typ, subs: make(map[*Subscription]struct{})}
		b.topics[topic] = entry
		return entry, nil
	}
	if entry.typ.Name() != typ.Name() {
		return nil, fmt.Errorf("%w: %q is %s, not %s", ErrTypeMismatch, topic, entry.typ, typ)
	}
	return entry, nil
}

// remove detaches sub from its topic.
func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry, ok := b.topics[sub.topic]; ok {
		delete(entry.subs, sub)
	}
}

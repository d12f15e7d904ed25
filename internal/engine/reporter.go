package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/mqtt-bridge/internal/bridge"
	"github.com/nerrad567/mqtt-bridge/internal/connection"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/influxdb"
)

// transitionBuffer is how many connection transitions may queue while the
// reporter is busy. Observers must not block, so extras are dropped.
const transitionBuffer = 32

type reporterConfig struct {
	engine   *Engine
	topic    string
	interval time.Duration
	version  string
}

type transition struct {
	state  connection.State
	detail string
}

// reporter publishes health, writes counters and journals connection
// transitions from a single goroutine.
type reporter struct {
	e        *Engine
	topic    string
	interval time.Duration
	version  string

	transitions chan transition

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newReporter(cfg reporterConfig) *reporter {
	interval := cfg.interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &reporter{
		e:           cfg.engine,
		topic:       cfg.topic,
		interval:    interval,
		version:     cfg.version,
		transitions: make(chan transition, transitionBuffer),
		done:        make(chan struct{}),
	}
}

func (r *reporter) start() {
	r.wg.Add(1)
	go r.loop()
}

// stop ends the loop, journals queued transitions and publishes a final
// "stopping" document. Safe to call multiple times.
func (r *reporter) stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.drainTransitions()
		r.writeStats()
		r.publish(r.snapshot(StatusStopping, "engine stopping"))
	})
}

// observe is the connection.Observer. It never blocks.
func (r *reporter) observe(state connection.State, err error) {
	t := transition{state: state}
	if err != nil {
		t.detail = err.Error()
	}
	select {
	case r.transitions <- t:
	default:
		r.e.logWarn("connection transition not journaled, reporter busy", "state", state)
	}
}

func (r *reporter) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case t := <-r.transitions:
			r.e.recordConnection(t.state, t.detail)
			if t.state == connection.Connected {
				// Replace the retained document as soon as the broker is back.
				r.publishNow()
			}
		case <-ticker.C:
			r.writeStats()
			r.publishNow()
		}
	}
}

func (r *reporter) drainTransitions() {
	for {
		select {
		case t := <-r.transitions:
			r.e.recordConnection(t.state, t.detail)
		default:
			return
		}
	}
}

func (r *reporter) publishNow() {
	r.publish(r.snapshot(statusFor(r.e)))
}

// snapshot builds a health document with the given status.
func (r *reporter) snapshot(status, reason string) Health {
	h := Health{
		Status:        status,
		Reason:        reason,
		Version:       r.version,
		Connection:    r.e.State().String(),
		Bridges:       len(r.e.bridges),
		Failed:        len(r.e.failures),
		UptimeSeconds: int64(r.e.Uptime().Seconds()),
		Timestamp:     time.Now().UTC(),
	}
	for _, b := range r.e.bridges {
		switch b.State() {
		case bridge.Subscribed:
			h.Running++
		case bridge.Faulted:
			h.Faulted++
		}
		h.Totals.add(b.Stats())
	}
	return h
}

// publish sends h, retained at QoS 1. A down session is expected and only
// logged at debug.
func (r *reporter) publish(h Health) {
	if r.topic == "" {
		return
	}
	payload, err := json.Marshal(h)
	if err != nil {
		r.e.logError("failed to encode health document", "error", err)
		return
	}
	if err := r.e.conn.Publish(r.topic, payload, 1, true); err != nil {
		if isNotConnected(err) {
			if r.e.logger != nil {
				r.e.logger.Debug("health not published, MQTT not connected", "topic", r.topic)
			}
			return
		}
		r.e.logWarn("failed to publish health", "topic", r.topic, "error", err)
	}
}

// writeStats sends one sample per bridge to the statistics sink.
func (r *reporter) writeStats() {
	if r.e.stats == nil {
		return
	}
	for _, b := range r.e.bridges {
		info, s := b.Info(), b.Stats()
		r.e.stats.WriteBridgeStats(info.Name(), string(info.Direction), influxdb.BridgeStats{
			MsgType:       info.MsgType,
			Received:      s.Received,
			Published:     s.Published,
			Dropped:       s.Dropped,
			Throttled:     s.Throttled,
			CodecErrors:   s.CodecErrors,
			PublishErrors: s.PublishErrors,
		})
	}
}

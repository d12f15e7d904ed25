package engine

import (
	"time"

	"github.com/nerrad567/mqtt-bridge/internal/bridge"
	"github.com/nerrad567/mqtt-bridge/internal/connection"
)

// Health status values.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusStopping = "stopping"
)

// Health is the document published on the health topic and served by the
// status API.
type Health struct {
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	Version       string    `json:"version,omitempty"`
	Connection    string    `json:"connection"`
	Bridges       int       `json:"bridges"`
	Running       int       `json:"running"`
	Faulted       int       `json:"faulted"`
	Failed        int       `json:"failed"`
	Totals        Totals    `json:"totals"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// Totals sums the counters of every bridge.
type Totals struct {
	Received      uint64 `json:"received"`
	Published     uint64 `json:"published"`
	Dropped       uint64 `json:"dropped"`
	Throttled     uint64 `json:"throttled"`
	CodecErrors   uint64 `json:"codec_errors"`
	PublishErrors uint64 `json:"publish_errors"`
}

func (t *Totals) add(s bridge.Stats) {
	t.Received += s.Received
	t.Published += s.Published
	t.Dropped += s.Dropped
	t.Throttled += s.Throttled
	t.CodecErrors += s.CodecErrors
	t.PublishErrors += s.PublishErrors
}

// statusFor evaluates the engine. Degraded means the broker is unreachable
// or at least one descriptor is not running.
func statusFor(e *Engine) (status, reason string) {
	if e.State() != connection.Connected {
		return StatusDegraded, "MQTT " + e.State().String()
	}
	if n := len(e.failures); n > 0 {
		return StatusDegraded, "bridges failed to start"
	}
	return StatusHealthy, ""
}

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementBridgeStats = "mqtt_bridge_stats"
	measurementConnection  = "mqtt_bridge_connection"
)

// BridgeStats are the cumulative counters of one bridge.
type BridgeStats struct {
	MsgType       string
	Received      uint64
	Published     uint64
	Dropped       uint64
	Throttled     uint64
	CodecErrors   uint64
	PublishErrors uint64
}

// WriteBridgeStats records one sample of a bridge's counters.
//
// Parameters:
//   - name: Bridge label, "source -> destination"
//   - direction: "outbound" or "inbound"
//   - stats: Counter snapshot
func (c *Client) WriteBridgeStats(name, direction string, stats BridgeStats) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"bridge":    name,
		"direction": direction,
	}
	if stats.MsgType != "" {
		tags["msg_type"] = stats.MsgType
	}

	// uint64 fields are written as InfluxDB unsigned integers.
	c.writeAPI.WritePoint(write.NewPoint(measurementBridgeStats, tags, map[string]any{
		"received":       stats.Received,
		"published":      stats.Published,
		"dropped":        stats.Dropped,
		"throttled":      stats.Throttled,
		"codec_errors":   stats.CodecErrors,
		"publish_errors": stats.PublishErrors,
	}, time.Now()))
}

// WriteConnectionState records an MQTT connection state change.
func (c *Client) WriteConnectionState(clientID, state string, connected bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurementConnection,
		map[string]string{"client_id": clientID},
		map[string]any{"state": state, "connected": connected},
		time.Now()))
}

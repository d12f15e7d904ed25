// Package topic maps logical bridge topics to concrete MQTT topic strings.
//
// A topic starting with the private marker "~" is namespaced under the
// configured private path, so several robots can share one broker without
// colliding:
//
//	p := topic.NewPrivatePath("fleet/robot7")
//	p.Resolve("~/status")         // "fleet/robot7/status"
//	p.Resolve("fleet/all/status") // unchanged
//	p.Relative("fleet/robot7/status") // "~/status", true
//
// The package also validates MQTT topic names (publish) and topic
// filters (subscribe).
package topic

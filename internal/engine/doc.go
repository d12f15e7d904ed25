// Package engine runs a set of bridges over one MQTT session and one local
// bus.
//
// Start validates every descriptor, creates the bridges in configuration
// order, and connects the MQTT session. A descriptor that cannot be turned
// into a bridge is logged, journaled and skipped; the rest keep running.
// A broker that cannot be reached is not fatal either: the engine starts
// Disconnected and the transport keeps retrying.
//
// Stop shuts down in a fixed order:
//
//  1. close the local bus, so no new local messages are dispatched and
//     queued ones are drained through outbound bridges
//  2. close every bridge (unsubscribe, wait for in-flight handlers)
//  3. stop the reporter, which publishes a final "stopping" health document
//  4. disconnect MQTT
//
// While running, a reporter publishes a JSON health document to the health
// topic, writes per-bridge counters to the statistics sink, and records
// connection transitions in the journal.
package engine

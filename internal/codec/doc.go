// Package codec converts local bus messages to MQTT payloads and back.
//
// A Codec is a capability, not an enumeration: bridges only ever call
// Serialize and Deserialize, and new formats are added with
// Registry.Register without touching bridge code.
//
// Built-in formats:
//   - msgpack: MessagePack, the structured binary default
//   - json: JSON text
//   - yaml: YAML text
//
// Identifiers may carry a function suffix, so the classic configuration
// pair "msgpack:dumps" / "msgpack:loads" resolves to the msgpack format.
//
// Round-trip fidelity is semantic: Deserialize(Serialize(m)) yields a value
// equal to m for the declared message type, not identical bytes.
package codec

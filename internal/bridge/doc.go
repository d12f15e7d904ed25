// Package bridge moves messages between the local bus and MQTT.
//
// A bridge is one subscription plus one publish target:
//
//	Outbound  local topic ──codec.Serialize──▶ MQTT topic
//	Inbound   MQTT topic  ──codec.Deserialize─▶ local topic
//
// Bridges are built from descriptors by a Registry that maps factory names
// ("ros_to_mqtt", "mqtt_to_ros" and their dotted aliases) to constructors.
// Construction subscribes immediately; a bridge that cannot subscribe is
// Faulted and stays that way.
//
// Per message, a bridge never blocks on the broker. Outbound messages that
// arrive while the connection is not Connected are dropped and counted.
// Codec failures are counted and logged and never stop the bridge.
package bridge

// Package msgs defines the typed messages carried by the local bus and the
// registry that resolves configured message type names to them.
//
// Names are accepted in three spellings, all resolving to the same type:
//
//	StringMsg / String      short form
//	std_msgs/String         package/Type
//	std_msgs/msg/String     package/msg/Type
//
// Field names follow the json struct tags; codecs use those tags so a
// message serialized here reads the same on the far side of the broker.
package msgs

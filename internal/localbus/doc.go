// Package localbus is the in-process publish/subscribe bus that stands in for
// the robot's local message transport.
//
// Topics are typed: the first Subscribe or Publish on a topic binds it to a
// msgs.Type and later calls with a different type fail with ErrTypeMismatch.
//
// Each Subscription owns a bounded queue drained by a single goroutine, so a
// handler sees messages in publish order and is never re-entered. A slow
// handler does not block publishers; when its queue is full the message is
// dropped and counted on that subscription only.
//
// Messages are delivered by reference to every subscriber. Handlers must
// treat them as read-only.
package localbus

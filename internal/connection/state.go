package connection

import "time"

// State is the connection state of the MQTT session.
type State int32

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Connected
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Observer receives state transitions. err is the cause of a transition to
// Disconnected and nil otherwise.
//
// Observers are called outside the manager's locks and may call back into
// the manager, but must not block.
type Observer func(state State, err error)

// Status is a point-in-time view of the session for reporting.
type Status struct {
	State         State
	LastError     error
	Since         time.Time
	Subscriptions int
}

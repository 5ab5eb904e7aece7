package subscription

import "fmt"

// State is the lifecycle state of a Controller.
type State int

const (
	// StateIdle is the state before Start.
	StateIdle State = iota
	// StateNotSubscribed covers both "connecting" and "awaiting the first ack":
	// the first parseable ack after connect moves to StateSubscribed.
	StateNotSubscribed
	StateSubscribed
	StateUnsubscribing
	StateClosed
	// StateFailed is terminal; Err reports why.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNotSubscribed:
		return "not_subscribed"
	case StateSubscribed:
		return "subscribed"
	case StateUnsubscribing:
		return "unsubscribing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// StateChange describes one transition.
type StateChange struct {
	From           State
	To             State
	SubscriptionID string
	// Reconnect is the attempt number when the transition follows a redial.
	Reconnect int
	Err       error
}

// Observer is notified of every transition, on the controller goroutine.
// Stop and Close wait until StateChanged returns, so it must not block
// indefinitely; long work has to honour a context cancelled on shutdown.
type Observer interface {
	StateChanged(change StateChange)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(change StateChange)

func (f ObserverFunc) StateChanged(change StateChange) {
	f(change)
}

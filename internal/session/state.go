package session

import "fmt"

// State is the connection lifecycle state.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	// Failed is terminal until Connect is called again.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// active reports whether the session owns a connection or a pending attempt.
func (s State) active() bool {
	return s == Connecting || s == Connected || s == Reconnecting
}

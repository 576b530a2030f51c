package socket

import "fmt"

// State is the connection state of a Socket.
type State int

const (
	Unconnected State = iota
	HostLookup
	Connecting
	Connected
	Bound
	Closing
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "Unconnected"
	case HostLookup:
		return "HostLookup"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Bound:
		return "Bound"
	case Closing:
		return "Closing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Handler receives socket events. Any field may be nil. Events are delivered
// on the loop goroutine, in the order they occurred; an event raised while a
// handler is running is delivered after that handler returns.
type Handler struct {
	HostFound    func()
	Connected    func()
	ReadyRead    func()
	BytesWritten func(n int)
	StateChanged func(State)
	Disconnected func()
	Error        func(error)
}

package zk

import "strconv"

// State is the state of a ConnectionManager.
type State int32

const (
	StateDisconnected      State = -5
	StateConnecting        State = 1
	StateConnected         State = 3
	StateConnectedReadOnly State = 5
	StateClosing           State = -2
	StateClosed            State = -1
	StateSessionExpired    State = -112
	StateAuthFailed        State = -113
)

var stateNames = map[State]string{
	StateDisconnected:      "DISCONNECTED",
	StateConnecting:        "CONNECTING",
	StateConnected:         "CONNECTED",
	StateConnectedReadOnly: "CONNECTED_READ_ONLY",
	StateClosing:           "CLOSING",
	StateClosed:            "CLOSED",
	StateSessionExpired:    "SESSION_EXPIRED",
	StateAuthFailed:        "AUTH_FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN_" + strconv.Itoa(int(s))
}

// IsConnected reports whether requests can currently be written.
func (s State) IsConnected() bool {
	return s == StateConnected || s == StateConnectedReadOnly
}

// IsTerminal reports whether the manager can never reconnect from s.
func (s State) IsTerminal() bool {
	switch s {
	case StateClosed, StateSessionExpired, StateAuthFailed:
		return true
	default:
		return false
	}
}

// EventType is the type of a watcher event.
type EventType int32

const (
	EventNone                EventType = -1
	EventNodeCreated         EventType = 1
	EventNodeDeleted         EventType = 2
	EventNodeDataChanged     EventType = 3
	EventNodeChildrenChanged EventType = 4
)

var eventNames = map[EventType]string{
	EventNone:                "NONE",
	EventNodeCreated:         "NODE_CREATED",
	EventNodeDeleted:         "NODE_DELETED",
	EventNodeDataChanged:     "NODE_DATA_CHANGED",
	EventNodeChildrenChanged: "NODE_CHILDREN_CHANGED",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "UNKNOWN_" + strconv.Itoa(int(t))
}

// Event is a Znode event sent by the server.
// Refer to EventType for more details.
type Event struct {
	Type  EventType
	State int32
	Path  string // chroot relative path of the watched node
}

// Package proto defines the request and response records of the ZooKeeper
// client protocol and the op code table that binds them together.
package proto

import "strconv"

// ProtocolVersion is sent in every connect request.
const ProtocolVersion = 0

// PasswordLength is the size of an empty session password.
const PasswordLength = 16

// OpCode identifies a request type.
type OpCode int32

const (
	OpNotify       OpCode = 0
	OpCreate       OpCode = 1
	OpDelete       OpCode = 2
	OpExists       OpCode = 3
	OpGetData      OpCode = 4
	OpSetData      OpCode = 5
	OpGetACL       OpCode = 6
	OpSetACL       OpCode = 7
	OpGetChildren  OpCode = 8
	OpSync         OpCode = 9
	OpPing         OpCode = 11
	OpGetChildren2 OpCode = 12
	OpCheck        OpCode = 13
	OpMulti        OpCode = 14
	OpAuth         OpCode = 100
	OpSetWatches   OpCode = 101
	OpCloseSession OpCode = -11
	OpError        OpCode = -1
)

var opNames = map[OpCode]string{
	OpNotify:       "notify",
	OpCreate:       "create",
	OpDelete:       "delete",
	OpExists:       "exists",
	OpGetData:      "getData",
	OpSetData:      "setData",
	OpGetACL:       "getACL",
	OpSetACL:       "setACL",
	OpGetChildren:  "getChildren",
	OpSync:         "sync",
	OpPing:         "ping",
	OpGetChildren2: "getChildren2",
	OpCheck:        "check",
	OpMulti:        "multi",
	OpAuth:         "auth",
	OpSetWatches:   "setWatches",
	OpCloseSession: "close",
	OpError:        "error",
}

func (op OpCode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(op)) + ")"
}

// IsMutating reports whether op changes server state and is therefore
// refused on a read-only session.
func (op OpCode) IsMutating() bool {
	switch op {
	case OpCreate, OpDelete, OpSetData, OpSetACL, OpMulti:
		return true
	default:
		return false
	}
}

// Reserved xids used by requests that are not correlated through the
// pending queue (except set-watches, which keeps its xid but is correlated).
const (
	XidNotification int32 = -1
	XidPing         int32 = -2
	XidAuth         int32 = -4
	XidSetWatches   int32 = -8
)

// IsReservedXid reports whether xid is one of the fixed pseudo-xids.
func IsReservedXid(xid int32) bool {
	switch xid {
	case XidNotification, XidPing, XidAuth, XidSetWatches:
		return true
	default:
		return false
	}
}

// Event types carried by watcher notifications.
const (
	EventNone                int32 = -1
	EventNodeCreated         int32 = 1
	EventNodeDeleted         int32 = 2
	EventNodeDataChanged     int32 = 3
	EventNodeChildrenChanged int32 = 4
)

// Keeper states carried by watcher notifications.
const (
	KeeperStateDisconnected  int32 = 0
	KeeperStateSyncConnected int32 = 3
	KeeperStateAuthFailed    int32 = 4
	KeeperStateReadOnly      int32 = 5
	KeeperStateExpired       int32 = -112
)

// Permissions.
const (
	PermRead int32 = 1 << iota
	PermWrite
	PermCreate
	PermDelete
	PermAdmin
	PermAll = PermRead | PermWrite | PermCreate | PermDelete | PermAdmin
)

// Create flags.
const (
	FlagEphemeral int32 = 1
	FlagSequence  int32 = 2
)

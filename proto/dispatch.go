package proto

import (
	"errors"
	"fmt"

	"github.com/QuangTung97/zksession/jute"
)

// ErrUnknownOpCode is returned for an op code without a response record.
var ErrUnknownOpCode = errors.New("proto: unknown op code")

// NewResponse returns an empty response record for op. Operations whose
// reply is header-only return a nil record.
func NewResponse(op OpCode) (jute.Value, error) {
	switch op {
	case OpCreate, OpSync:
		return &PathResponse{}, nil
	case OpExists, OpSetData, OpSetACL:
		return &StatResponse{}, nil
	case OpGetData:
		return &GetDataResponse{}, nil
	case OpGetACL:
		return &GetACLResponse{}, nil
	case OpGetChildren2:
		return &GetChildren2Response{}, nil
	case OpMulti:
		return &MultiResponse{}, nil
	case OpDelete, OpCheck, OpPing, OpAuth, OpSetWatches, OpCloseSession:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOpCode, op)
	}
}

// PathOf returns the path of a request record, or "" if it has none.
func PathOf(v jute.Value) string {
	switch r := v.(type) {
	case *CreateRequest:
		return r.Path.Value
	case *DeleteRequest:
		return r.Path.Value
	case *PathWatchRequest:
		return r.Path.Value
	case *SetDataRequest:
		return r.Path.Value
	case *PathRequest:
		return r.Path.Value
	case *SetACLRequest:
		return r.Path.Value
	case *CheckVersionRequest:
		return r.Path.Value
	default:
		return ""
	}
}

package zk

import (
	"errors"
	"fmt"
)

// ErrorCode is an error code sent by the server in a reply header.
type ErrorCode int32

const (
	CodeOK                      ErrorCode = 0
	CodeSystemError             ErrorCode = -1
	CodeRuntimeInconsistency    ErrorCode = -2
	CodeDataInconsistency       ErrorCode = -3
	CodeConnectionLoss          ErrorCode = -4
	CodeMarshallingError        ErrorCode = -5
	CodeUnimplemented           ErrorCode = -6
	CodeOperationTimeout        ErrorCode = -7
	CodeBadArguments            ErrorCode = -8
	CodeInvalidState            ErrorCode = -9
	CodeAPIError                ErrorCode = -100
	CodeNoNode                  ErrorCode = -101
	CodeNoAuth                  ErrorCode = -102
	CodeBadVersion              ErrorCode = -103
	CodeNoChildrenForEphemerals ErrorCode = -108
	CodeNodeExists              ErrorCode = -110
	CodeNotEmpty                ErrorCode = -111
	CodeSessionExpired          ErrorCode = -112
	CodeInvalidCallback         ErrorCode = -113
	CodeInvalidACL              ErrorCode = -114
	CodeAuthFailed              ErrorCode = -115
	CodeClosing                 ErrorCode = -116
	CodeNothing                 ErrorCode = -117
	CodeSessionMoved            ErrorCode = -118
	CodeNotReadOnly             ErrorCode = -119
)

var codeNames = map[ErrorCode]string{
	CodeOK:                      "OK",
	CodeSystemError:             "SYSTEM_ERROR",
	CodeRuntimeInconsistency:    "RUNTIME_INCONSISTENCY",
	CodeDataInconsistency:       "DATA_INCONSISTENCY",
	CodeConnectionLoss:          "CONNECTION_LOSS",
	CodeMarshallingError:        "MARSHALLING_ERROR",
	CodeUnimplemented:           "UNIMPLEMENTED",
	CodeOperationTimeout:        "OPERATION_TIMEOUT",
	CodeBadArguments:            "BAD_ARGUMENTS",
	CodeInvalidState:            "INVALID_STATE",
	CodeAPIError:                "API_ERROR",
	CodeNoNode:                  "NO_NODE",
	CodeNoAuth:                  "NO_AUTH",
	CodeBadVersion:              "BAD_VERSION",
	CodeNoChildrenForEphemerals: "NO_CHILDREN_FOR_EPHEMERALS",
	CodeNodeExists:              "NODE_EXISTS",
	CodeNotEmpty:                "NOT_EMPTY",
	CodeSessionExpired:          "SESSION_EXPIRED",
	CodeInvalidCallback:         "INVALID_CALLBACK",
	CodeInvalidACL:              "INVALID_ACL",
	CodeAuthFailed:              "AUTH_FAILED",
	CodeClosing:                 "CLOSING",
	CodeNothing:                 "NOTHING",
	CodeSessionMoved:            "SESSION_MOVED",
	CodeNotReadOnly:             "NOT_READ_ONLY",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", int32(c))
}

// Error is a failure reported by the server, or synthesized by the client
// for connection and session level failures.
type Error struct {
	Code ErrorCode
	Path string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("zk: %s [%d]", e.Code, int32(e.Code))
	if e.Path != "" {
		msg += "@" + e.Path
	}
	return msg
}

// Is matches any *Error with the same code, ignoring the path.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates an error with the code and an optional path.
func NewError(code ErrorCode, path string) error {
	return &Error{Code: code, Path: path}
}

// CodeOf returns the code of a zk error, or CodeSystemError for other errors.
func CodeOf(err error) ErrorCode {
	var zkErr *Error
	if errors.As(err, &zkErr) {
		return zkErr.Code
	}
	if err == nil {
		return CodeOK
	}
	return CodeSystemError
}

var (
	ErrSystemError             = &Error{Code: CodeSystemError}
	ErrRuntimeInconsistency    = &Error{Code: CodeRuntimeInconsistency}
	ErrDataInconsistency       = &Error{Code: CodeDataInconsistency}
	ErrConnectionLoss          = &Error{Code: CodeConnectionLoss}
	ErrMarshallingError        = &Error{Code: CodeMarshallingError}
	ErrUnimplemented           = &Error{Code: CodeUnimplemented}
	ErrOperationTimeout        = &Error{Code: CodeOperationTimeout}
	ErrBadArguments            = &Error{Code: CodeBadArguments}
	ErrAPIError                = &Error{Code: CodeAPIError}
	ErrNoNode                  = &Error{Code: CodeNoNode}
	ErrNoAuth                  = &Error{Code: CodeNoAuth}
	ErrBadVersion              = &Error{Code: CodeBadVersion}
	ErrNoChildrenForEphemerals = &Error{Code: CodeNoChildrenForEphemerals}
	ErrNodeExists              = &Error{Code: CodeNodeExists}
	ErrNotEmpty                = &Error{Code: CodeNotEmpty}
	ErrSessionExpired          = &Error{Code: CodeSessionExpired}
	ErrInvalidCallback         = &Error{Code: CodeInvalidCallback}
	ErrInvalidACL              = &Error{Code: CodeInvalidACL}
	ErrAuthFailed              = &Error{Code: CodeAuthFailed}
	ErrSessionMoved            = &Error{Code: CodeSessionMoved}
	ErrNotReadOnly             = &Error{Code: CodeNotReadOnly}
)

// Local errors, returned before anything is sent.
var (
	// ErrInvalidPath indicates that an operation was being attempted on
	// an invalid path. (e.g. empty path).
	ErrInvalidPath = errors.New("zk: invalid path")

	ErrInvalidState    = errors.New("zk: invalid state for operation")
	ErrDataTooLarge    = errors.New("zk: data exceeds size limit")
	ErrInvalidACLArgs  = errors.New("zk: acl list must not be empty")
	ErrNilWatcher      = errors.New("zk: watcher must not be nil")
	ErrNoServer        = errors.New("zk: server list must not be empty")
	ErrClientClosed    = errors.New("zk: client is closed")
	ErrEmptyAuthScheme = errors.New("zk: auth scheme must not be empty")
)

// ErrProtocol wraps framing and correlation failures. They tear down the
// connection, they are never returned to request callers.
var ErrProtocol = errors.New("zk: protocol error")

func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrProtocol}, args...)...)
}

package kernel

import (
	"errors"
	"fmt"
)

// ErrRejected is wrapped by every *Error.
var ErrRejected = errors.New("kernel: invocation rejected")

// ErrorCode is the kernel's invocation result.
type ErrorCode int

const (
	NoError ErrorCode = iota
	InvalidArgument
	InvalidCapability
	IllegalOperation
	RangeError
	AlignmentError
	FailedLookup
	TruncatedMessage
	DeleteFirst
	RevokeFirst
	NotEnoughMemory
)

var codeNames = map[ErrorCode]string{
	NoError:           "no_error",
	InvalidArgument:   "invalid_argument",
	InvalidCapability: "invalid_capability",
	IllegalOperation:  "illegal_operation",
	RangeError:        "range_error",
	AlignmentError:    "alignment_error",
	FailedLookup:      "failed_lookup",
	TruncatedMessage:  "truncated_message",
	DeleteFirst:       "delete_first",
	RevokeFirst:       "revoke_first",
	NotEnoughMemory:   "not_enough_memory",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error(%d)", int(c))
}

// Error is a failed invocation.
type Error struct {
	Op     string
	Code   ErrorCode
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("kernel: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("kernel: %s: %s: %s", e.Op, e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return ErrRejected
}

func Errorf(op string, code ErrorCode, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the kernel error code from err, if it carries one.
func CodeOf(err error) (ErrorCode, bool) {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Code, true
	}
	return NoError, false
}

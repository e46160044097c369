// Package cantripos holds the pieces shared by the memory manager, SDK
// runtime, audio driver and mailbox packages: the structured error type,
// configuration, metrics observers and an in-memory key-value store. The
// process wiring lives in cmd/cantripd.
package cantripos

import (
	"errors"
	"fmt"
)

// Error represents a structured CantripOS error with an operation name and a
// high-level error category. Every error surfaced to an application crosses
// the SDK Runtime boundary as one of these; no raw kernel or syscall error is
// ever placed in an IPC reply label.
type Error struct {
	Op    string    // Operation that failed (e.g., "timer_oneshot", "alloc")
	Code  ErrorCode // High-level error category
	Msg   string    // Human-readable message
	Inner error     // Wrapped error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("cantripos: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("cantripos: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support for ErrorCode comparison.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents the high-level error taxonomy from the error handling
// design: invalid-request, resource-exhaustion, capability/kernel,
// transport/codec and platform categories.
type ErrorCode string

const (
	// Invalid request.
	ErrCodeInvalidBadge          ErrorCode = "invalid badge"
	ErrCodeNoSuchTimer           ErrorCode = "no such timer"
	ErrCodeNoSuchModel           ErrorCode = "no such model"
	ErrCodeInvalidAudioParameter ErrorCode = "invalid audio parameter"
	ErrCodeInvalidAudioState     ErrorCode = "invalid audio state"
	ErrCodeInvalidInputRange     ErrorCode = "invalid input range"
	ErrCodeInvalidTimer          ErrorCode = "invalid timer"
	ErrCodeTimerAlreadyExists    ErrorCode = "timer already exists"

	// Resource exhaustion.
	ErrCodeOutOfResources ErrorCode = "out of resources"
	ErrCodeAllocFailed    ErrorCode = "alloc failed"
	ErrCodeNoModelOutput  ErrorCode = "no model output"

	// Capability/kernel.
	ErrCodeCapAllocFailed ErrorCode = "cap alloc failed"
	ErrCodeObjTypeInvalid ErrorCode = "object type invalid"
	ErrCodeUnknownError   ErrorCode = "unknown error"

	// Transport/codec.
	ErrCodeSerializeFailed   ErrorCode = "serialize failed"
	ErrCodeDeserializeFailed ErrorCode = "deserialize failed"
	ErrCodeUnknownResponse   ErrorCode = "unknown response"

	// Platform.
	ErrCodeNoPlatformSupport ErrorCode = "no platform support"

	// ErrCodeSuccess is never constructed directly by callers; it exists so
	// Label() has a defined zero value.
	ErrCodeSuccess ErrorCode = ""
)

// codeLabels assigns each ErrorCode a stable non-zero numeric label for the
// IPC reply. Label 0 is reserved for success and is never assigned here.
var codeLabels = map[ErrorCode]uint32{
	ErrCodeInvalidBadge:          1,
	ErrCodeNoSuchTimer:           2,
	ErrCodeNoSuchModel:           3,
	ErrCodeInvalidAudioParameter: 4,
	ErrCodeInvalidAudioState:     5,
	ErrCodeInvalidInputRange:     6,
	ErrCodeInvalidTimer:          7,
	ErrCodeTimerAlreadyExists:    8,
	ErrCodeOutOfResources:        9,
	ErrCodeAllocFailed:           10,
	ErrCodeNoModelOutput:         11,
	ErrCodeCapAllocFailed:        12,
	ErrCodeObjTypeInvalid:        13,
	ErrCodeUnknownError:         14,
	ErrCodeSerializeFailed:       15,
	ErrCodeDeserializeFailed:     16,
	ErrCodeUnknownResponse:       17,
	ErrCodeNoPlatformSupport:     18,
}

// Label returns the numeric IPC reply-label value for this code. Zero means
// success; this is the only path by which a label is produced, so no raw
// kernel or errno value can leak to an application.
func (c ErrorCode) Label() uint32 {
	if c == ErrCodeSuccess {
		return 0
	}
	return codeLabels[c]
}

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError wraps an existing error with CantripOS context, tagging it with
// code unless it is already a structured *Error, whose own code is kept.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ce, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: ce.Code, Msg: ce.Msg, Inner: ce.Inner}
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

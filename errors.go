package perilib

import (
	"errors"
	"fmt"
)

// Error represents a structured perilib error with packet/protocol context.
type Error struct {
	Op     string    // Operation that failed (e.g., "Pack", "Unpack", "Send", "WaitPacket")
	Packet string    // Packet/field name, if applicable ("" if not applicable)
	Code   ErrorCode // High-level error category
	Msg    string    // Human-readable message
	Inner  error     // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Packet != "" {
		parts = append(parts, fmt.Sprintf("packet=%s", e.Packet))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("perilib: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("perilib: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support based on error code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents the error taxonomy from the stream protocol engine's
// error handling design: each kind is triggered by a specific violation and
// has a fixed disposition (observer callback vs. caller-visible return).
type ErrorCode string

const (
	// ErrCodeShortBuffer: unpacking fewer bytes than the layout requires.
	ErrCodeShortBuffer ErrorCode = "short buffer"
	// ErrCodeLengthMismatch: declared variable-blob length inconsistent with remaining bytes.
	ErrCodeLengthMismatch ErrorCode = "length mismatch"
	// ErrCodeMissingField: packing with a required key absent.
	ErrCodeMissingField ErrorCode = "missing field"
	// ErrCodeBadField: field value outside its declared width/shape.
	ErrCodeBadField ErrorCode = "bad field"
	// ErrCodeUnknownPacket: packet_from_name_and_args cannot find the name.
	ErrCodeUnknownPacket ErrorCode = "unknown packet"
	// ErrCodeBadPacket: packet_from_buffer rejects a structurally valid frame.
	ErrCodeBadPacket ErrorCode = "bad packet"
	// ErrCodeBusy: wait_packet(name) called while another wait is active.
	ErrCodeBusy ErrorCode = "busy"
	// ErrCodeTransport: stream write or read failure.
	ErrCodeTransport ErrorCode = "transport error"
	// ErrCodeTimeout: incoming-packet or waiting-packet deadline elapsed.
	ErrCodeTimeout ErrorCode = "timeout"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewFieldError creates a new error scoped to a specific field or packet name.
func NewFieldError(op, packet string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Packet: packet, Code: code, Msg: msg}
}

// WithInner attaches a wrapped error for errors.Is/As unwrapping and
// returns the receiver, for chaining onto NewError/NewFieldError.
func (e *Error) WithInner(inner error) *Error {
	e.Inner = inner
	return e
}

// WrapError wraps an existing error with perilib context, preserving its
// code if it is already a structured *Error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if pe, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			Packet: pe.Packet,
			Code:   pe.Code,
			Msg:    pe.Msg,
			Inner:  pe.Inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  ErrCodeTransport,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// IsCode reports whether err (or any error it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

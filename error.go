package watchwire

import (
	"errors"
	"fmt"
)

var (
	ErrDecoding       = errors.New("watchwire: decoding error")
	ErrEncoding       = errors.New("watchwire: encoding error")
	ErrPduTooLarge    = errors.New("watchwire: PDU larger than configured read limit")
	ErrUnknownPduType = errors.New("watchwire: unknown PDU type")
	ErrValidation     = errors.New("watchwire: command validation failed")
)

// ParseError reports a malformed PDU.
//
// Offset is relative to the start of the PDU. Line and Column are 1-based and
// only set for JSON PDUs.
//
// A ParseError always matches [ErrDecoding] with [errors.Is]; Err carries the
// underlying cause, such as [ErrPduTooLarge], when there is one.
type ParseError struct {
	Err    error
	Msg    string
	Offset int
	Line   int
	Column int
	Type   PduType
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("watchwire: invalid %s PDU at line %d column %d: %s", e.Type, e.Line, e.Column, e.Msg)
	}

	return fmt.Sprintf("watchwire: invalid %s PDU at offset %d: %s", e.Type, e.Offset, e.Msg)
}

// Unwrap implements the [errors] unwrapping interface.
func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecoding, e.Err}
	}

	return []error{ErrDecoding}
}

// EncodeError reports a value that cannot be represented in the requested format,
// for example a NaN in JSON.
type EncodeError struct {
	Msg  string
	Type PduType
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("watchwire: cannot encode %s PDU: %s", e.Type, e.Msg)
}

// Unwrap returns [ErrEncoding].
func (e *EncodeError) Unwrap() error {
	return ErrEncoding
}

// TransportError wraps a failure reported by the underlying stream.
//
// It unwraps to the original error, so errors.Is(err, syscall.EPIPE) or
// errors.Is(err, os.ErrDeadlineExceeded) keep working.
type TransportError struct {
	Err error
	Op  string
}

func (e *TransportError) Error() string {
	return "watchwire: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError is returned when a command envelope is malformed or a
// registered validator rejects its arguments.
type ValidationError struct {
	Command string
	Msg     string
}

func (e *ValidationError) Error() string {
	if e.Command == "" {
		return e.Msg
	}

	return e.Command + ": " + e.Msg
}

// Unwrap returns [ErrValidation].
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validation returns a [*ValidationError] with a formatted message. It is meant
// for use inside command validators.
func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

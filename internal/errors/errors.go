package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindProtocol     Kind = "PROTOCOL_VIOLATION"
	KindChecksum     Kind = "CHECKSUM_MISMATCH"
	KindBackingStore Kind = "BACKING_STORE"
	KindDecode       Kind = "DECODE"
	KindNotFound     Kind = "NOT_FOUND"
)

// Error is the typed error every core operation returns. Kind drives the
// caller's decision (abort vs report); Err carries the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by Kind so errors.Is(err, ErrProtocol) style checks work
// against the kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is checks.
var (
	ErrProtocol     = &Error{Kind: KindProtocol}
	ErrChecksum     = &Error{Kind: KindChecksum}
	ErrBackingStore = &Error{Kind: KindBackingStore}
	ErrDecode       = &Error{Kind: KindDecode}
	ErrNotFound     = &Error{Kind: KindNotFound}
)

func Protocol(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

func Checksum(format string, args ...any) *Error {
	return &Error{Kind: KindChecksum, Message: fmt.Sprintf(format, args...)}
}

func Decode(format string, args ...any) *Error {
	return &Error{Kind: KindDecode, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// BackingStore wraps a storage-layer failure; the driver's only correct
// response is aborting the whole session.
func BackingStore(message string, err error) *Error {
	return &Error{Kind: KindBackingStore, Message: message, Err: err}
}

// IsKind reports whether err (or anything it wraps) is a core error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

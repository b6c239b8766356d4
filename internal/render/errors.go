package render

import (
	"errors"
	"fmt"
)

// ErrorKind classifies decode failures.
type ErrorKind string

const (
	ErrCorrupt     ErrorKind = "corrupt"
	ErrUnsupported ErrorKind = "unsupported"
	ErrTimeout     ErrorKind = "timeout"
	ErrCancelled   ErrorKind = "cancelled"
	ErrOutOfMemory ErrorKind = "out_of_memory"
)

// DecodeError is the failure surfaced to a requester when a page could not
// be rendered. Codec-level errors pass through unchanged as the wrapped
// cause.
type DecodeError struct {
	Kind ErrorKind
	Key  Key
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Key, e.Kind)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError wraps cause with a kind and the key it failed for.
func NewDecodeError(kind ErrorKind, key Key, cause error) *DecodeError {
	return &DecodeError{Kind: kind, Key: key, Err: cause}
}

// KindOf returns the decode error kind, or "" for non-decode errors.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsTimeout reports whether err is a decode timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrTimeout
}

// IsCancelled reports whether err is a cancelled decode.
func IsCancelled(err error) bool {
	return KindOf(err) == ErrCancelled
}

// IsOutOfMemory reports whether err is a failed buffer allocation.
func IsOutOfMemory(err error) bool {
	return KindOf(err) == ErrOutOfMemory
}

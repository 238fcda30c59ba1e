package mylist

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidReference marks a playlist reference with no mylist id.
	ErrInvalidReference = errors.New("invalid playlist reference")
	// ErrNoItems marks an upstream that answered with an empty list.
	ErrNoItems = errors.New("playlist has no items")
	// ErrUnknownSink marks a sink name with no registered implementation.
	ErrUnknownSink = errors.New("unknown sink")
	// ErrNotFound marks a missing stored entry.
	ErrNotFound = errors.New("not found")
)

// ResolutionError is returned when no item list could be obtained for a
// playlist. It is fatal for the import.
type ResolutionError struct {
	Ref    string
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve playlist %q: %s", e.Ref, e.Reason)
	}
	return fmt.Sprintf("resolve playlist %q: %s: %v", e.Ref, e.Reason, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// SinkError is returned when the output stage fails. The records produced
// before the failure are still valid.
type SinkError struct {
	Sink string
	Op   string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s %s: %v", e.Sink, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Package cacheerr defines the error kinds shared by references, containers
// and the overflow pipeline.
package cacheerr

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrReferenceState reports a mutation the reference kind cannot support,
	// e.g. relocating an unkeyed reference into a keyed store.
	ErrReferenceState = errors.New("refcache: invalid reference state")

	// ErrPersistence reports a serialization or secondary-store I/O failure.
	ErrPersistence = errors.New("refcache: persistence failure")

	// ErrConfiguration reports invalid policy parameters.
	ErrConfiguration = errors.New("refcache: invalid configuration")
)

// Error carries the failed operation and its cause under one of the kinds above.
type Error struct {
	Kind error  // one of the Err* sentinels
	Op   string // e.g. "ref.Set", "relocate.Action"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// State returns an ErrReferenceState error for op.
func State(op string, err error) error { return &Error{Kind: ErrReferenceState, Op: op, Err: err} }

// Persistence returns an ErrPersistence error for op.
func Persistence(op string, err error) error { return &Error{Kind: ErrPersistence, Op: op, Err: err} }

// Config returns an ErrConfiguration error for op with a formatted reason.
func Config(op, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

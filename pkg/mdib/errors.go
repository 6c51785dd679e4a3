package mdib

import (
	"errors"
	"strings"
)

// ErrStructural indicates an operation that would break the tree or
// cardinality invariants: unknown parent, duplicate handle, state for a
// missing descriptor, update of an unknown handle.
var ErrStructural = errors.New("structural error")

// ErrAPIUsage indicates the API was called in a state that does not allow it
// (nested transaction, double initialization, use after close).
var ErrAPIUsage = errors.New("api usage error")

// ErrNotFound indicates a lookup by handle found nothing.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict indicates an incoming container version that cannot be
// applied: stale, or equal with diverging content.
var ErrVersionConflict = errors.New("version conflict")

// ErrClosed indicates the MDIB was closed.
var ErrClosed = errors.New("mdib closed")

// Error attaches the offending handle to an MDIB failure:
//
//	structural error: parent not found (handle=vmd0 parent=mds9)
//
// Use [errors.As] to get the handle and [errors.Is] for the sentinels.
type Error struct {
	// Handle of the descriptor or state the operation was about.
	Handle string

	// Parent is set for failures about the parent link.
	Parent string

	// Err is the underlying cause.
	Err error
}

// Error formats as "<cause> (handle=X parent=Y)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var parts []string

	if e.Handle != "" {
		parts = append(parts, "handle="+e.Handle)
	}

	if e.Parent != "" {
		parts = append(parts, "parent="+e.Parent)
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	if len(parts) == 0 {
		return cause
	}

	if cause == "" {
		return "(" + strings.Join(parts, " ") + ")"
	}

	return cause + " (" + strings.Join(parts, " ") + ")"
}

// Unwrap returns the underlying error for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// WithHandle attaches handle context at API boundaries and returns *Error.
// If err already is an *Error, a missing handle is filled in place.
func WithHandle(err error, handle string) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	if errors.As(err, &existing) {
		if existing.Handle == "" {
			existing.Handle = handle
		}

		return existing
	}

	return &Error{Handle: handle, Err: err}
}

package multikey

import (
	"errors"
	"strings"
)

// ErrDuplicateKey indicates an insert or update would put a second object
// under a key of a unique index.
var ErrDuplicateKey = errors.New("duplicate key in unique index")

// ErrNotFound indicates a GetOne lookup found no object.
var ErrNotFound = errors.New("not found")

// ErrAmbiguous indicates a GetOne lookup found more than one object.
var ErrAmbiguous = errors.New("ambiguous key")

// ErrUnknownObject indicates Remove or Update on an object that is not stored.
var ErrUnknownObject = errors.New("object not in store")

// ErrAlreadyPresent indicates Add of an object that is already stored.
var ErrAlreadyPresent = errors.New("object already in store")

// Error attaches the index name and key to a store failure:
//
//	duplicate key in unique index (index=handle key=mds0)
type Error struct {
	Index string
	Key   string
	Err   error
}

// Error formats as "<cause> (index=X key=Y)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var parts []string

	if e.Index != "" {
		parts = append(parts, "index="+e.Index)
	}

	if e.Key != "" {
		parts = append(parts, "key="+e.Key)
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	if len(parts) == 0 {
		return cause
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

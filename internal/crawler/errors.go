package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a page or record that does not exist. Fetchers return it
	// for 404/410 responses; it is never retried.
	ErrNotFound = errors.New("not found")
	// ErrInvalidURL is returned when a URL cannot be normalized.
	ErrInvalidURL = errors.New("invalid url")
	// ErrInvalidKind is returned when a URL is queued under an unknown kind.
	ErrInvalidKind = errors.New("invalid url kind")
)

// PermanentError wraps a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// PersistenceError wraps a storage failure raised while handling one item.
// The run counts it against that item and moves on.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

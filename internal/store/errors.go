package store

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrNotFound is returned when a record addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// MaxErrorMessageLen caps the error text kept on a failed run.
const MaxErrorMessageLen = 2000

// PersistenceError wraps a backend failure with the operation that caused it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, and err unchanged when it is ErrNotFound.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// TruncateError returns err's message capped at MaxErrorMessageLen bytes.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	cut := MaxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

package record

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("record orchestrator closed")
	ErrExists   = errors.New("record already exists")
)

// ConcurrencyError is returned when a write's expected version no longer
// matches the version held by the remote store, i.e. someone else edited
// the record in the meantime.
type ConcurrencyError struct {
	Key      string
	Expected time.Time
	Current  time.Time
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("record %s was modified concurrently (expected version %s, found %s)",
		e.Key, formatVersion(e.Expected), formatVersion(e.Current))
}

// TransientIOError wraps a cache or network failure. The operation can be
// retried; in-memory state is never rolled back because of it.
type TransientIOError struct {
	Op  string
	Key string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// MalformedPatchError reports a patch path that cannot be applied. It is a
// programming error in the caller.
type MalformedPatchError struct {
	Path   string
	Reason string
}

func (e *MalformedPatchError) Error() string {
	return fmt.Sprintf("malformed patch path %q: %s", e.Path, e.Reason)
}

// IsConflict reports whether err is (or wraps) a ConcurrencyError.
func IsConflict(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}

// IsMalformed reports whether err is (or wraps) a MalformedPatchError.
func IsMalformed(err error) bool {
	var me *MalformedPatchError
	return errors.As(err, &me)
}

// Transient wraps err as a TransientIOError unless it already carries a
// more specific classification.
func Transient(op, key string, err error) error {
	if err == nil || IsConflict(err) || errors.Is(err, ErrNotFound) {
		return err
	}
	var te *TransientIOError
	if errors.As(err, &te) {
		return err
	}
	return &TransientIOError{Op: op, Key: key, Err: err}
}

func formatVersion(t time.Time) string {
	if t.IsZero() {
		return "<none>"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

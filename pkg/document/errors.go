package document

import (
	"errors"
	"fmt"
)

// ErrDuplicateID is returned by CreateWithID when the id is already taken.
var ErrDuplicateID = errors.New("duplicate document id")

// StorageError reports a backend failure of a Store operation.
type StorageError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StorageError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("document store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("document store %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err, or returns nil when err is nil.
func NewStorageError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Collection: collection, Err: err}
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

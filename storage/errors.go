package storage

import (
	"errors"
	"fmt"
)

// StorageError is returned when a directory or file operation of the disk store fails
type StorageError struct {
	Op   string
	Path string
	err  error
}

// NewStorageError creates a StorageError
func NewStorageError(op string, path string, err error) *StorageError {
	return &StorageError{
		Op:   op,
		Path: path,
		err:  err,
	}
}

// Error returns error message
func (err *StorageError) Error() string {
	return fmt.Sprintf("storage error: failed to %s %q: %v", err.Op, err.Path, err.err)
}

// Unwrap returns the wrapped error
func (err *StorageError) Unwrap() error {
	return err.err
}

// IsStorageError checks if the given error is a StorageError
func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}

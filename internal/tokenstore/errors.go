package tokenstore

import (
	"errors"
	"fmt"
)

var (
	// ErrReadOnly is wrapped by write errors of read-only backends.
	ErrReadOnly = errors.New("storage is read-only")

	// ErrInsecurePermissions is wrapped by read errors of files readable by others.
	ErrInsecurePermissions = errors.New("insecure permissions")
)

// StorageReadError reports a failed read for a reason other than the store
// not existing yet.
type StorageReadError struct {
	Backend string
	Err     error
}

func (e *StorageReadError) Error() string {
	return fmt.Sprintf("%s storage: read failed: %v", e.Backend, e.Err)
}

func (e *StorageReadError) Unwrap() error { return e.Err }

// StorageWriteError reports a failed persist step. The set the caller tried
// to write is lost; nothing is retried.
type StorageWriteError struct {
	Backend string
	Err     error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("%s storage: write failed: %v", e.Backend, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

func readError(backend string, err error) error {
	var re *StorageReadError
	if errors.As(err, &re) {
		return err
	}
	return &StorageReadError{Backend: backend, Err: err}
}

func writeError(backend string, err error) error {
	var we *StorageWriteError
	if errors.As(err, &we) {
		return err
	}
	return &StorageWriteError{Backend: backend, Err: err}
}

package gpkg

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFileNotFound is returned when the data source path does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidLayer is returned when the file exists but is not a readable
	// GeoPackage, or does not contain the requested layer.
	ErrInvalidLayer = errors.New("invalid or corrupt data source")

	ErrNotEditing     = errors.New("layer is not in an edit session")
	ErrAlreadyEditing = errors.New("layer is already in an edit session")
	ErrFieldExists    = errors.New("field already exists")
	ErrRuntimeClosed  = errors.New("runtime is closed")
)

// LoadError reports why a data source or layer could not be opened.
// Kind is ErrFileNotFound or ErrInvalidLayer; Cause is the underlying
// driver error, if any.
type LoadError struct {
	Path  string
	Kind  error
	Cause error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("load %s: %v: %v", e.Path, e.Kind, e.Cause)
	}
	return fmt.Sprintf("load %s: %v", e.Path, e.Kind)
}

func (e *LoadError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// CommitError is returned by CommitChanges when the storage layer rejected
// the transaction. Nothing from the session was persisted.
type CommitError struct {
	Layer string
	errs  []error
}

func (e *CommitError) Error() string {
	msgs := make([]string, len(e.errs))
	for i, err := range e.errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("commit %s: %s", e.Layer, strings.Join(msgs, "; "))
}

// Errors returns every error reported while committing.
func (e *CommitError) Errors() []error {
	return e.errs
}

func (e *CommitError) Unwrap() []error {
	return e.errs
}

// Package loaderr defines the error kinds returned while staging, merging and
// sniffing uploaded data files. An upload that is still waiting on chunks is
// not an error and is never reported through this package.
package loaderr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	// IOFailure is a read, write, rename or delete failure. It is fatal for the
	// current operation and is not retried.
	IOFailure Kind = iota + 1

	// NotFound means an expected file or directory is missing.
	NotFound

	// InconsistentState means the source chunks are gone and the merged file
	// could not be put in place. The upload bytes are unrecoverable.
	InconsistentState

	// InvalidInput covers bad upload keys, chunk indexes and delimiters.
	InvalidInput
)

func (k Kind) String() string {
	switch k {
	case IOFailure:
		return "io failure"
	case NotFound:
		return "not found"
	case InconsistentState:
		return "inconsistent state"
	case InvalidInput:
		return "invalid input"
	default:
		return "unknown"
	}
}

// Error carries enough context (upload key, path and step) for a caller to
// log and alert on.
type Error struct {
	Kind      Kind
	Op        string
	UploadKey string
	Path      string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())

	if e.UploadKey != "" {
		fmt.Fprintf(&b, " (upload %s)", e.UploadKey)
	}

	if e.Path != "" {
		fmt.Fprintf(&b, " '%s'", e.Path)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, uploadKey, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, UploadKey: uploadKey, Path: path, Err: err}
}

func IO(op, uploadKey, path string, err error) *Error {
	return New(IOFailure, op, uploadKey, path, err)
}

func Missing(op, uploadKey, path string) *Error {
	return New(NotFound, op, uploadKey, path, nil)
}

func Invalid(op, uploadKey string, format string, args ...interface{}) *Error {
	return New(InvalidInput, op, uploadKey, "", fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or 0 if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

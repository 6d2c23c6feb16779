// Package audioerr contains the error taxonomy shared by the decoding
// engine. Every error which leaves a source actor is classified into one
// of the kinds below before it is reported to the playback coordinator.
package audioerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies an error.
type ErrorKind int

const (
	// Unclassified errors have no specific kind.
	Unclassified ErrorKind = iota
	// FileAccess is raised when a file is missing or unreadable. It is
	// surfaced and never retried.
	FileAccess
	// UnsupportedFormat is raised when no codec matches a file.
	UnsupportedFormat
	// CorruptStream is raised when the invalid frame budget of a decoder
	// has been exceeded. It is fatal to the source.
	CorruptStream
	// Allocation is raised when the native heap could not satisfy a
	// request.
	Allocation
	// ProgrammerInvariant is raised when an API contract is violated,
	// e.g. a double destroy or decoding before start.
	ProgrammerInvariant
)

var kindNames = map[ErrorKind]string{
	Unclassified:        "Error",
	FileAccess:          "FileAccessError",
	UnsupportedFormat:   "UnsupportedFormatError",
	CorruptStream:       "CorruptStreamError",
	Allocation:          "AllocationError",
	ProgrammerInvariant: "ProgrammerInvariantError",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a classified error. The wrapped cause carries the stack trace.
type Error struct {
	kind  ErrorKind
	cause error
}

func (e *Error) Error() string {
	return e.cause.Error()
}

// Kind returns the classification of the error.
func (e *Error) Kind() ErrorKind {
	return e.kind
}

// Unwrap gives access to the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Cause implements the github.com/pkg/errors causer interface.
func (e *Error) Cause() error {
	return e.cause
}

// Format renders the stack trace of the cause with %+v.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s: %+v", e.kind, e.cause)
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

func newf(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{kind: kind, cause: errors.Errorf(format, args...)}
}

func wrapf(kind ErrorKind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, cause: errors.Wrapf(err, format, args...)}
}

// FileAccessf returns a new FileAccessError.
func FileAccessf(format string, args ...interface{}) error {
	return newf(FileAccess, format, args...)
}

// WrapFileAccess classifies err as FileAccessError.
func WrapFileAccess(err error, format string, args ...interface{}) error {
	return wrapf(FileAccess, err, format, args...)
}

// UnsupportedFormatf returns a new UnsupportedFormatError.
func UnsupportedFormatf(format string, args ...interface{}) error {
	return newf(UnsupportedFormat, format, args...)
}

// CorruptStreamf returns a new CorruptStreamError.
func CorruptStreamf(format string, args ...interface{}) error {
	return newf(CorruptStream, format, args...)
}

// Allocationf returns a new AllocationError.
func Allocationf(format string, args ...interface{}) error {
	return newf(Allocation, format, args...)
}

// Invariantf returns a new ProgrammerInvariantError.
func Invariantf(format string, args ...interface{}) error {
	return newf(ProgrammerInvariant, format, args...)
}

// Kind returns the classification of err. Wrapped errors are unwrapped
// until a classified error is found.
func Kind(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind
	}
	return Unclassified
}

// Is reports whether err is classified as kind.
func Is(err error, kind ErrorKind) bool {
	return err != nil && Kind(err) == kind
}

// Report is the payload of an outbound _error message.
type Report struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Name    string `json:"name"`
}

// ToReport converts err into the payload of an outbound _error message.
func ToReport(err error) Report {
	return Report{
		Message: err.Error(),
		Stack:   fmt.Sprintf("%+v", err),
		Name:    Kind(err).String(),
	}
}

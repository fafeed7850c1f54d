package vfs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents the category of a VFS error.
//
// Callers branch on the code (usually through errors.Is against the
// exported Err* values) instead of parsing messages.
type ErrorCode int

const (
	// ErrCodeNotFound indicates the requested id or name is not known.
	// Missing children are NOT reported with this code: a failed child
	// lookup returns a nil handle and no error.
	ErrCodeNotFound ErrorCode = iota + 1

	// ErrCodeDeadFile indicates access to an id whose slot was invalidated
	// and reclaimed. Continuing to operate on dead data risks corrupting
	// the tree, so this is always surfaced.
	ErrCodeDeadFile

	// ErrCodeInvalidHandle indicates an operation on a handle whose file
	// has been deleted. Wraps an ErrCodeDeadFile error when the slot was
	// already reclaimed.
	ErrCodeInvalidHandle

	// ErrCodeAlreadyInitialized indicates a duplicate materialization of
	// the same id. This is a consistency bug in the caller.
	ErrCodeAlreadyInitialized

	// ErrCodeInvalidName indicates the driver rejected a name before any
	// mutation was attempted.
	ErrCodeInvalidName

	// ErrCodeInconsistentChildren indicates a broken children invariant
	// detected by strict checks.
	ErrCodeInconsistentChildren

	// ErrCodeNotDirectory indicates a directory operation on a file.
	ErrCodeNotDirectory

	// ErrCodeAlreadyExists indicates a name collision on create, rename
	// or move.
	ErrCodeAlreadyExists

	// ErrCodeInvalidArgument indicates malformed input (empty names,
	// moving a root, cross-mount moves).
	ErrCodeInvalidArgument

	// ErrCodeIO indicates a failure in the peer or the driver.
	ErrCodeIO
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNotFound:
		return "not found"
	case ErrCodeDeadFile:
		return "dead file"
	case ErrCodeInvalidHandle:
		return "invalid handle"
	case ErrCodeAlreadyInitialized:
		return "already initialized"
	case ErrCodeInvalidName:
		return "invalid name"
	case ErrCodeInconsistentChildren:
		return "inconsistent children"
	case ErrCodeNotDirectory:
		return "not a directory"
	case ErrCodeAlreadyExists:
		return "already exists"
	case ErrCodeInvalidArgument:
		return "invalid argument"
	case ErrCodeIO:
		return "i/o error"
	default:
		return fmt.Sprintf("error code %d", int(c))
	}
}

// Error is the error type returned by every VFS operation.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// ID is the file id the error relates to (InvalidID when not applicable)
	ID FileID

	// Path is the path of the file, when it could be computed
	Path string

	// Reason is the invalidation reason chain for dead files
	Reason string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.ID.Valid() {
		fmt.Fprintf(&b, " (id=%d)", e.ID)
	}
	if e.Path != "" {
		b.WriteString(" path=")
		b.WriteString(e.Path)
	}
	if e.Reason != "" {
		b.WriteString(" reason=")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same code. A target with
// no code never matches.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Code == 0 {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is. Only the Code field is compared.
var (
	ErrNotFound             = &Error{Code: ErrCodeNotFound}
	ErrDeadFile             = &Error{Code: ErrCodeDeadFile}
	ErrInvalidHandle        = &Error{Code: ErrCodeInvalidHandle}
	ErrAlreadyInitialized   = &Error{Code: ErrCodeAlreadyInitialized}
	ErrInvalidName          = &Error{Code: ErrCodeInvalidName}
	ErrInconsistentChildren = &Error{Code: ErrCodeInconsistentChildren}
	ErrNotDirectory         = &Error{Code: ErrCodeNotDirectory}
	ErrAlreadyExists        = &Error{Code: ErrCodeAlreadyExists}
	ErrInvalidArgument      = &Error{Code: ErrCodeInvalidArgument}
	ErrIO                   = &Error{Code: ErrCodeIO}
)

// CodeOf returns the ErrorCode carried by err, or 0 if err is not a VFS error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func newError(code ErrorCode, id FileID, format string, args ...any) *Error {
	return &Error{Code: code, ID: id, Message: fmt.Sprintf(format, args...)}
}

func deadFileError(id FileID, reason string) *Error {
	return &Error{
		Code:    ErrCodeDeadFile,
		ID:      id,
		Message: "file was deleted and its slot reclaimed",
		Reason:  reason,
	}
}

func invalidHandleError(id FileID, reason string, cause error) *Error {
	return &Error{
		Code:    ErrCodeInvalidHandle,
		ID:      id,
		Message: "handle refers to a deleted file",
		Reason:  reason,
		Err:     cause,
	}
}

// ioError wraps a peer or driver failure. VFS errors pass through unchanged.
func ioError(id FileID, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: ErrCodeIO, ID: id, Message: op, Err: err}
}

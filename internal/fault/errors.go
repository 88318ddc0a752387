// Package fault defines the error taxonomy shared by the cabinet packages.
//
// Every failure that crosses a package boundary is either a plain wrapped
// error or an *Error carrying one of five codes. Callers branch on the code
// with the Is* helpers, which use errors.As and therefore see through
// fmt.Errorf("...: %w") wrapping.
package fault

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Code categorizes a failure.
type Code string

const (
	// CodePolicyRejected means an operation exceeded a configured safety
	// threshold. Not retried automatically.
	CodePolicyRejected Code = "POLICY_REJECTED"

	// CodeNotFound means a digest or path is absent. No side effects occurred.
	CodeNotFound Code = "NOT_FOUND"

	// CodeIntegrity means a post-write digest verification failed.
	CodeIntegrity Code = "INTEGRITY"

	// CodeTransientIO covers permission errors and files that vanish or
	// change mid-operation.
	CodeTransientIO Code = "TRANSIENT_IO"

	// CodeStoreUnavailable means the backing database cannot be used.
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// Error is a classified failure.
type Error struct {
	Code Code

	// Op names the operation that failed, e.g. "checkin".
	Op string

	// Path and Digest identify the subject when known.
	Path   string
	Digest string

	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	switch {
	case e.Path != "" && e.Digest != "":
		fmt.Fprintf(&b, " (path=%s, digest=%s)", e.Path, e.Digest)
	case e.Path != "":
		fmt.Fprintf(&b, " (path=%s)", e.Path)
	case e.Digest != "":
		fmt.Fprintf(&b, " (digest=%s)", e.Digest)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without an underlying cause.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap classifies err under code. Wrap(code, op, nil) returns nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// WithPath returns a copy of e with Path set.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// WithDigest returns a copy of e with Digest set.
func (e *Error) WithDigest(digest string) *Error {
	c := *e
	c.Digest = digest
	return &c
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" if
// err is unclassified.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsPolicyRejected returns true if err is a policy rejection.
func IsPolicyRejected(err error) bool { return Is(err, CodePolicyRejected) }

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool { return Is(err, CodeNotFound) }

// IsIntegrity returns true if err is an integrity error.
func IsIntegrity(err error) bool { return Is(err, CodeIntegrity) }

// IsTransientIO returns true if err is a transient I/O error.
func IsTransientIO(err error) bool { return Is(err, CodeTransientIO) }

// IsStoreUnavailable returns true if err means the store cannot be used.
func IsStoreUnavailable(err error) bool { return Is(err, CodeStoreUnavailable) }

// FromFS classifies a filesystem error. Missing paths become NotFound,
// everything else (permissions, EIO, stale handles) is TransientIO.
// Already classified errors are returned unchanged.
func FromFS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	code := CodeTransientIO
	if errors.Is(err, fs.ErrNotExist) {
		code = CodeNotFound
	}
	return &Error{Code: code, Op: op, Path: path, Err: err}
}

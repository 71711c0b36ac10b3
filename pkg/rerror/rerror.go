// Package rerror defines the typed error taxonomy used throughout
// reposieve. It is the idiomatic-errors successor to the teacher's
// panic(throw(...))/catch(...) convention (surgeon/reposurgeon.go), kept
// as ordinary returned errors instead of panics since the core is a
// library, not an interactive command interpreter.
package rerror

import (
	"errors"
	"fmt"
)

// Kind classifies an Error per spec.md section 7's error taxonomy.
type Kind string

const (
	// Config marks an inconsistent rule set or malformed rule file,
	// fatal at startup.
	Config Kind = "config"
	// Parse marks a malformed fast-export stream.
	Parse Kind = "parse"
	// Transform marks a regex compile failure or rule evaluation error.
	Transform Kind = "transform"
	// PathCompat marks a path that violates the compat policy when the
	// policy is "error".
	PathCompat Kind = "path-compat"
	// ChildProcess marks an export/import child that exited non-zero,
	// was signaled, or produced unexpected output.
	ChildProcess Kind = "child-process"
	// Finalize marks a failed ref-update transaction or map file write.
	Finalize Kind = "finalize"
	// Sanity marks a blocked run reported by an external preflight
	// collaborator.
	Sanity Kind = "sanity"
)

// Error is the single error type every reposieve component returns.
type Error struct {
	Kind   Kind
	Detail string
	Input  string // offending input, truncated by the caller before storing
	Err    error  // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("%s: %s (input: %s)", e.Kind, e.Detail, e.Input)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers
// can do errors.Is(err, rerror.New(rerror.Parse, "")) style checks, or
// more idiomatically compare with errors.As and inspect Kind directly.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// WithInput attaches (possibly truncating) the offending input to an
// error for user-visible remediation messages.
func (e *Error) WithInput(input string) *Error {
	const maxLen = 200
	if len(input) > maxLen {
		input = input[:maxLen] + "...(truncated)"
	}
	e.Input = input
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

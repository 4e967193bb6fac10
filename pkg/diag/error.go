// Package diag defines the error taxonomy shared by the concurrency core:
// scheduling invariant violations, per-thread state bugs, chdir failures,
// buffer overflows, fork/setpgid failures and signalled background jobs.
package diag

import "fmt"

// Kind classifies an Error into one of the categories of the error
// handling design.
type Kind string

// The error kinds recognized by the concurrency core. SchedulingInvariant
// and PerThreadStateAbsent are never returned as an error value: code that
// detects them calls Fatal, which panics.
const (
	SchedulingInvariant  Kind = "scheduling-invariant-violation"
	PerThreadStateAbsent Kind = "per-thread-state-absent"
	Chdir                Kind = "chdir-failure"
	BufferOverflow       Kind = "buffer-overflow"
	ForkOrSetpgid        Kind = "fork-or-setpgid-failure"
	JobSignalled         Kind = "job-signalled"
	Config               Kind = "config-error"
)

// Error is a classified error with an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping cause. If message is
// empty, cause's own message is used.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
		}
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// Fatal reports a scheduling-invariant violation or per-thread-state bug.
// These are implementer bugs, not user-facing errors, so they panic rather
// than return: spec.md §7 calls them "fatal, aborts".
func Fatal(kind Kind, message string) {
	panic(New(kind, message))
}

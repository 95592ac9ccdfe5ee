// Package status defines the error categories shared by the object codec,
// the stores, the remote adapters and the synchronization engine.
//
// Errors are categorized with go-errcat. Callers add context with
// fmt.Errorf("...: %w", err); Of recovers the category through any number of
// wrapping layers.
package status

import (
	"context"
	"errors"

	"github.com/warpfork/go-errcat"
)

type Code string

const (
	MalformedObject   Code = "MALFORMED_OBJECT"    // bytes that do not decode to a valid object
	NotFound          Code = "NOT_FOUND"           // missing object, ref or remote
	Conflict          Code = "CONFLICT"            // CAS mismatch or non-fast-forward
	HistoryTooShallow Code = "HISTORY_TOO_SHALLOW" // truncated history cannot satisfy the target
	ConnectionError   Code = "CONNECTION_ERROR"    // remote unreachable or transport broke
	NoHead            Code = "NO_HEAD"
	DetachedHead      Code = "DETACHED_HEAD"
	UnknownRef        Code = "UNKNOWN_REF"
	NothingToPush     Code = "NOTHING_TO_PUSH"
	Aborted           Code = "ABORTED" // transaction discarded before commit
	InvalidArgument   Code = "INVALID_ARGUMENT"
	Internal          Code = "INTERNAL"
)

// Errorf returns an error of the given category. The format is rendered
// with fmt.Sprintf, so %w is not supported; use %v for causes.
func Errorf(code Code, format string, args ...any) error {
	return errcat.Errorf(code, format, args...)
}

// WithDetails returns an error of the given category carrying key/value
// details, e.g. the ref name or the conflicting object id.
func WithDetails(code Code, msg string, details map[string]string) error {
	return errcat.ErrorDetailed(code, msg, details)
}

// Of returns the category of err. Errors without a category map to
// Internal, context cancellation maps to Aborted and deadlines to
// ConnectionError. A nil error has the empty code.
func Of(err error) Code {
	if err == nil {
		return ""
	}
	var ce errcat.Error
	if errors.As(err, &ce) {
		if code, ok := ce.Category().(Code); ok {
			return code
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Aborted
	case errors.Is(err, context.DeadlineExceeded):
		return ConnectionError
	}
	return Internal
}

func Is(err error, code Code) bool {
	return err != nil && Of(err) == code
}

// Details returns the details attached with WithDetails, or nil.
func Details(err error) map[string]string {
	var ce errcat.Error
	if errors.As(err, &ce) {
		return ce.Details()
	}
	return nil
}

// Message returns the categorized error's own message without any wrapping
// context, or err.Error() for uncategorized errors.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ce errcat.Error
	if errors.As(err, &ce) {
		return ce.Message()
	}
	return err.Error()
}

// ExitCode maps a category to the process exit code used by the CLI.
func (c Code) ExitCode() int {
	switch c {
	case "":
		return 0
	case InvalidArgument, UnknownRef, NoHead, DetachedHead:
		return 1
	case ConnectionError:
		return 3
	case NotFound:
		return 4
	case Conflict:
		return 5
	case HistoryTooShallow:
		return 6
	case MalformedObject:
		return 7
	case Aborted:
		return 8
	case NothingToPush:
		return 0
	}
	return 254
}

// Valid reports whether c is one of the known categories.
func (c Code) Valid() bool {
	switch c {
	case MalformedObject, NotFound, Conflict, HistoryTooShallow, ConnectionError,
		NoHead, DetachedHead, UnknownRef, NothingToPush, Aborted, InvalidArgument, Internal:
		return true
	}
	return false
}

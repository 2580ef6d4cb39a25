// Package errs implements the error taxonomy and exit-code mapping shared by
// every component of the attachment-routing and multi-tool execution
// pipeline. Every user-visible error in the system is constructed as, or
// wrapped into, an *Error so that callers at the CLI boundary can recover a
// stable exit code and a structured diagnostic context without inspecting
// error strings.
package errs

import (
	"errors"
	"fmt"
	"sort"
)

// Kind enumerates the error taxonomy of the system. Each Kind maps to exactly
// one exit code; see ExitCode.
type Kind string

const (
	KindPathDenied        Kind = "PATH_DENIED"
	KindTraversal         Kind = "TRAVERSAL"
	KindNotFound          Kind = "NOT_FOUND"
	KindSchemaInvalid     Kind = "SCHEMA_INVALID"
	KindVarDup            Kind = "VAR_DUP"
	KindAliasDup          Kind = "ALIAS_DUP"
	KindUsageError        Kind = "USAGE_ERROR"
	KindCollectLineFailed Kind = "COLLECT_LINE_FAILED"
	KindPromptTooLarge    Kind = "PROMPT_TOO_LARGE"
	KindUploadFailed      Kind = "UPLOAD_FAILED"
	KindContainerExpired  Kind = "CONTAINER_EXPIRED"
	KindDownloadFailed    Kind = "DOWNLOAD_FAILED"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindVectorStoreFailed Kind = "VECTOR_STORE_FAILED"
	KindPolicyViolation   Kind = "POLICY_VIOLATION"
	KindParamInvalid      Kind = "PARAM_INVALID"
	KindAPIError          Kind = "API_ERROR"
	KindOperationTimeout  Kind = "OPERATION_TIMEOUT"
	KindInternal          Kind = "INTERNAL_ERROR"
)

// ExitCode returns the process exit code for this Kind. Unknown kinds map to 1 (internal error) defensively.
func (k Kind) ExitCode() int {
	switch k {
	case KindPathDenied, KindTraversal, KindNotFound, KindSchemaInvalid, KindPromptTooLarge:
		return 3
	case KindVarDup, KindAliasDup, KindUsageError, KindCollectLineFailed, KindPolicyViolation:
		return 2
	case KindUploadFailed, KindContainerExpired, KindDownloadFailed, KindRateLimited,
		KindVectorStoreFailed, KindAPIError:
		return 4
	case KindOperationTimeout:
		return 5
	case KindInternal:
		return 1
	default:
		return 1
	}
}

// Error is the structured error type produced by every component. It carries
// a Kind (for exit-code + taxonomy classification), a human-readable message,
// a structured Context for diagnosis, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

// New constructs an *Error of the given kind with no context.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// With attaches a context key/value pair and returns the receiver for
// chaining, e.g. errs.New(...).With("path", p).With("base", base).
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, 4)
	}
	e.Context[key] = value
	return e
}

// WithMap merges a context map into the error.
func (e *Error) WithMap(ctx map[string]any) *Error {
	if len(ctx) == 0 {
		return e
	}
	if e.Context == nil {
		e.Context = make(map[string]any, len(ctx))
	}
	for k, v := range ctx {
		e.Context[k] = v
	}
	return e
}

// Error implements the error interface. The message is sanitised of
// credential-looking substrings before being surfaced; messages are
// sanitised of credentials regardless of origin.
func (e *Error) Error() string {
	msg := Sanitize(e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", msg, Sanitize(e.Cause.Error()))
	}
	return msg
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// ExitCode returns the process exit code for this error's Kind.
func (e *Error) ExitCode() int { return e.Kind.ExitCode() }

// ContextLines renders the structured context as sorted "key: value" lines,
// for display alongside the error message.
func (e *Error) ContextLines() []string {
	if len(e.Context) == 0 {
		return nil
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, Sanitize(fmt.Sprint(e.Context[k]))))
	}
	return lines
}

// As returns the first *Error in err's chain and true; when kind is
// non-empty, an *Error of a different kind yields (nil, false).
func As(err error, kind Kind) (*Error, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return nil, false
	}
	if kind != "" && e.Kind != kind {
		return nil, false
	}
	return e, true
}

// ExitCodeOf extracts the exit code from err, defaulting to 1 (internal
// error) for errors that are not *Error.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode()
	}
	return 1
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

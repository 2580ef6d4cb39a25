package errs

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Mapper normalises vendor and transport errors into the error taxonomy.
// It is deliberately small: callers pass the raw error
// returned by an HTTP client or SDK call plus the HTTP status code (when
// known), and get back an *Error carrying a remediation hint.
type Mapper struct{}

// NewMapper constructs a Mapper. It carries no state; a value receiver would
// do, but a constructor keeps call sites consistent with the rest of the
// codebase's "New" convention.
func NewMapper() *Mapper { return &Mapper{} }

// MapHTTP classifies an HTTP-transport error/status pair into the taxonomy,
// attaching remediation hints: rate-limit -> backoff advice, context-length
// -> rerouting suggestion, invalid-api-key -> credential guidance.
func (m *Mapper) MapHTTP(status int, body string, cause error) *Error {
	body = Sanitize(body)
	switch {
	case status == http.StatusTooManyRequests:
		return Wrap(KindRateLimited, cause, "rate limited by remote API").
			With("hint", "retry with exponential backoff; consider lowering concurrency").
			With("status", status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Wrap(KindAPIError, cause, "authentication failed").
			With("hint", "check that the configured API key is valid and has not expired").
			With("status", status)
	case status == http.StatusRequestEntityTooLarge:
		return Wrap(KindAPIError, cause, "request too large for remote API").
			With("hint", "reduce attached content or reroute large files to code-exec/retrieval").
			With("status", status)
	case status >= 400 && status < 500:
		if looksLikeContextLength(body) {
			return Wrap(KindAPIError, cause, "request exceeds model context window").
				With("hint", "reroute oversize files to code-exec (-fc) or retrieval (-fs)").
				With("status", status)
		}
		return Wrap(KindAPIError, cause, "invalid request rejected by remote API").
			With("status", status).With("body", truncate(body, 500))
	case status >= 500:
		return Wrap(KindAPIError, cause, "remote API server error").
			With("status", status).With("hint", "transient; safe to retry with backoff")
	default:
		return Wrap(KindAPIError, cause, "remote API call failed").With("status", status)
	}
}

// MapTransport classifies a non-HTTP transport error (timeouts, DNS
// failures, connection resets, context cancellation) into the taxonomy.
func (m *Mapper) MapTransport(cause error) *Error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return Wrap(KindOperationTimeout, cause, "operation deadline exceeded").
			With("hint", "consider doubling the configured timeout")
	}
	if errors.Is(cause, context.Canceled) {
		return Wrap(KindOperationTimeout, cause, "operation canceled")
	}
	var existing *Error
	if errors.As(cause, &existing) {
		return existing
	}
	return Wrap(KindAPIError, cause, "transport error communicating with remote API")
}

func looksLikeContextLength(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "context_length") ||
		strings.Contains(lower, "maximum context length") ||
		strings.Contains(lower, "too many tokens")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

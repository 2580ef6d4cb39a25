package errs

import "regexp"

// secretPatterns matches common credential shapes so they can be redacted
// from user-visible error messages and log lines before they reach a
// terminal or log sink.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{16,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|authorization|token)["':=\s]+[A-Za-z0-9._-]{16,}`),
}

// Sanitize redacts any substring in s that looks like an API key or bearer
// token, replacing it with "[REDACTED]". It is applied to every error
// message and context value before display.
func Sanitize(s string) string {
	out := s
	for _, re := range secretPatterns {
		out = re.ReplaceAllString(out, "[REDACTED]")
	}
	return out
}

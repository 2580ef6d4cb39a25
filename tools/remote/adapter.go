// Package remote manages user-configured remote tool endpoints,
// pre-validated for
// security invariants (https-only, approval mode NEVER, payload screening,
// response sanitisation) and rate-limited per endpoint.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/time/rate"

	"github.com/structrun/structrun/errs"
)

// maxPayloadBytes caps request payload size.
const maxPayloadBytes = 10 * 1024

// rateLimitBurst/rateLimitPerSec are the token-bucket parameters guarding every
// endpoint.
const (
	rateLimitBurst  = 10
	rateLimitPerSec = 1
)

// Endpoint describes one remote tool endpoint, parsed from the
// `label@url` CLI syntax (label auto-derived from host when omitted).
type Endpoint struct {
	Label         string
	URL           string
	AllowedTools  []string
	Headers       map[string]string

	// RequestedApprovalMode is the user-configured approval mode, if any
	// (e.g. from an MCP server definition's require_approval field). The
	// adapter always sends ApprovalMode:"NEVER" to the remote LLM (the
	// system is unattended), but a caller who explicitly asked for
	// anything other than "never" is asking for a capability this system
	// does not have; Validate rejects that configuration up front rather
	// than silently overriding it.
	RequestedApprovalMode string
}

// ToolConfig is the opaque descriptor sent to the remote LLM for a remote
// tool endpoint. ApprovalMode is always NEVER.
type ToolConfig struct {
	Kind         string            `json:"kind"`
	URL          string            `json:"url"`
	Label        string            `json:"label"`
	ApprovalMode string            `json:"approvalMode"`
	AllowedTools []string          `json:"allowedToolNames,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// hostileBodyPatterns screens request payloads for known-hostile content:
// path traversal, script tags, JNDI-style injections, SQL DROP, and
// file:// / ftp:// URLs.
var hostileBodyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)\$\{jndi:`),
	regexp.MustCompile(`(?i)\bdrop\s+table\b`),
	regexp.MustCompile(`(?i)file://`),
	regexp.MustCompile(`(?i)ftp://`),
}

// responseSanitizePatterns are recursively stripped from tool responses
// before they reach the model.
var responseSanitizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script.*?</script>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\son\w+\s*=\s*"[^"]*"`),
	regexp.MustCompile(`(?i)\son\w+\s*=\s*'[^']*'`),
}

// ParseEndpoint parses a `label@url` or bare `url` spec into an Endpoint,
// deriving Label from the host when omitted.
func ParseEndpoint(spec string) (Endpoint, error) {
	label, rawURL, hasLabel := strings.Cut(spec, "@")
	if !hasLabel {
		rawURL = label
		label = ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Endpoint{}, errs.Wrap(errs.KindUsageError, err, "invalid remote tool URL %q", rawURL)
	}
	if label == "" {
		label = deriveLabel(u.Host)
	}
	return Endpoint{Label: label, URL: u.String()}, nil
}

func deriveLabel(host string) string {
	host = strings.Split(host, ":")[0]
	host = strings.ReplaceAll(host, ".", "_")
	if host == "" {
		return "remote_tool"
	}
	return host
}

// Validate enforces the endpoint security invariants against ep.
func Validate(ep Endpoint) error {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return errs.Wrap(errs.KindUsageError, err, "invalid remote tool URL %q", ep.URL)
	}
	if u.Scheme != "https" && !isLoopback(u.Hostname()) {
		return errs.New(errs.KindPolicyViolation, "remote tool %q must use https (got %q)", ep.Label, u.Scheme).
			With("endpoint", ep.Label)
	}
	mode := strings.ToLower(strings.TrimSpace(ep.RequestedApprovalMode))
	if mode != "" && mode != "never" {
		return errs.New(errs.KindPolicyViolation, "remote tool %q requests approval mode %q, but unattended runs only support \"never\"", ep.Label, ep.RequestedApprovalMode).
			With("endpoint", ep.Label).With("requestedApprovalMode", ep.RequestedApprovalMode)
	}
	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ScreenPayload rejects payloads over the size cap or matching a
// known-hostile pattern.
func ScreenPayload(payload []byte) error {
	if len(payload) > maxPayloadBytes {
		return errs.New(errs.KindPolicyViolation, "remote tool request payload is %d bytes, exceeding the %d byte cap", len(payload), maxPayloadBytes)
	}
	s := string(payload)
	for _, p := range hostileBodyPatterns {
		if p.MatchString(s) {
			return errs.New(errs.KindPolicyViolation, "remote tool request payload matched a disallowed pattern").With("pattern", p.String())
		}
	}
	return nil
}

// SanitizeResponse strips scripts, javascript: URIs, and inline event
// handlers from a remote tool response before it reaches the model.
func SanitizeResponse(body string) string {
	out := body
	for _, p := range responseSanitizePatterns {
		out = p.ReplaceAllString(out, "")
	}
	return out
}

// BuildToolConfig builds ep's ToolConfig. ApprovalMode is always NEVER.
func BuildToolConfig(ep Endpoint) ToolConfig {
	return ToolConfig{
		Kind:         "remote_tool",
		URL:          ep.URL,
		Label:        ep.Label,
		ApprovalMode: "NEVER",
		AllowedTools: ep.AllowedTools,
		Headers:      ep.Headers,
	}
}

// Limiter is a per-endpoint token-bucket rate limiter (10 tokens,
// 1 token/s refill).
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter constructs a Limiter with the default parameters.
func NewLimiter() *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(rateLimitPerSec), rateLimitBurst)}
}

// Wait blocks until the limiter admits a request, or returns the context's
// error if it is cancelled first.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Adapter pre-validates and drives a set of remote tool endpoints.
type Adapter struct {
	endpoints []Endpoint
	limiters  map[string]*Limiter
}

// New constructs an Adapter, validating every endpoint before any request
// is issued.
func New(endpoints []Endpoint) (*Adapter, error) {
	limiters := make(map[string]*Limiter, len(endpoints))
	for _, ep := range endpoints {
		if err := Validate(ep); err != nil {
			return nil, err
		}
		limiters[ep.Label] = NewLimiter()
	}
	return &Adapter{endpoints: endpoints, limiters: limiters}, nil
}

// ToolConfigs builds the ToolConfig list for every configured endpoint.
func (a *Adapter) ToolConfigs() []ToolConfig {
	configs := make([]ToolConfig, len(a.endpoints))
	for i, ep := range a.endpoints {
		configs[i] = BuildToolConfig(ep)
	}
	return configs
}

// Guard blocks until label's rate limiter admits a request, screens
// payload, and returns an error if either check fails.
func (a *Adapter) Guard(ctx context.Context, label string, payload []byte) error {
	l, ok := a.limiters[label]
	if !ok {
		return fmt.Errorf("remote tool endpoint %q is not configured", label)
	}
	if err := ScreenPayload(payload); err != nil {
		return err
	}
	return l.Wait(ctx)
}

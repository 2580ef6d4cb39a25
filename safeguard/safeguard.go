// Package safeguard wraps a whole run in unattended-operation protections:
// a configurable deadline around the whole Execution Engine
// invocation, shielded cleanup that survives that deadline firing, and
// pre-flight validation that every configured tool is compatible with
// running with nobody watching.
package safeguard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/structrun/structrun/errs"
)

// DefaultTimeout bounds a run when the caller does not supply a deadline.
const DefaultTimeout = time.Hour

// minShieldedCleanup is the floor on the budget ShieldedCleanup grants a
// cleanup callback, even when the run's own deadline has already passed
// so remote-side objects are still freed after an overrun.
const minShieldedCleanup = 30 * time.Second

// ToolPolicy is the subset of a configured tool's approval/interaction
// settings the validator needs, independent of which driver owns the
// tool. Callers (the CLI/container wiring) populate one per configured
// MCP/remote-tool endpoint from user input.
type ToolPolicy struct {
	Label           string
	ApprovalMode    string
	InteractiveMode bool
	UserPrompts     bool
}

// ValidatePolicies rejects any policy that would require a human in the
// loop: approval mode must be "never" (its absence defaults to "user",
// which is also rejected), and neither interactive_mode nor user_prompts
// may be set. All violations are collected into a single POLICY_VIOLATION
// error so a run reports every incompatible tool at once, before any
// remote call.
func ValidatePolicies(policies []ToolPolicy) error {
	var violations []string
	for _, p := range policies {
		mode := strings.ToLower(strings.TrimSpace(p.ApprovalMode))
		if mode != "never" {
			shown := p.ApprovalMode
			if shown == "" {
				shown = "user"
			}
			violations = append(violations, fmt.Sprintf(
				"tool %q requires approval (%q) - incompatible with unattended usage; set approval mode to \"never\"",
				p.Label, shown))
		}
		if p.InteractiveMode {
			violations = append(violations, fmt.Sprintf("tool %q has interactive mode enabled - incompatible with unattended operation", p.Label))
		}
		if p.UserPrompts {
			violations = append(violations, fmt.Sprintf("tool %q enables user prompts - incompatible with unattended operation", p.Label))
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return errs.New(errs.KindPolicyViolation, "%d tool(s) are incompatible with unattended operation:\n  - %s",
		len(violations), strings.Join(violations, "\n  - "))
}

// Safeguard wraps a single Execution Engine run with a deadline and
// survives that deadline to run cleanup anyway.
type Safeguard struct {
	timeout time.Duration
}

// New constructs a Safeguard. A non-positive timeout falls back to
// DefaultTimeout.
func New(timeout time.Duration) *Safeguard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Safeguard{timeout: timeout}
}

// Execute runs op under a deadline of s.timeout, translating a deadline
// overrun into an OPERATION_TIMEOUT error carrying CI/CD remediation
// guidance. op must respect ctx cancellation;
// Execute does not abandon a goroutine that ignores it, it only stops
// waiting for one.
func (s *Safeguard) Execute(ctx context.Context, operationName string, op func(context.Context) error) error {
	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(dctx)
	}()

	select {
	case err := <-done:
		return err
	case <-dctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.timeoutError(operationName)
	}
}

func (s *Safeguard) timeoutError(operationName string) error {
	seconds := int(s.timeout / time.Second)
	return errs.New(errs.KindOperationTimeout, "unattended %s timed out after %d seconds", operationName, seconds).
		With("timeoutSeconds", seconds).
		With("hint", fmt.Sprintf(
			"increase the timeout with --timeout %ds; split large operations into smaller chunks; use --dry-run to validate before actual execution; check server/tool availability before running",
			seconds*2))
}

// ShieldedCleanup runs fn with a fresh context carrying its own deadline,
// independent of ctx's cancellation state, so cleanup still runs after a
// run's own deadline has expired. The budget is whichever is
// larger: the time remaining on ctx's deadline, or minShieldedCleanup.
func (s *Safeguard) ShieldedCleanup(ctx context.Context, fn func(context.Context)) {
	budget := minShieldedCleanup
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > budget {
			budget = remaining
		}
	}
	cctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	fn(cctx)
}

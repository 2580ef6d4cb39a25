package runx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/structrun/structrun/errs"
)

// PolicyMode is one of the four enforcement modes a single global flag's
// policy can declare.
type PolicyMode string

const (
	PolicyFixed       PolicyMode = "fixed"
	PolicyPassThrough PolicyMode = "pass-through"
	PolicyAllowed     PolicyMode = "allowed"
	PolicyBlocked     PolicyMode = "blocked"
)

// ArgumentPolicy is the enforcement configuration for one global flag.
type ArgumentPolicy struct {
	Mode    PolicyMode
	Value   string
	Allowed []string
	Default string
}

// enforce applies the policy to a single flag occurrence. provided is the
// raw string value parsed off the command line, or "" with hasValue=false
// for a boolean flag's mere presence.
//
// It returns the value to emit (ok=false means the flag is dropped
// entirely, e.g. an allowed or pass-through flag given without a value and
// with no default).
func (p ArgumentPolicy) enforce(flag, provided string, hasValue bool) (value string, ok bool, err error) {
	switch p.Mode {
	case PolicyFixed:
		if hasValue && provided != p.Value {
			return "", false, errs.New(errs.KindPolicyViolation,
				"flag %q is fixed to %q, but %q was provided", flag, p.Value, provided)
		}
		return p.Value, true, nil

	case PolicyBlocked:
		return "", false, errs.New(errs.KindPolicyViolation, "flag %q is blocked by policy", flag)

	case PolicyAllowed:
		if hasValue {
			if !contains(p.Allowed, provided) {
				return "", false, errs.New(errs.KindPolicyViolation,
					"flag %q value %q not in allowed list: %s", flag, provided, strings.Join(p.Allowed, ", "))
			}
			return provided, true, nil
		}
		if p.Default != "" {
			return p.Default, true, nil
		}
		return "", false, nil

	case PolicyPassThrough:
		if hasValue {
			return provided, true, nil
		}
		if p.Default != "" {
			return p.Default, true, nil
		}
		return "", false, nil

	default:
		return "", false, errs.New(errs.KindUsageError, "unknown policy mode %q for flag %q", p.Mode, flag)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// PolicyEnforcer sanitises a raw global-argument list before it reaches
// the `run` verb; cmd/structrun/runx.go honours it as a thin pass-through.
type PolicyEnforcer interface {
	// Enforce returns the sanitised argument list, or a *errs.Error of kind
	// KindPolicyViolation (or KindUsageError for an unrecognised flag when
	// pass-through is disabled) on violation. Callers map that to exit
	// code 2 via errs.ExitCodeOf.
	Enforce(args []string) ([]string, error)
}

// flagAliases resolves short flag spellings to their canonical long forms
// before policy lookup.
var flagAliases = map[string]string{
	"-m": "--model",
	"-v": "--verbose",
	"-d": "--debug",
	"-h": "--help",
	"-V": "--version",
}

// booleanFlags mirrors BOOLEAN_FLAGS: presence alone toggles them on.
var booleanFlags = map[string]struct{}{
	"--verbose":      {},
	"--debug":        {},
	"--help":         {},
	"--version":      {},
	"--dry-run":      {},
	"--dry-run-json": {},
}

// repeatableFlags mirrors REPEATABLE_FLAGS: a comma-separated value expands
// to multiple occurrences of the flag.
var repeatableFlags = map[string]struct{}{
	"--var":         {},
	"--json-var":    {},
	"--file":        {},
	"--dir":         {},
	"--collect":     {},
	"--enable-tool": {},
	"--mcp-server":  {},
}

// GlobalArgsPolicyEnforcer is the concrete PolicyEnforcer built from a
// template's front-matter `global_args` section.
type GlobalArgsPolicyEnforcer struct {
	policies         map[string]ArgumentPolicy
	passThroughGlobal bool
}

// NewPolicyEnforcer builds an enforcer from the front-matter's
// `global_args` map. A nil or empty config yields an enforcer that passes
// every flag through unchanged.
func NewPolicyEnforcer(globalArgsConfig map[string]map[string]any, passThroughGlobal bool) (*GlobalArgsPolicyEnforcer, error) {
	e := &GlobalArgsPolicyEnforcer{
		policies:          make(map[string]ArgumentPolicy, len(globalArgsConfig)),
		passThroughGlobal: passThroughGlobal,
	}
	for flag, cfg := range globalArgsConfig {
		modeStr, _ := cfg["mode"].(string)
		if modeStr == "" {
			modeStr = string(PolicyPassThrough)
		}
		mode := PolicyMode(modeStr)
		switch mode {
		case PolicyFixed, PolicyPassThrough, PolicyAllowed, PolicyBlocked:
		default:
			return nil, errs.New(errs.KindUsageError, "invalid policy mode %q for flag %q", modeStr, flag)
		}

		policy := ArgumentPolicy{Mode: mode}
		if v, ok := cfg["value"]; ok {
			policy.Value = fmt.Sprint(v)
		}
		if v, ok := cfg["default"]; ok {
			policy.Default = fmt.Sprint(v)
		}
		if raw, ok := cfg["allowed"].([]any); ok {
			for _, a := range raw {
				policy.Allowed = append(policy.Allowed, fmt.Sprint(a))
			}
		}

		canonical := flag
		if !strings.HasPrefix(canonical, "-") {
			canonical = "--" + canonical
		}
		e.policies[canonical] = policy
	}
	return e, nil
}

func (e *GlobalArgsPolicyEnforcer) resolveAlias(flag string) string {
	if canon, ok := flagAliases[flag]; ok {
		return canon
	}
	return flag
}

// Enforce walks args left to right, resolving aliases, applying each flag's
// policy, and either rejecting the invocation (KindPolicyViolation) or
// passing unknown flags through (per passThroughGlobal).
func (e *GlobalArgsPolicyEnforcer) Enforce(args []string) ([]string, error) {
	var sanitized []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if !strings.HasPrefix(arg, "-") {
			sanitized = append(sanitized, arg)
			continue
		}

		var flag, rawValue string
		hasValue := false
		if idx := strings.Index(arg, "="); idx >= 0 {
			flag, rawValue = arg[:idx], arg[idx+1:]
			hasValue = true
		} else {
			flag = arg
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				rawValue = args[i+1]
				hasValue = true
				i++
			}
		}

		canonical := e.resolveAlias(flag)

		if _, isBool := booleanFlags[canonical]; isBool && !hasValue {
			hasValue = true
			rawValue = "true"
		}
		if hasValue {
			rawValue = parseFlagValue(canonical, rawValue)
		}

		policy, known := e.policies[canonical]
		if !known {
			if e.passThroughGlobal {
				sanitized = append(sanitized, flag)
				if hasValue && flag == canonical {
					// only re-emit the value when it wasn't folded into --flag=value
					if !strings.Contains(arg, "=") {
						sanitized = append(sanitized, rawValue)
					}
				}
				continue
			}
			return nil, errs.New(errs.KindUsageError, "unrecognized flag %q", flag)
		}

		value, ok, err := policy.enforce(canonical, rawValue, hasValue)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, isBool := booleanFlags[canonical]; isBool {
			if value == "true" {
				sanitized = append(sanitized, canonical)
			}
			continue
		}
		sanitized = append(sanitized, canonical)
		if _, repeatable := repeatableFlags[canonical]; repeatable && strings.Contains(value, ",") {
			for _, v := range strings.Split(value, ",") {
				sanitized = append(sanitized, strings.TrimSpace(v))
			}
			continue
		}
		sanitized = append(sanitized, value)
	}

	return sanitized, nil
}

func parseFlagValue(flag, value string) string {
	if _, isBool := booleanFlags[flag]; isBool {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return "true"
		default:
			return "false"
		}
	}
	return value
}

// PolicyTable renders (flag, mode, description) rows for help output,
// sorted by flag name.
func (e *GlobalArgsPolicyEnforcer) PolicyTable() [][3]string {
	rows := make([][3]string, 0, len(e.policies))
	for flag, p := range e.policies {
		var desc string
		switch p.Mode {
		case PolicyFixed:
			desc = fmt.Sprintf("fixed to %q", p.Value)
		case PolicyBlocked:
			desc = "blocked"
		case PolicyAllowed:
			desc = "allowed: " + strings.Join(p.Allowed, ", ")
		default:
			if p.Default != "" {
				desc = "default: " + p.Default
			} else {
				desc = "pass-through"
			}
		}
		rows = append(rows, [3]string{flag, string(p.Mode), desc})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return rows
}

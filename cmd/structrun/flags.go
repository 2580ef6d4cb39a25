package main

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/structrun/structrun/attach"
	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/routing"
)

// identifierRe matches the `[A-Za-z_][A-Za-z0-9_]*` grammar required of
// variable-binding names and aliases.
var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// aliasPath splits an `alias=path` or bare `path` CLI argument, matching
// the `-f alias=path` / `-f path` convention; the alias is auto-derived
// from the filename when omitted.
func aliasPath(spec string) (alias, path string) {
	if a, p, ok := strings.Cut(spec, "="); ok && isIdentifier(a) {
		return a, p
	}
	return "", spec
}

func isIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// toolTargetAliases maps the dash-cased tool names (as used by
// `--file-for`/`--collect`'s advanced routing syntax) onto attach.Target.
var toolTargetAliases = map[string]attach.Target{
	"template":         attach.TargetTemplate,
	"code-interpreter": attach.TargetCodeExec,
	"code-exec":        attach.TargetCodeExec,
	"file-search":      attach.TargetRetrieval,
	"retrieval":        attach.TargetRetrieval,
	"user-data":        attach.TargetUserData,
}

// parseTargets parses a comma-separated list of tool names into a target
// slice, per `--file-for code-interpreter,template:path`'s advanced routing
// syntax.
func parseTargets(s string) ([]attach.Target, error) {
	var out []attach.Target
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		t, ok := toolTargetAliases[name]
		if !ok {
			return nil, errs.New(errs.KindUsageError, "unknown tool %q in --file-for/--collect target list", name)
		}
		out = append(out, t)
	}
	return out, nil
}

// splitTargetedPath parses the `targets:path` syntax shared by
// `--file-for`, `--dir-for`, and `--collect`'s advanced-routing forms.
func splitTargetedPath(spec string) (targets []attach.Target, rest string, err error) {
	prefix, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, "", errs.New(errs.KindUsageError, "expected TARGETS:PATH, got %q", spec)
	}
	targets, err = parseTargets(prefix)
	return targets, rest, err
}

// toolNameAliases maps the CLI's `--enable-tool`/`--disable-tool`/MCP
// dash-cased tool names onto routing.Tool.
var toolNameAliases = map[string]routing.Tool{
	"code-interpreter": routing.ToolCodeExec,
	"code-exec":        routing.ToolCodeExec,
	"file-search":      routing.ToolRetrieval,
	"retrieval":        routing.ToolRetrieval,
	"web-search":       routing.ToolWebSearch,
	"mcp":              routing.ToolRemoteTool,
	"remote-tool":      routing.ToolRemoteTool,
}

func parseTool(name string) (routing.Tool, error) {
	t, ok := toolNameAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", errs.New(errs.KindUsageError, "unknown tool %q", name)
	}
	return t, nil
}

func parseTools(names []string) ([]routing.Tool, error) {
	out := make([]routing.Tool, 0, len(names))
	for _, n := range names {
		t, err := parseTool(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// varBinding is one `-V name=value` or `-J name=json-literal` CLI argument.
type varBinding struct {
	Name  string
	Value any
}

// parseVar parses a `name=value` string-variable binding, validating the
// identifier grammar.
func parseVar(spec string) (varBinding, error) {
	name, value, ok := strings.Cut(spec, "=")
	if !ok {
		return varBinding{}, errs.New(errs.KindUsageError, "expected NAME=VALUE, got %q", spec)
	}
	if !isIdentifier(name) {
		return varBinding{}, errs.New(errs.KindUsageError, "invalid variable name %q", name)
	}
	return varBinding{Name: name, Value: value}, nil
}

// parseJSONVar parses a `name=json-literal` variable binding.
func parseJSONVar(spec string) (varBinding, error) {
	name, raw, ok := strings.Cut(spec, "=")
	if !ok {
		return varBinding{}, errs.New(errs.KindUsageError, "expected NAME=JSON, got %q", spec)
	}
	if !isIdentifier(name) {
		return varBinding{}, errs.New(errs.KindUsageError, "invalid variable name %q", name)
	}
	val, err := parseJSONLiteral(raw)
	if err != nil {
		return varBinding{}, errs.Wrap(errs.KindUsageError, err, "invalid JSON literal for variable %q", name)
	}
	return varBinding{Name: name, Value: val}, nil
}

// mergeVars combines string and JSON variable bindings, failing VAR_DUP on
// any name appearing twice across either pool.
func mergeVars(strVars, jsonVars []varBinding) (map[string]any, error) {
	out := make(map[string]any, len(strVars)+len(jsonVars))
	for _, v := range append(append([]varBinding{}, strVars...), jsonVars...) {
		if _, dup := out[v.Name]; dup {
			return nil, errs.New(errs.KindVarDup, "variable %q specified more than once", v.Name).With("name", v.Name)
		}
		out[v.Name] = v.Value
	}
	return out, nil
}

// parseFloatFlag converts an optional, possibly-unset flag string into a
// *float64, returning nil when raw is empty.
func parseFloatFlag(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errs.New(errs.KindUsageError, "invalid numeric value %q", raw)
	}
	return &f, nil
}

func mustLabelValue(spec string) (label, value string, err error) {
	label, value, ok := strings.Cut(spec, "=")
	if !ok {
		return "", "", errs.New(errs.KindUsageError, "expected LABEL=VALUE, got %q", spec)
	}
	return label, value, nil
}

func fmtTargets(targets []attach.Target) string {
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = string(t)
	}
	return strings.Join(parts, "+")
}

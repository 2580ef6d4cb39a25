// Package runx implements the narrow self-executing-template (.ost)
// contract the CLI carries: parse a template's YAML front-matter, enforce
// its global-argument policy against the invocation's flags, and exit 2 on
// violation. It does not reimplement the template evaluator itself; this
// package only gets a caller (cmd/structrun/runx.go) far enough to hand a
// sanitised flag list to the `run` verb.
package runx

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/structrun/structrun/errs"
)

// CLIMeta is the front-matter's required `cli` section: the template's
// declared name and description. Positional/option declarations beyond
// these two fields are not modelled here; they remain in FrontMatter.Raw
// for the caller's own dynamic-flag construction, since that grammar is
// not this package's concern.
type CLIMeta struct {
	Name        string
	Description string
}

// FrontMatter is the parsed YAML metadata block of an .ost template, plus
// the line index where the template body begins.
type FrontMatter struct {
	CLI CLIMeta
	// GlobalArgs is the front-matter's `global_args` map (flag name ->
	// policy configuration), handed to NewPolicyEnforcer unmodified.
	GlobalArgs map[string]map[string]any
	// Raw holds the full decoded metadata document, for callers that need
	// fields this package does not model directly (schema, defaults, cli
	// positional/option declarations).
	Raw map[string]any
	// BodyLine is the zero-based line number of the first line of the
	// template body, after the closing `---` delimiter.
	BodyLine int
}

// Parse extracts and validates the front-matter of content, an .ost
// template file's full text. A leading `#!/usr/bin/env structrun runx`
// shebang line is tolerated and skipped.
func Parse(content string) (FrontMatter, error) {
	lines := strings.Split(content, "\n")

	start := 0
	if len(lines) > 0 && strings.HasPrefix(lines[0], "#!") {
		start = 1
	}

	if start >= len(lines) || strings.TrimSpace(lines[start]) != "---" {
		return FrontMatter{}, errs.New(errs.KindUsageError, "no front-matter delimiter found (expected '---')")
	}

	end := -1
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return FrontMatter{}, errs.New(errs.KindUsageError, "no closing front-matter delimiter found")
	}

	yamlContent := strings.Join(lines[start+1:end], "\n")

	var meta map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &meta); err != nil {
		return FrontMatter{}, errs.Wrap(errs.KindUsageError, err, "invalid YAML in front-matter")
	}
	if meta == nil {
		return FrontMatter{}, errs.New(errs.KindUsageError, "front-matter must be a YAML object")
	}

	fm := FrontMatter{Raw: meta, BodyLine: end + 1}
	if err := fm.validateAndFill(meta); err != nil {
		return FrontMatter{}, err
	}
	return fm, nil
}

func (fm *FrontMatter) validateAndFill(meta map[string]any) error {
	cliRaw, ok := meta["cli"]
	if !ok {
		return errs.New(errs.KindUsageError, "front-matter must contain 'cli' section")
	}
	cli, ok := cliRaw.(map[string]any)
	if !ok {
		return errs.New(errs.KindUsageError, "'cli' section must be an object")
	}

	name, ok := cli["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return errs.New(errs.KindUsageError, "'cli.name' must be a non-empty string")
	}
	desc, ok := cli["description"].(string)
	if !ok || strings.TrimSpace(desc) == "" {
		return errs.New(errs.KindUsageError, "'cli.description' must be a non-empty string")
	}
	fm.CLI = CLIMeta{Name: name, Description: desc}

	if gaRaw, ok := meta["global_args"]; ok {
		ga, ok := gaRaw.(map[string]any)
		if !ok {
			return errs.New(errs.KindUsageError, "'global_args' section must be an object")
		}
		fm.GlobalArgs = make(map[string]map[string]any, len(ga))
		for flag, cfgRaw := range ga {
			if flag == "pass_through_global" {
				continue
			}
			cfg, ok := cfgRaw.(map[string]any)
			if !ok {
				return errs.New(errs.KindUsageError, "configuration for flag %q must be an object", flag)
			}
			fm.GlobalArgs[flag] = cfg
		}
	}

	return nil
}

// Body returns the template body (everything after the closing front-matter
// delimiter).
func (fm FrontMatter) Body(content string) string {
	lines := strings.Split(content, "\n")
	if fm.BodyLine >= len(lines) {
		return ""
	}
	return strings.Join(lines[fm.BodyLine:], "\n")
}

// PassThroughGlobal reports whether unknown global flags should be passed
// through unchanged rather than rejected, per the front-matter's
// `global_args.pass_through_global` (default true).
func (fm FrontMatter) PassThroughGlobal() bool {
	raw, ok := fm.Raw["global_args"]
	if !ok {
		return true
	}
	ga, ok := raw.(map[string]any)
	if !ok {
		return true
	}
	v, ok := ga["pass_through_global"]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	if !ok {
		return true
	}
	return b
}

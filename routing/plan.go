// Package routing implements the Routing Planner: it
// consumes the Attachment Resolver's output and produces per-tool work
// lists, the alias map consumed by the template engine, and the
// enabled-tools set after CLI-level tool-toggle flags are applied.
package routing

import (
	"github.com/structrun/structrun/attach"
	"github.com/structrun/structrun/errs"
)

// Tool names a routable tool bundle member, distinct from attach.Target:
// a Target describes what an attachment is FOR, a Tool describes what the
// Execution Engine may enable for the remote LLM call.
type Tool string

const (
	ToolCodeExec   Tool = "CODE_EXEC"
	ToolRetrieval  Tool = "RETRIEVAL"
	ToolWebSearch  Tool = "WEB_SEARCH"
	ToolRemoteTool Tool = "REMOTE_TOOL"
)

// Plan is the resolved routing plan: six ordered per-tool work
// lists (files before directories, CLI order preserved) plus the alias map.
// Every path appearing in a tool-specific list is reachable from AliasMap.
type Plan struct {
	TemplateFiles  []string
	TemplateDirs   []string
	CodeFiles      []string
	CodeDirs       []string
	RetrievalFiles []string
	RetrievalDirs  []string

	AliasMap map[string]attach.AttachmentSpec

	// EnabledTools starts as the routing-implied set (CODE_EXEC if any
	// code-exec attachment exists, RETRIEVAL likewise) and is mutated by
	// ApplyToolToggles.
	EnabledTools map[Tool]struct{}
}

// HasTool reports whether t is currently enabled.
func (p *Plan) HasTool(t Tool) bool {
	_, ok := p.EnabledTools[t]
	return ok
}

// Build converts resolved attachment specs into a Plan. A file attached to
// N targets is appended once to each corresponding list and represented by
// exactly one AliasMap entry.
func Build(specs []attach.AttachmentSpec) (*Plan, error) {
	plan := &Plan{
		AliasMap:     make(map[string]attach.AttachmentSpec, len(specs)),
		EnabledTools: make(map[Tool]struct{}),
	}
	for _, s := range specs {
		if _, dup := plan.AliasMap[s.Alias]; dup {
			return nil, errs.New(errs.KindAliasDup, "alias %q already present in routing plan", s.Alias).
				With("alias", s.Alias)
		}
		plan.AliasMap[s.Alias] = s

		isDir := s.Kind == attach.KindDir
		if s.HasTarget(attach.TargetTemplate) {
			appendTo(&plan.TemplateFiles, &plan.TemplateDirs, s.Path, isDir)
		}
		if s.HasTarget(attach.TargetCodeExec) {
			appendTo(&plan.CodeFiles, &plan.CodeDirs, s.Path, isDir)
			plan.EnabledTools[ToolCodeExec] = struct{}{}
		}
		if s.HasTarget(attach.TargetRetrieval) {
			appendTo(&plan.RetrievalFiles, &plan.RetrievalDirs, s.Path, isDir)
			plan.EnabledTools[ToolRetrieval] = struct{}{}
		}
		// TargetUserData attachments are gated and recorded in AliasMap but
		// route to no tool work list; they stay addressable by alias only.
	}
	return plan, nil
}

func appendTo(files, dirs *[]string, path string, isDir bool) {
	if isDir {
		*dirs = append(*dirs, path)
		return
	}
	*files = append(*files, path)
}

// Toggles carries the CLI-level tool-toggle flags: an
// enable-set and a disable-set over {CODE_EXEC, RETRIEVAL, WEB_SEARCH,
// REMOTE_TOOL}, plus the set of tools enabled by configuration.
type Toggles struct {
	Enable       []Tool
	Disable      []Tool
	ConfigEnable []Tool
}

// ApplyToolToggles mutates plan.EnabledTools with the precedence
// rule: enable beats config, disable beats config, both beat
// routing-implied enablement. A tool named in both Enable and Disable is a
// USAGE_ERROR (exit 2).
func ApplyToolToggles(plan *Plan, t Toggles) error {
	enableSet := toSet(t.Enable)
	disableSet := toSet(t.Disable)
	for tool := range enableSet {
		if _, both := disableSet[tool]; both {
			return errs.New(errs.KindUsageError, "tool %q is both enabled and disabled", tool).With("tool", tool)
		}
	}

	for _, tool := range t.ConfigEnable {
		plan.EnabledTools[tool] = struct{}{}
	}
	for tool := range enableSet {
		plan.EnabledTools[tool] = struct{}{}
	}
	for tool := range disableSet {
		delete(plan.EnabledTools, tool)
	}
	return nil
}

func toSet(tools []Tool) map[Tool]struct{} {
	set := make(map[Tool]struct{}, len(tools))
	for _, t := range tools {
		set[t] = struct{}{}
	}
	return set
}

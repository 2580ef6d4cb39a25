package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/structrun/structrun/attach"
	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/routing"
	"github.com/structrun/structrun/security"
)

// runFlags is the raw, unparsed `run` verb flag surface: the attachment
// routing shorthands (`-ft/-dt/-fc/-dc/-fs/-ds`), `--file-for`/`--dir-for`
// advanced routing, `-V`/`-J` variable bindings, `--mcp-server`,
// `--enable-tool`/`--disable-tool`, and the code-exec download options.
type runFlags struct {
	schemaPath       string
	templatePath     string
	promptText       string
	systemPromptPath string
	systemPromptText string

	fileTemplate []string
	dirTemplate  []string
	fileCode     []string
	dirCode      []string
	fileSearch   []string
	dirSearch    []string
	fileFor      []string
	dirFor       []string
	collect      []string

	dirRecursive bool
	dirGlob      string

	enableTools  []string
	disableTools []string

	mcpServers     []string
	mcpAllowed     []string
	mcpHeaders     []string

	stringVars []string
	jsonVars   []string

	model         string
	contextWindow int

	baseDir      string
	allowedDirs  []string
	securityMode string

	temperature      string
	topP             string
	frequencyPenalty string
	presencePenalty  string
	maxOutputTokens  int
	reasoningEffort  string

	downloadStrategy string
	ciDownloadHack   bool
	outputDir        string
	outputPath       string

	timeout time.Duration
	dryRun  bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	rf := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a structured-output request against a JSON Schema, with attachments and tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := rf.toRunOptions(g)
			if err != nil {
				return err
			}
			result, err := run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return writeResult(result, opts.OutputPath)
		},
	}

	f := cmd.Flags()
	f.SortFlags = false

	f.StringVar(&rf.schemaPath, "schema", "", "JSON Schema file the output must conform to (required)")
	_ = cmd.MarkFlagRequired("schema")
	f.StringVarP(&rf.templatePath, "template", "t", "", "User-prompt template file")
	f.StringVarP(&rf.promptText, "prompt", "p", "", "Inline user prompt (alternative to --template)")
	f.StringVar(&rf.systemPromptPath, "system-prompt-file", "", "System-prompt template file")
	f.StringVar(&rf.systemPromptText, "system-prompt", "", "Inline system prompt")

	f.StringArrayVar(&rf.fileTemplate, "file-for-template", nil, "ALIAS=PATH attachment routed to the template only")
	f.StringArrayVar(&rf.fileTemplate, "ft", nil, "Alias for --file-for-template")
	_ = f.MarkHidden("ft")
	f.StringArrayVar(&rf.dirTemplate, "dir-for-template", nil, "ALIAS=PATH directory routed to the template only")
	f.StringArrayVar(&rf.dirTemplate, "dt", nil, "Alias for --dir-for-template")
	_ = f.MarkHidden("dt")
	f.StringArrayVar(&rf.fileCode, "file-for-code-interpreter", nil, "ALIAS=PATH attachment routed to code execution")
	f.StringArrayVar(&rf.fileCode, "fc", nil, "Alias for --file-for-code-interpreter")
	_ = f.MarkHidden("fc")
	f.StringArrayVar(&rf.dirCode, "dir-for-code-interpreter", nil, "ALIAS=PATH directory routed to code execution")
	f.StringArrayVar(&rf.dirCode, "dc", nil, "Alias for --dir-for-code-interpreter")
	_ = f.MarkHidden("dc")
	f.StringArrayVar(&rf.fileSearch, "file-for-file-search", nil, "ALIAS=PATH attachment routed to retrieval")
	f.StringArrayVar(&rf.fileSearch, "fs", nil, "Alias for --file-for-file-search")
	_ = f.MarkHidden("fs")
	f.StringArrayVar(&rf.dirSearch, "dir-for-search", nil, "ALIAS=PATH directory routed to retrieval")
	f.StringArrayVar(&rf.dirSearch, "ds", nil, "Alias for --dir-for-search")
	_ = f.MarkHidden("ds")

	f.StringArrayVar(&rf.fileFor, "file-for", nil, "[ALIAS=]TARGETS:PATH multi-target file routing (TARGETS comma-separated)")
	f.StringArrayVar(&rf.dirFor, "dir-for", nil, "[ALIAS=]TARGETS:PATH multi-target directory routing")
	f.StringArrayVar(&rf.collect, "collect", nil, "[ALIAS=]TARGETS:FILELIST collection of attachments read from a line list")
	f.BoolVar(&rf.dirRecursive, "recursive", false, "Recurse into directory attachments")
	f.StringVar(&rf.dirGlob, "pattern", "", "Glob pattern applied to directory attachments")

	f.StringArrayVar(&rf.enableTools, "enable-tool", nil, "Force-enable a tool (code-interpreter, file-search, web-search, mcp)")
	f.StringArrayVar(&rf.disableTools, "disable-tool", nil, "Force-disable a tool")

	f.StringArrayVar(&rf.mcpServers, "mcp-server", nil, "[LABEL@]URL of a remote tool endpoint")
	f.StringArrayVar(&rf.mcpAllowed, "mcp-allowed-tools", nil, "LABEL=tool1,tool2 allow-list for a remote tool endpoint")
	f.StringArrayVar(&rf.mcpHeaders, "mcp-header", nil, "LABEL=Header:Value request header for a remote tool endpoint")

	f.StringArrayVarP(&rf.stringVars, "var", "V", nil, "NAME=VALUE string template variable")
	f.StringArrayVarP(&rf.jsonVars, "jvar", "J", nil, "NAME=JSON template variable")

	f.StringVar(&rf.model, "model", "gpt-4o", "Model name")
	f.IntVar(&rf.contextWindow, "context-window", 128_000, "Model context window, in tokens")

	f.StringVar(&rf.baseDir, "base-dir", ".", "Base directory every attachment path is resolved against")
	f.StringArrayVar(&rf.allowedDirs, "allowed-dir", nil, "Additional directory the security gate allows")
	f.StringVar(&rf.securityMode, "security-mode", "strict", "Path security gate mode: permissive, warn, or strict")

	f.StringVar(&rf.temperature, "temperature", "", "Sampling temperature")
	f.StringVar(&rf.topP, "top-p", "", "Nucleus sampling top-p")
	f.StringVar(&rf.frequencyPenalty, "frequency-penalty", "", "Frequency penalty")
	f.StringVar(&rf.presencePenalty, "presence-penalty", "", "Presence penalty")
	f.IntVar(&rf.maxOutputTokens, "max-output-tokens", 0, "Maximum output tokens (0 = provider default)")
	f.StringVar(&rf.reasoningEffort, "reasoning-effort", "", "Reasoning effort (low/medium/high), for models that support it")

	f.StringVar(&rf.downloadStrategy, "download-strategy", "", "Code-exec artifact recovery strategy: single_pass or two_pass_sentinel")
	f.BoolVar(&rf.ciDownloadHack, "ci-download-hack", false, "Force the two-pass sentinel strategy to recover code-exec artifacts under strict mode")
	f.StringVar(&rf.outputDir, "output-dir", ".", "Directory downloaded code-exec artifacts are written to")
	f.StringVarP(&rf.outputPath, "output", "o", "", "Write the validated JSON output here instead of stdout")

	f.DurationVar(&rf.timeout, "timeout", 0, "Unattended operation deadline (0 = safeguard default of 1h)")
	f.BoolVar(&rf.dryRun, "dry-run", false, "Validate attachments, routing, and token budget, then exit without calling the model")

	return cmd
}

// toRunOptions resolves every raw flag into a runOptions, failing
// USAGE_ERROR on malformed syntax before any path touches the security
// gate.
func (rf *runFlags) toRunOptions(g *globalFlags) (*runOptions, error) {
	if rf.templatePath == "" && rf.promptText == "" {
		return nil, errs.New(errs.KindUsageError, "one of --template or --prompt is required")
	}

	opts := &runOptions{
		ConfigPath:       g.configPath,
		Provider:         g.provider,
		APIKey:           g.apiKey,
		BaseURL:          g.baseURL,
		Model:            rf.model,
		ContextWindow:    rf.contextWindow,
		SchemaPath:       rf.schemaPath,
		TemplatePath:     rf.templatePath,
		PromptText:       rf.promptText,
		SystemPromptPath: rf.systemPromptPath,
		SystemPromptText: rf.systemPromptText,
		BaseDir:          rf.baseDir,
		AllowedDirs:      rf.allowedDirs,
		SecurityMode:     security.Mode(rf.securityMode),
		DownloadStrategy: rf.downloadStrategy,
		CIDownloadHack:   rf.ciDownloadHack,
		OutputDir:        rf.outputDir,
		OutputPath:       rf.outputPath,
		MaxOutputTokens:  intPtrOrNil(rf.maxOutputTokens),
		ReasoningEffort:  rf.reasoningEffort,
		Timeout:          rf.timeout,
		DryRun:           rf.dryRun,
		Debug:            g.debug,
		MCPServers:       rf.mcpServers,
		MCPAllowed:       map[string][]string{},
		MCPHeaders:       map[string]map[string]string{},
	}

	var err error
	if opts.Temperature, err = parseFloatFlag(rf.temperature); err != nil {
		return nil, err
	}
	if opts.TopP, err = parseFloatFlag(rf.topP); err != nil {
		return nil, err
	}
	if opts.FrequencyPenalty, err = parseFloatFlag(rf.frequencyPenalty); err != nil {
		return nil, err
	}
	if opts.PresencePenalty, err = parseFloatFlag(rf.presencePenalty); err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Hour
	}

	if err := rf.collectAttachments(opts); err != nil {
		return nil, err
	}

	enable, err := parseTools(rf.enableTools)
	if err != nil {
		return nil, err
	}
	disable, err := parseTools(rf.disableTools)
	if err != nil {
		return nil, err
	}
	opts.Toggles = routing.Toggles{Enable: enable, Disable: disable}

	for _, spec := range rf.mcpAllowed {
		label, value, err := mustLabelValue(spec)
		if err != nil {
			return nil, err
		}
		opts.MCPAllowed[label] = splitCSV(value)
	}
	for _, spec := range rf.mcpHeaders {
		label, kv, err := mustLabelValue(spec)
		if err != nil {
			return nil, err
		}
		k, v, ok := cutColon(kv)
		if !ok {
			return nil, errs.New(errs.KindUsageError, "expected LABEL=KEY:VALUE, got %q", spec)
		}
		if opts.MCPHeaders[label] == nil {
			opts.MCPHeaders[label] = map[string]string{}
		}
		opts.MCPHeaders[label][k] = v
	}

	strVars := make([]varBinding, 0, len(rf.stringVars))
	for _, spec := range rf.stringVars {
		v, err := parseVar(spec)
		if err != nil {
			return nil, err
		}
		strVars = append(strVars, v)
	}
	jsonVars := make([]varBinding, 0, len(rf.jsonVars))
	for _, spec := range rf.jsonVars {
		v, err := parseJSONVar(spec)
		if err != nil {
			return nil, err
		}
		jsonVars = append(jsonVars, v)
	}
	opts.Vars, err = mergeVars(strVars, jsonVars)
	if err != nil {
		return nil, err
	}

	return opts, nil
}

func (rf *runFlags) collectAttachments(opts *runOptions) error {
	add := func(specs []string, target attach.Target, isDir bool) error {
		for _, spec := range specs {
			alias, path := aliasPath(spec)
			req := attachRequest{alias: alias, path: path, targets: []attach.Target{target}, isDir: isDir}
			if isDir {
				req.recursive = rf.dirRecursive
				req.glob = rf.dirGlob
			}
			opts.Attachments = append(opts.Attachments, req)
		}
		return nil
	}
	if err := add(rf.fileTemplate, attach.TargetTemplate, false); err != nil {
		return err
	}
	if err := add(rf.dirTemplate, attach.TargetTemplate, true); err != nil {
		return err
	}
	if err := add(rf.fileCode, attach.TargetCodeExec, false); err != nil {
		return err
	}
	if err := add(rf.dirCode, attach.TargetCodeExec, true); err != nil {
		return err
	}
	if err := add(rf.fileSearch, attach.TargetRetrieval, false); err != nil {
		return err
	}
	if err := add(rf.dirSearch, attach.TargetRetrieval, true); err != nil {
		return err
	}

	for _, spec := range rf.fileFor {
		alias, rest := splitAliasPrefix(spec)
		targets, path, err := splitTargetedPath(rest)
		if err != nil {
			return err
		}
		opts.Attachments = append(opts.Attachments, attachRequest{alias: alias, path: path, targets: targets})
	}
	for _, spec := range rf.dirFor {
		alias, rest := splitAliasPrefix(spec)
		targets, path, err := splitTargetedPath(rest)
		if err != nil {
			return err
		}
		opts.Attachments = append(opts.Attachments, attachRequest{
			alias: alias, path: path, targets: targets, isDir: true,
			recursive: rf.dirRecursive, glob: rf.dirGlob,
		})
	}
	for _, spec := range rf.collect {
		alias, rest := splitAliasPrefix(spec)
		targets, path, err := splitTargetedPath(rest)
		if err != nil {
			return err
		}
		opts.Collections = append(opts.Collections, attachRequest{alias: alias, path: path, targets: targets})
	}
	return nil
}

// splitAliasPrefix extracts an optional leading "ALIAS=" from spec, used by
// the advanced `--file-for`/`--dir-for`/`--collect` routing syntax where
// the remainder still needs TARGETS:PATH parsing.
func splitAliasPrefix(spec string) (alias, rest string) {
	if a, r, ok := cutIdentifierEquals(spec); ok {
		return a, r
	}
	return "", spec
}

func cutIdentifierEquals(spec string) (alias, rest string, ok bool) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == '=' {
			candidate := spec[:i]
			if isIdentifier(candidate) {
				return candidate, spec[i+1:], true
			}
			return "", spec, false
		}
		if spec[i] == ':' {
			return "", spec, false
		}
	}
	return "", spec, false
}

func cutColon(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func intPtrOrNil(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/structrun/structrun/attach"
	"github.com/structrun/structrun/config"
	"github.com/structrun/structrun/container"
	"github.com/structrun/structrun/engine"
	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/fsident"
	"github.com/structrun/structrun/llm"
	"github.com/structrun/structrun/llm/anthropicclient"
	"github.com/structrun/structrun/llm/openaiclient"
	"github.com/structrun/structrun/routing"
	"github.com/structrun/structrun/safeguard"
	"github.com/structrun/structrun/security"
	"github.com/structrun/structrun/telemetry"
	"github.com/structrun/structrun/templatectx"
	"github.com/structrun/structrun/tokenbudget"
	"github.com/structrun/structrun/tools/codeexec"
	"github.com/structrun/structrun/tools/openaifiles"
	"github.com/structrun/structrun/tools/remote"
	"github.com/structrun/structrun/tools/retrieval"
	"github.com/structrun/structrun/upload"
)

// attachRequest is one raw `-ft/-dt/-fc/-dc/-fs/-ds/--file-for/--dir-for`
// CLI argument, still unresolved against the security gate.
type attachRequest struct {
	alias     string
	path      string
	targets   []attach.Target
	isDir     bool
	recursive bool
	glob      string
}

// runOptions is the fully-parsed CLI surface shared by the `run` and `runx`
// verbs: everything needed to drive one attachment-routing and
// structured-output run.
type runOptions struct {
	ConfigPath string
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	ContextWindow int

	SchemaPath       string
	TemplatePath     string
	PromptText       string
	SystemPromptPath string
	SystemPromptText string

	Attachments []attachRequest
	Collections []attachRequest // CollectRequest carried via path+alias+targets

	Toggles routing.Toggles

	MCPServers   []string
	MCPAllowed   map[string][]string
	MCPHeaders   map[string]map[string]string

	Vars map[string]any

	BaseDir       string
	AllowedDirs   []string
	SecurityMode  security.Mode

	DownloadStrategy string
	CIDownloadHack   bool
	OutputDir        string
	OutputPath       string

	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	MaxOutputTokens  *int
	ReasoningEffort  string

	Timeout time.Duration
	DryRun  bool
	Debug   bool
}

// run executes the full pipeline: Security Gate -> Attachment Resolver ->
// Routing Planner -> Token Budget Validator -> Shared Upload Manager ->
// service container -> execution engine.
func run(ctx context.Context, opts *runOptions) (engine.Result, error) {
	log := telemetry.NewClueLogger()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return engine.Result{}, err
	}

	gate := security.New(opts.BaseDir, opts.SecurityMode, security.WithAllowedDirs(opts.AllowedDirs...), security.WithLogger(log))
	resolver := attach.NewResolver(gate, attach.Strict(opts.SecurityMode == security.ModeStrict), log)

	specs, warnings, err := resolveAttachments(ctx, resolver, opts)
	if err != nil {
		return engine.Result{}, err
	}
	for _, w := range warnings {
		log.Warn(ctx, w)
	}

	plan, err := routing.Build(specs)
	if err != nil {
		return engine.Result{}, err
	}
	if err := routing.ApplyToolToggles(plan, opts.Toggles); err != nil {
		return engine.Result{}, err
	}

	idResolver := fsident.NewResolver(fsident.HashAlgo(cfg.Uploads.HashAlgorithm))
	cache := fsident.NewCache(64<<20, 15*time.Minute)
	source := &templatectx.FileSource{Cache: cache}

	tctx, err := (&templatectx.Builder{Source: source, Model: opts.Model, WebSearch: plan.HasTool(routing.ToolWebSearch)}).Build(plan)
	if err != nil {
		return engine.Result{}, errs.Wrap(errs.KindInternal, err, "failed to build template context")
	}

	systemPrompt := opts.SystemPromptText
	if opts.SystemPromptPath != "" {
		abs, err := gate.Resolve(ctx, opts.SystemPromptPath)
		if err != nil {
			return engine.Result{}, err
		}
		raw, err := os.ReadFile(abs) // #nosec G304 -- path just passed the security gate
		if err != nil {
			return engine.Result{}, errs.Wrap(errs.KindNotFound, err, "cannot read system prompt file %q", opts.SystemPromptPath)
		}
		rendered, err := renderTemplate(string(raw), tctx, opts.Vars)
		if err != nil {
			return engine.Result{}, err
		}
		systemPrompt = rendered
	}

	userPrompt := opts.PromptText
	if opts.TemplatePath != "" {
		abs, err := gate.Resolve(ctx, opts.TemplatePath)
		if err != nil {
			return engine.Result{}, err
		}
		raw, err := os.ReadFile(abs) // #nosec G304 -- path just passed the security gate
		if err != nil {
			return engine.Result{}, errs.Wrap(errs.KindNotFound, err, "cannot read template file %q", opts.TemplatePath)
		}
		rendered, err := renderTemplate(string(raw), tctx, opts.Vars)
		if err != nil {
			return engine.Result{}, err
		}
		userPrompt = rendered
	}

	enc, err := tokenbudget.NewTiktokenEncoder(opts.Model)
	if err != nil {
		return engine.Result{}, errs.Wrap(errs.KindInternal, err, "failed to construct token encoder")
	}
	contextWindow := opts.ContextWindow
	if contextWindow == 0 {
		contextWindow = 128_000
	}
	budgetResult, err := tokenbudget.New(enc, contextWindow).Validate(systemPrompt+"\n"+userPrompt, plan.TemplateFiles)
	if err != nil {
		return engine.Result{}, err
	}
	if budgetResult.Warning != "" {
		log.Warn(ctx, budgetResult.Warning, "totalTokens", budgetResult.TotalTokens)
	}

	if opts.DryRun {
		log.Info(ctx, "dry run: plan validated, no remote calls made",
			"totalTokens", budgetResult.TotalTokens, "config", cfg.String())
		return engine.Result{RawText: "dry run: no remote calls were made"}, nil
	}

	runID := uuid.NewString()
	log.Info(ctx, "starting run", "runId", runID, "model", opts.Model)

	backend := openaifiles.New(openaifiles.Options{APIKey: opts.APIKey, BaseURL: opts.BaseURL})
	uploader := &progressUploader{
		Uploader: backend,
		bar:      newProgressBar(-1, "uploading attachments"),
	}

	uploadMgr := upload.NewManager(uploader, idResolver, log)
	if err := uploadMgr.Register(plan); err != nil {
		return engine.Result{}, err
	}

	remoteEndpoints, err := buildRemoteEndpoints(opts)
	if err != nil {
		return engine.Result{}, err
	}
	if err := safeguard.ValidatePolicies(remotePolicies(remoteEndpoints)); err != nil {
		return engine.Result{}, err
	}

	if plan.HasTool(routing.ToolCodeExec) {
		if _, err := uploadMgr.UploadFor(ctx, routing.ToolCodeExec); err != nil {
			return engine.Result{}, err
		}
	}
	if plan.HasTool(routing.ToolRetrieval) {
		if _, err := uploadMgr.UploadFor(ctx, routing.ToolRetrieval); err != nil {
			return engine.Result{}, err
		}
	}

	cont := container.New(container.Config{
		Uploads: uploadMgr,
		Log:     log,
		CodeExec: func() (*codeexec.Driver, error) {
			return codeexec.New(codeexec.Options{
				Fetcher: backend, APIKey: opts.APIKey, BaseURL: opts.BaseURL,
				OutputDir: opts.OutputDir,
				Collision: codeexec.CollisionStrategy(cfg.Tools.CodeExec.Collision),
				Validation: codeexec.ValidationLevel(cfg.Tools.CodeExec.Validation),
				Log: log,
			}), nil
		},
		Retrieval: func() (*retrieval.Driver, error) {
			return retrieval.New(retrieval.Options{Backend: backend, Log: log}), nil
		},
		Remote: func() (*remote.Adapter, error) {
			return remote.New(remoteEndpoints)
		},
	})

	var tools []json.RawMessage
	if plan.HasTool(routing.ToolCodeExec) {
		driver, err := cont.CodeExec()
		if err != nil {
			return engine.Result{}, err
		}
		ids := uploadMgr.IDsFor(routing.ToolCodeExec)
		for _, id := range ids {
			driver.TrackUpload(id)
		}
		raw, err := json.Marshal(codeexec.BuildToolConfig(ids))
		if err != nil {
			return engine.Result{}, errs.Wrap(errs.KindInternal, err, "failed to marshal code-exec tool config")
		}
		tools = append(tools, raw)
	}
	if plan.HasTool(routing.ToolRetrieval) {
		driver, err := cont.Retrieval()
		if err != nil {
			return engine.Result{}, err
		}
		ids := uploadMgr.IDsFor(routing.ToolRetrieval)
		toolCfg, err := driver.SetupWithIDs(ctx, "structrun-"+runID[:8], cfg.Tools.Retrieval.VectorStoreTTL, ids)
		if err != nil {
			return engine.Result{}, err
		}
		raw, err := json.Marshal(toolCfg)
		if err != nil {
			return engine.Result{}, errs.Wrap(errs.KindInternal, err, "failed to marshal retrieval tool config")
		}
		tools = append(tools, raw)
	}
	if plan.HasTool(routing.ToolWebSearch) {
		switch {
		case !modelCapabilities(opts.Model).SupportsWebSearch:
			log.Warn(ctx, "web search requested but the model does not support it; skipping", "model", opts.Model)
		case strings.Contains(strings.ToLower(opts.BaseURL), "azure"):
			// Web search on Azure-hosted endpoints is unreliable enough that
			// the tool is withheld there.
			log.Warn(ctx, "web search is not enabled on Azure-hosted endpoints; skipping")
		default:
			raw, _ := json.Marshal(map[string]string{"kind": "web_search"})
			tools = append(tools, raw)
		}
	}
	if plan.HasTool(routing.ToolRemoteTool) {
		adapter, err := cont.Remote()
		if err != nil {
			return engine.Result{}, err
		}
		for _, tc := range adapter.ToolConfigs() {
			raw, err := json.Marshal(tc)
			if err != nil {
				return engine.Result{}, errs.Wrap(errs.KindInternal, err, "failed to marshal remote tool config")
			}
			tools = append(tools, raw)
		}
	}

	client, err := buildLLMClient(opts)
	if err != nil {
		return engine.Result{}, err
	}

	schemaAbs, err := gate.Resolve(ctx, opts.SchemaPath)
	if err != nil {
		return engine.Result{}, err
	}
	schemaName, schemaRoot, err := loadSchemaFile(schemaAbs)
	if err != nil {
		return engine.Result{}, err
	}

	safe := safeguard.New(opts.Timeout)
	eng := engine.New(client, cont, safe, log)

	strategy := engine.DownloadStrategy(cfg.Tools.CodeExec.DownloadStrategy)
	if opts.CIDownloadHack {
		strategy = engine.StrategyTwoPassSentinel
	}
	if opts.DownloadStrategy != "" {
		strategy = engine.DownloadStrategy(opts.DownloadStrategy)
	}

	result, err := eng.Run(ctx, engine.Request{
		Model:        opts.Model,
		SchemaName:   schemaName,
		Schema:       schemaRoot,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Params: engine.Params{
			Temperature: opts.Temperature, TopP: opts.TopP,
			FrequencyPenalty: opts.FrequencyPenalty, PresencePenalty: opts.PresencePenalty,
			MaxOutputTokens: opts.MaxOutputTokens, ReasoningEffort: opts.ReasoningEffort,
		},
		Capabilities:     modelCapabilities(opts.Model),
		Tools:            tools,
		HasCodeExec:      plan.HasTool(routing.ToolCodeExec),
		DownloadStrategy: strategy,
	})
	if err != nil {
		return engine.Result{}, err
	}
	return result, nil
}

// progressUploader decorates the remote transport with a progress tick per
// completed transfer. Delete passes through untouched via the embedded
// Uploader.
type progressUploader struct {
	upload.Uploader
	bar *progressbar.ProgressBar
}

func (p *progressUploader) Upload(ctx context.Context, path string) (string, error) {
	id, err := p.Uploader.Upload(ctx, path)
	if err == nil {
		_ = p.bar.Add(1)
	}
	return id, err
}

// resolveAttachments converts the CLI's raw attachment arguments into
// resolved AttachmentSpecs, enforcing the security gate on every path.
func resolveAttachments(ctx context.Context, resolver *attach.Resolver, opts *runOptions) ([]attach.AttachmentSpec, []string, error) {
	var specs []attach.AttachmentSpec
	var warnings []string

	for _, a := range opts.Attachments {
		if a.isDir {
			spec, err := resolver.ResolveDir(ctx, attach.DirRequest{
				Alias: a.alias, Path: a.path, Targets: a.targets,
				Recursive: a.recursive, Glob: a.glob,
			})
			if err != nil {
				return nil, nil, err
			}
			specs = append(specs, spec)
			continue
		}
		spec, err := resolver.ResolveFile(ctx, attach.FileRequest{Alias: a.alias, Path: a.path, Targets: a.targets})
		if err != nil {
			return nil, nil, err
		}
		specs = append(specs, spec)
	}

	for _, c := range opts.Collections {
		collected, warns, err := resolver.ResolveCollection(ctx, attach.CollectRequest{
			Alias: c.alias, FilelistPath: c.path, Targets: c.targets,
		})
		if err != nil {
			return nil, nil, err
		}
		specs = append(specs, collected...)
		warnings = append(warnings, warns...)
	}

	return specs, warnings, nil
}

func buildRemoteEndpoints(opts *runOptions) ([]remote.Endpoint, error) {
	var endpoints []remote.Endpoint
	for _, spec := range opts.MCPServers {
		ep, err := remote.ParseEndpoint(spec)
		if err != nil {
			return nil, err
		}
		ep.AllowedTools = opts.MCPAllowed[ep.Label]
		ep.Headers = opts.MCPHeaders[ep.Label]
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func remotePolicies(endpoints []remote.Endpoint) []safeguard.ToolPolicy {
	out := make([]safeguard.ToolPolicy, 0, len(endpoints))
	for _, ep := range endpoints {
		mode := ep.RequestedApprovalMode
		if mode == "" {
			mode = "never"
		}
		out = append(out, safeguard.ToolPolicy{Label: ep.Label, ApprovalMode: mode})
	}
	return out
}

func buildLLMClient(opts *runOptions) (llm.Client, error) {
	switch opts.Provider {
	case "anthropic":
		return anthropicclient.New(anthropicclient.Options{APIKey: opts.APIKey, DefaultModel: opts.Model})
	case "openai", "":
		return openaiclient.New(openaiclient.Options{APIKey: opts.APIKey, DefaultModel: opts.Model})
	default:
		return nil, errs.New(errs.KindUsageError, "unknown provider %q (expected openai or anthropic)", opts.Provider)
	}
}

// writeResult materialises the engine's validated output: an empty
// outputPath writes to stdout; a non-empty path writes the
// JSON document there instead, and progress/warning lines always go to
// stderr regardless of the sink.
func writeResult(result engine.Result, outputPath string) error {
	sink := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath) // #nosec G304 -- user-specified output sink, not an attachment
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "failed to open output file %q", outputPath)
		}
		defer f.Close()
		sink = f
	}

	enc := json.NewEncoder(sink)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result.Output); err != nil {
		return errs.Wrap(errs.KindInternal, err, "failed to write result")
	}
	for _, w := range result.Warnings {
		fmt.Fprintln(os.Stderr, paintWarn("warning: "+w))
	}
	for _, f := range result.DownloadedFiles {
		fmt.Fprintln(os.Stderr, paintInfo("downloaded: "+filepath.Base(f)))
	}
	return nil
}

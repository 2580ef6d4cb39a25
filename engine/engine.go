// Package engine drives a complete structured-output run: schema
// strictification, parameter admission, single-pass and two-pass sentinel
// execution, response parsing/validation, and guaranteed cleanup.
package engine

import (
	"context"
	"encoding/json"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/structrun/structrun/container"
	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/llm"
	"github.com/structrun/structrun/safeguard"
	"github.com/structrun/structrun/schema"
	"github.com/structrun/structrun/telemetry"
	"github.com/structrun/structrun/tools/codeexec"
)

// DownloadStrategy selects how code-exec artifacts are recovered. The
// effective strategy is the config default overridden by the
// ci-download-hack feature flag; that selection happens in the caller
// (cmd/structrun), which passes the resolved value here.
type DownloadStrategy string

const (
	StrategySinglePass      DownloadStrategy = "single_pass"
	StrategyTwoPassSentinel DownloadStrategy = "two_pass_sentinel"
)

// Request is everything the Engine needs to drive a single run, after the
// Attachment Resolver, Routing Planner, Token Budget Validator, and Shared
// Upload Manager have already approved the plan and resolved every tool's
// ToolConfig. The Engine itself never uploads a
// file or creates a vector store — those belong to C6/C8 — it only
// assembles the already-built tool descriptors into the wire request.
type Request struct {
	Model            string
	SchemaName       string
	Schema           map[string]any
	SystemPrompt     string
	UserPrompt       string
	Params           Params
	Capabilities     Capabilities
	Tools            []json.RawMessage
	HasCodeExec      bool
	DownloadStrategy DownloadStrategy
}

// Result is the materialised outcome of a run: the
// validated JSON document plus any code-exec artifacts recovered.
type Result struct {
	Output          map[string]any
	OutputJSON      []byte
	RawText         string
	MarkdownTail    string
	DownloadedFiles []string
	Warnings        []string
	UsedStrategy    DownloadStrategy
}

// Engine drives one end-to-end run: schema strictification, the LLM
// call(s), response parsing/validation, and cleanup.
type Engine struct {
	client    llm.Client
	container *container.Container
	safe      *safeguard.Safeguard
	log       telemetry.Logger
}

// New constructs an Engine.
func New(client llm.Client, c *container.Container, safe *safeguard.Safeguard, log telemetry.Logger) *Engine {
	if log == nil {
		log = telemetry.NopLogger{}
	}
	if safe == nil {
		safe = safeguard.New(safeguard.DefaultTimeout)
	}
	return &Engine{client: client, container: c, safe: safe, log: log}
}

// Run executes req end to end under the Engine's Safeguard, guaranteeing
// cleanup via ShieldedCleanup on every exit path.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	var result Result
	err := e.safe.Execute(ctx, "structured-output run", func(rctx context.Context) error {
		var runErr error
		result, runErr = e.run(rctx, req)
		return runErr
	})
	e.safe.ShieldedCleanup(ctx, func(cctx context.Context) {
		e.container.Cleanup(cctx)
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, req Request) (Result, error) {
	// E1: strictify + structural-limit validation.
	envelope, err := schema.Strictify(req.SchemaName, req.Schema)
	if err != nil {
		return Result{}, err
	}
	compiledSchemaBytes, err := json.Marshal(envelope.Schema)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindSchemaInvalid, err, "failed to marshal strictified schema")
	}
	compiled, err := schema.Compile(compiledSchemaBytes)
	if err != nil {
		return Result{}, err
	}

	// E2: parameter admission.
	admitted, err := AdmitParams(req.Capabilities, req.Params)
	if err != nil {
		return Result{}, err
	}
	for _, w := range admitted.Warnings {
		e.log.Warn(ctx, w)
	}

	format := &llm.SchemaFormat{Name: envelope.Name, Schema: envelope.Schema, Strict: envelope.Strict}
	strategy := req.DownloadStrategy
	if strategy == StrategyTwoPassSentinel && (!req.HasCodeExec || req.Schema == nil) {
		strategy = StrategySinglePass
	}

	var res Result
	if strategy == StrategyTwoPassSentinel {
		res, err = e.runTwoPass(ctx, req, admitted.Params, format, compiled)
	} else {
		res, err = e.runSinglePass(ctx, req, admitted.Params, format, compiled)
	}
	if err != nil {
		return Result{}, err
	}
	res.Warnings = append(res.Warnings, admitted.Warnings...)
	return res, nil
}

func (e *Engine) runSinglePass(ctx context.Context, req Request, params Params, format *llm.SchemaFormat, compiled *jsonschema.Schema) (Result, error) {
	llmReq := llm.Request{
		Model:            req.Model,
		Input:            []llm.Message{{Role: "system", Content: req.SystemPrompt}, {Role: "user", Content: req.UserPrompt}},
		Schema:           format,
		Tools:            req.Tools,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		MaxOutputTokens:  params.MaxOutputTokens,
		ReasoningEffort:  params.ReasoningEffort,
	}
	resp, err := e.client.CreateResponse(ctx, llmReq)
	if err != nil {
		return Result{}, err
	}

	parsed, err := ParseResponse(resp.OutputText, req.HasCodeExec)
	if err != nil {
		return Result{}, err
	}
	payload, err := json.Marshal(parsed.Data)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, err, "failed to re-marshal parsed response")
	}
	if err := schema.Validate(compiled, payload); err != nil {
		return Result{}, err
	}

	var downloaded []string
	if req.HasCodeExec {
		downloaded = e.downloadArtifacts(ctx, resp)
	}

	return Result{
		Output:          parsed.Data,
		OutputJSON:      payload,
		RawText:         resp.OutputText,
		MarkdownTail:    parsed.MarkdownTail,
		DownloadedFiles: downloaded,
		UsedStrategy:    StrategySinglePass,
	}, nil
}

// runTwoPass runs the sentinel protocol: a raw pass 1 (no schema
// constraint) to preserve the code-exec annotations strict mode would
// otherwise suppress, sentinel extraction, artifact download against the
// pass-1 response, then a strict pass 2 reusing the pass-1 payload. A
// missing or malformed sentinel block falls back to single-pass mode
// rather than failing the run.
func (e *Engine) runTwoPass(ctx context.Context, req Request, params Params, format *llm.SchemaFormat, compiled *jsonschema.Schema) (Result, error) {
	pass1Req := llm.Request{
		Model: req.Model,
		Input: []llm.Message{{Role: "system", Content: req.SystemPrompt}, {Role: "user", Content: req.UserPrompt}},
		Tools: req.Tools,
	}
	pass1Resp, err := e.client.CreateResponse(ctx, pass1Req)
	if err != nil {
		return Result{}, err
	}

	data, ok := ExtractSentinel(pass1Resp.OutputText)
	if !ok {
		e.log.Warn(ctx, "no sentinel JSON found in first pass, falling back to single-pass mode")
		res, err := e.runSinglePass(ctx, req, params, format, compiled)
		if err != nil {
			return Result{}, err
		}
		res.UsedStrategy = StrategySinglePass
		return res, nil
	}

	downloaded := e.downloadArtifacts(ctx, pass1Resp)

	reuse, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, err, "failed to marshal pass-1 sentinel payload")
	}
	strictSystem := req.SystemPrompt + "\n\nReuse ONLY these values; do not repeat external calls:\n" + string(reuse)

	pass2Req := llm.Request{
		Model:            req.Model,
		Input:            []llm.Message{{Role: "system", Content: strictSystem}, {Role: "user", Content: req.UserPrompt}},
		Schema:           format,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		MaxOutputTokens:  params.MaxOutputTokens,
		ReasoningEffort:  params.ReasoningEffort,
	}
	pass2Resp, err := e.client.CreateResponse(ctx, pass2Req)
	if err != nil {
		return Result{}, err
	}

	parsed, err := ParseResponse(pass2Resp.OutputText, false)
	if err != nil {
		return Result{}, err
	}
	payload, err := json.Marshal(parsed.Data)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, err, "failed to re-marshal parsed response")
	}
	if err := schema.Validate(compiled, payload); err != nil {
		return Result{}, err
	}

	return Result{
		Output:          parsed.Data,
		OutputJSON:      payload,
		RawText:         pass2Resp.OutputText,
		MarkdownTail:    parsed.MarkdownTail,
		DownloadedFiles: downloaded,
		UsedStrategy:    StrategyTwoPassSentinel,
	}, nil
}

// downloadArtifacts extracts container-file citations from resp and
// downloads each one via the code-exec driver, logging (never failing the
// run on) individual download errors — artifact recovery is best-effort
// relative to the structured-output result itself.
func (e *Engine) downloadArtifacts(ctx context.Context, resp llm.Response) []string {
	driver, err := e.container.CodeExec()
	if err != nil {
		return nil
	}
	citations := codeexec.ExtractCitations(resp)
	var paths []string
	for _, cite := range citations {
		path, err := driver.Download(ctx, cite)
		if err != nil {
			e.log.Warn(ctx, "failed to download code-exec artifact", "fileId", cite.FileID, "error", err)
			continue
		}
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

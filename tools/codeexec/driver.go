// Package codeexec implements the code-executor tool driver: it wraps the
// remote code-execution tool, extracts file annotations
// from model responses, downloads generated artifacts, and resolves name
// collisions in the output directory.
package codeexec

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/llm"
	"github.com/structrun/structrun/telemetry"
)

// maxDownloadBytes is the hard ceiling enforced on the direct HTTPS
// fallback download path.
const maxDownloadBytes = 100 * 1024 * 1024

// CollisionStrategy controls how a downloaded artifact name that already
// exists in the output directory is handled.
type CollisionStrategy string

const (
	CollisionOverwrite CollisionStrategy = "OVERWRITE"
	CollisionRename    CollisionStrategy = "RENAME"
	CollisionSkip      CollisionStrategy = "SKIP"
)

// ValidationLevel controls which post-download advisory warnings fire.
type ValidationLevel string

const (
	ValidationOff   ValidationLevel = "OFF"
	ValidationBasic ValidationLevel = "BASIC"
	ValidationStrict ValidationLevel = "STRICT"
)

// ToolConfig is the opaque descriptor sent to the remote LLM for the
// code-execution tool.
type ToolConfig struct {
	Kind      string   `json:"kind"`
	Container struct {
		Mode    string   `json:"mode"`
		FileIDs []string `json:"fileIds"`
	} `json:"container"`
}

// BuildToolConfig builds the ToolConfig for the given remote file ids.
func BuildToolConfig(fileIDs []string) ToolConfig {
	cfg := ToolConfig{Kind: "code_exec"}
	cfg.Container.Mode = "auto"
	cfg.Container.FileIDs = fileIDs
	return cfg
}

// ContainerFileCitation is a container_file_citation annotation recovered
// from a model response.
type ContainerFileCitation struct {
	FileID      string
	ContainerID string
	Filename    string
}

// ContentFetcher performs the SDK-backed content fetch for a citation.
// Drivers fall back to the direct HTTPS path when this returns an error.
type ContentFetcher interface {
	FetchContainerFile(ctx context.Context, containerID, fileID string) (io.ReadCloser, error)
	FetchFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// ExtractCitations walks resp's output items of kind message and
// code_exec_call, collecting
// every container_file_citation annotation plus every tool-call output of
// type file (which carries no container id). Entries whose FileID is
// empty are skipped; duplicate citations (same FileID+ContainerID) are
// deduplicated, first occurrence wins, preserving response order.
func ExtractCitations(resp llm.Response) []ContainerFileCitation {
	seen := make(map[string]struct{})
	var out []ContainerFileCitation
	add := func(cite ContainerFileCitation) {
		key := cite.ContainerID + "/" + cite.FileID
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, cite)
	}
	for _, item := range resp.Output {
		if item.Type != "message" && item.Type != "code_exec_call" {
			continue
		}
		for _, block := range item.Content {
			for _, ann := range block.Annotations {
				if ann.Type != "container_file_citation" || ann.FileID == "" {
					continue
				}
				add(ContainerFileCitation{
					FileID:      ann.FileID,
					ContainerID: ann.ContainerID,
					Filename:    ann.Filename,
				})
			}
		}
		if item.Type != "code_exec_call" {
			continue
		}
		for _, o := range item.Outputs {
			if o.Type != "file" || o.FileID == "" {
				continue
			}
			name := o.Filename
			if name == "" {
				name = o.FileID
			}
			add(ContainerFileCitation{FileID: o.FileID, Filename: name})
		}
	}
	return out
}

// Driver downloads code-execution artifacts and tracks uploaded file ids
// for cleanup.
type Driver struct {
	fetcher    ContentFetcher
	httpClient *http.Client
	baseURL    string
	apiKey     string
	outDir     string
	collision  CollisionStrategy
	validation ValidationLevel
	log        telemetry.Logger

	uploadedIDs []string
}

// Options configures a Driver.
type Options struct {
	Fetcher    ContentFetcher
	HTTPClient *http.Client
	// BaseURL overrides the container-files API origin, for tests. Defaults
	// to the real OpenAI API origin.
	BaseURL    string
	APIKey     string
	OutputDir  string
	Collision  CollisionStrategy
	Validation ValidationLevel
	Log        telemetry.Logger
}

const defaultBaseURL = "https://api.openai.com/v1"

// New constructs a Driver.
func New(opts Options) *Driver {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Collision == "" {
		opts.Collision = CollisionOverwrite
	}
	if opts.Validation == "" {
		opts.Validation = ValidationBasic
	}
	if opts.Log == nil {
		opts.Log = telemetry.NopLogger{}
	}
	return &Driver{
		fetcher:    opts.Fetcher,
		httpClient: opts.HTTPClient,
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		outDir:     opts.OutputDir,
		collision:  opts.Collision,
		validation: opts.Validation,
		log:        opts.Log,
	}
}

// TrackUpload records a file id so the driver can clean it up later.
func (d *Driver) TrackUpload(fileID string) {
	d.uploadedIDs = append(d.uploadedIDs, fileID)
}

// Download fetches the artifact for a citation and writes it to the
// driver's output directory, honouring the configured collision strategy.
// It prefers the SDK-backed ContentFetcher and falls back to a direct
// authenticated HTTPS GET of the container-files content endpoint.
func (d *Driver) Download(ctx context.Context, cite ContainerFileCitation) (string, error) {
	rc, err := d.fetchViaSDK(ctx, cite)
	if err != nil {
		rc, err = d.fetchDirect(ctx, cite)
		if err != nil {
			return "", err
		}
	}
	defer rc.Close()

	dest, err := d.resolveDestination(cite.Filename)
	if err != nil {
		return "", err
	}
	if dest == "" {
		return "", nil // SKIP collision strategy
	}

	f, err := os.Create(dest) // #nosec G304 -- dest derived from configured output dir + sanitised filename
	if err != nil {
		return "", errs.Wrap(errs.KindDownloadFailed, err, "cannot create output file %q", dest)
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(rc, maxDownloadBytes+1)); err != nil {
		return "", errs.Wrap(errs.KindDownloadFailed, err, "failed writing artifact %q", dest)
	}
	d.warnOnValidation(dest)
	return dest, nil
}

func (d *Driver) fetchViaSDK(ctx context.Context, cite ContainerFileCitation) (io.ReadCloser, error) {
	if d.fetcher == nil {
		return nil, fmt.Errorf("no SDK fetcher configured")
	}
	if strings.HasPrefix(cite.FileID, "cfile_") {
		return d.fetcher.FetchContainerFile(ctx, cite.ContainerID, cite.FileID)
	}
	return d.fetcher.FetchFile(ctx, cite.FileID)
}

func (d *Driver) fetchDirect(ctx context.Context, cite ContainerFileCitation) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/containers/%s/files/%s/content", d.baseURL, cite.ContainerID, cite.FileID)

	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadFailed, err, "building HEAD request")
	}
	headReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	if headResp, err := d.httpClient.Do(headReq); err == nil {
		defer headResp.Body.Close()
		if headResp.StatusCode == http.StatusTooManyRequests {
			return nil, errs.New(errs.KindRateLimited, "rate limited while checking artifact size")
		}
		if cl := headResp.Header.Get("Content-Length"); cl != "" {
			if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil && n > maxDownloadBytes {
				return nil, errs.New(errs.KindDownloadFailed, "artifact %s is %d bytes, exceeding the %d byte ceiling", cite.FileID, n, maxDownloadBytes)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadFailed, err, "building GET request")
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadFailed, err, "network error downloading artifact %s", cite.FileID)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, errs.New(errs.KindContainerExpired, "container %s expired or file %s not found", cite.ContainerID, cite.FileID)
	case http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, errs.New(errs.KindRateLimited, "rate limited downloading artifact %s", cite.FileID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errs.New(errs.KindDownloadFailed, "download failed: %d - %s", resp.StatusCode, errs.Sanitize(string(body)))
	}
}

func (d *Driver) resolveDestination(filename string) (string, error) {
	base := filepath.Base(filename)
	dest := filepath.Join(d.outDir, base)
	if _, err := os.Stat(dest); err != nil {
		return dest, nil // no collision
	}
	switch d.collision {
	case CollisionOverwrite:
		return dest, nil
	case CollisionSkip:
		return "", nil
	case CollisionRename:
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		for i := 1; ; i++ {
			candidate := filepath.Join(d.outDir, fmt.Sprintf("%s_%d%s", stem, i, ext))
			if _, err := os.Stat(candidate); err != nil {
				return candidate, nil
			}
		}
	default:
		return dest, nil
	}
}

func (d *Driver) warnOnValidation(path string) {
	if d.validation == ValidationOff {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Size() > maxDownloadBytes {
		d.log.Warn(context.Background(), "downloaded artifact exceeds 100 MiB", "path", path)
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		d.log.Warn(context.Background(), "downloaded artifact is a hidden file", "path", path)
	}
	if d.validation == ValidationStrict {
		if isExecutableExt(base) {
			d.log.Warn(context.Background(), "downloaded artifact has an executable extension", "path", path)
		}
		if strings.Count(base, ".") > 1 {
			d.log.Warn(context.Background(), "downloaded artifact has a multi-dot filename", "path", path)
		}
	}
}

var executableExts = map[string]struct{}{
	".exe": {}, ".sh": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".msi": {},
}

func isExecutableExt(name string) bool {
	_, ok := executableExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Cleanup deletes every uploaded file id via deleter, never raising.
func (d *Driver) Cleanup(ctx context.Context, deleter func(ctx context.Context, fileID string) error) {
	for _, id := range d.uploadedIDs {
		if err := deleter(ctx, id); err != nil {
			d.log.Warn(ctx, "cleanup: failed to delete code-exec upload", "fileId", id, "error", err)
		}
	}
}

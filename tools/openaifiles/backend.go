// Package openaifiles is the concrete remote-transport implementation the
// shared upload manager and retrieval driver drive through
// their narrow Uploader/Backend interfaces. It also satisfies the
// code-exec driver's ContentFetcher, so a single backend instance covers
// every "files" and "vector_stores" wire call the pipeline makes.
//
// It speaks the documented REST shape directly with net/http rather than
// through the openai-go SDK client: the SDK's Responses service already
// covers the LLM call itself (llm/openaiclient), but its Files/VectorStores
// surface is not exercised anywhere else in this module, and
// tools/codeexec/driver.go already establishes the pattern of a direct,
// authenticated HTTPS client for this exact family of endpoints (the
// container-files content fallback). Reusing that pattern here avoids
// pulling in SDK machinery for a handful of narrow, already-documented REST calls.
package openaifiles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/tools/retrieval"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Backend implements upload.Uploader, retrieval.Backend, and
// codeexec.ContentFetcher against the OpenAI REST API.
type Backend struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Options configures a Backend.
type Options struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
}

// New constructs a Backend.
func New(opts Options) *Backend {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 300 * time.Second} // remote HTTP calls are capped at 5 min
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	return &Backend{httpClient: opts.HTTPClient, baseURL: opts.BaseURL, apiKey: opts.APIKey}
}

func (b *Backend) authHeader(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "structrun/1.0")
}

// Upload implements upload.Uploader: a multipart POST to /files with
// purpose=assistants.
func (b *Backend) Upload(ctx context.Context, path string) (string, error) {
	return b.uploadFile(ctx, path)
}

// UploadFile implements retrieval.Backend's own upload step identically;
// the retrieval driver's pre-validated files go through the same endpoint
// as code-exec's shared uploads.
func (b *Backend) UploadFile(ctx context.Context, path string) (string, error) {
	return b.uploadFile(ctx, path)
}

func (b *Backend) uploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path passed the security gate upstream
	if err != nil {
		return "", errs.Wrap(errs.KindUploadFailed, err, "cannot open %q for upload", path)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", errs.Wrap(errs.KindUploadFailed, err, "failed to build upload request")
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", errs.Wrap(errs.KindUploadFailed, err, "failed to build upload request")
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", errs.Wrap(errs.KindUploadFailed, err, "failed reading %q", path)
	}
	if err := mw.Close(); err != nil {
		return "", errs.Wrap(errs.KindUploadFailed, err, "failed to build upload request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/files", &body)
	if err != nil {
		return "", errs.Wrap(errs.KindUploadFailed, err, "failed to build upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	b.authHeader(req)

	var out struct {
		ID string `json:"id"`
	}
	if err := b.do(req, &out); err != nil {
		return "", classify(err, errs.KindUploadFailed, "upload of %q failed", path)
	}
	return out.ID, nil
}

// Delete implements upload.Uploader.
func (b *Backend) Delete(ctx context.Context, remoteID string) error {
	return b.deleteResource(ctx, "/files/"+remoteID)
}

// DeleteFile implements retrieval.Backend.
func (b *Backend) DeleteFile(ctx context.Context, fileID string) error {
	return b.deleteResource(ctx, "/files/"+fileID)
}

func (b *Backend) deleteResource(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.baseURL+path, nil)
	if err != nil {
		return err
	}
	b.authHeader(req)
	return b.do(req, nil)
}

// CreateVectorStore implements retrieval.Backend's create-with-expiry
// call.
func (b *Backend) CreateVectorStore(ctx context.Context, name string, ttl time.Duration) (string, error) {
	payload := map[string]any{
		"name": name,
		"expires_after": map[string]any{
			"anchor": "last_active_at",
			"days":   int(ttl.Hours() / 24),
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/vector_stores", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	b.authHeader(req)

	var out struct {
		ID string `json:"id"`
	}
	if err := b.do(req, &out); err != nil {
		return "", classify(err, errs.KindVectorStoreFailed, "vector store creation failed")
	}
	return out.ID, nil
}

// AttachFileBatch implements retrieval.Backend's file-batch attach call.
func (b *Backend) AttachFileBatch(ctx context.Context, storeID string, fileIDs []string) error {
	payload := map[string]any{"file_ids": fileIDs}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/vector_stores/%s/file_batches", b.baseURL, storeID), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	b.authHeader(req)
	if err := b.do(req, nil); err != nil {
		return classify(err, errs.KindVectorStoreFailed, "attaching files to vector store %q failed", storeID)
	}
	return nil
}

// VectorStoreStatus implements retrieval.Backend's status poll.
func (b *Backend) VectorStoreStatus(ctx context.Context, storeID string) (retrieval.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/vector_stores/"+storeID, nil)
	if err != nil {
		return "", err
	}
	b.authHeader(req)

	var out struct {
		Status string `json:"status"`
	}
	if err := b.do(req, &out); err != nil {
		return "", classify(err, errs.KindVectorStoreFailed, "vector store status poll failed")
	}
	switch out.Status {
	case "in_progress":
		return retrieval.StatusIndexing, nil
	case "completed":
		return retrieval.StatusReady, nil
	case "failed", "expired", "cancelled":
		return retrieval.StatusFailed, nil
	default:
		return retrieval.StatusCreating, nil
	}
}

// DeleteVectorStore implements retrieval.Backend.
func (b *Backend) DeleteVectorStore(ctx context.Context, storeID string) error {
	return b.deleteResource(ctx, "/vector_stores/"+storeID)
}

// FetchContainerFile implements codeexec.ContentFetcher for a container
// file id (`cfile_`-prefixed).
func (b *Backend) FetchContainerFile(ctx context.Context, containerID, fileID string) (io.ReadCloser, error) {
	return b.fetch(ctx, fmt.Sprintf("%s/containers/%s/files/%s/content", b.baseURL, containerID, fileID))
}

// FetchFile implements codeexec.ContentFetcher for a regular uploaded file.
func (b *Backend) FetchFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return b.fetch(ctx, fmt.Sprintf("%s/files/%s/content", b.baseURL, fileID))
}

func (b *Backend) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	b.authHeader(req)
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d fetching %s: %s", resp.StatusCode, url, body)
	}
	return resp.Body, nil
}

// do sends req and decodes a 2xx JSON body into out (when non-nil),
// returning a descriptive error (including the response body) otherwise.
func (b *Backend) do(req *http.Request, out any) error {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func classify(cause error, kind errs.Kind, format string, args ...any) error {
	return errs.Wrap(kind, cause, format, args...)
}

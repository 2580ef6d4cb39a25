// Package retrieval implements the retrieval tool driver: it creates a
// vector store, uploads files to it with retry, polls
// for readiness, builds the tool config, and tears everything down on
// cleanup.
package retrieval

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/telemetry"
)

// maxFileBytes rejects files exceeding this size during pre-validation.
const maxFileBytes = 100 * 1024 * 1024

// Status is a vector store's indexing state.
type Status string

const (
	StatusCreating Status = "CREATING"
	StatusIndexing Status = "INDEXING"
	StatusReady    Status = "READY"
	StatusFailed   Status = "FAILED"
)

// Backend captures the subset of a vector-store API used by the driver.
// Production callers implement this against the OpenAI vector-stores API;
// tests supply a stub.
type Backend interface {
	CreateVectorStore(ctx context.Context, name string, ttl time.Duration) (storeID string, err error)
	UploadFile(ctx context.Context, path string) (fileID string, err error)
	AttachFileBatch(ctx context.Context, storeID string, fileIDs []string) error
	VectorStoreStatus(ctx context.Context, storeID string) (Status, error)
	DeleteFile(ctx context.Context, fileID string) error
	DeleteVectorStore(ctx context.Context, storeID string) error
}

// RetryPolicy configures the exponential backoff used for vector-store
// creation and file uploads (default 3 attempts, initial
// delay 1s, factor 2). MaxAttempts bounds the total calls made, first
// attempt included.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64
}

// DefaultRetryPolicy returns the standard retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, Factor: 2}
}

// PollPolicy configures vector-store readiness polling.
type PollPolicy struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultPollPolicy returns the standard poll configuration (60s timeout, 2s
// interval).
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Timeout: 60 * time.Second, Interval: 2 * time.Second}
}

// ToolConfig is the opaque descriptor sent to the remote LLM for the
// retrieval tool.
type ToolConfig struct {
	Kind     string   `json:"kind"`
	StoreIDs []string `json:"storeIds"`
}

// sleeper is overridable in tests to avoid real sleeps.
type sleeper func(time.Duration)

// Driver owns the vector store and uploaded file ids created during a run.
type Driver struct {
	backend Backend
	retry   RetryPolicy
	poll    PollPolicy
	log     telemetry.Logger
	sleep   sleeper

	storeID     string
	uploadedIDs []string
}

// Options configures a Driver.
type Options struct {
	Backend     Backend
	Retry       RetryPolicy
	Poll        PollPolicy
	Log         telemetry.Logger
}

// New constructs a Driver.
func New(opts Options) *Driver {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Poll.Timeout == 0 {
		opts.Poll = DefaultPollPolicy()
	}
	if opts.Log == nil {
		opts.Log = telemetry.NopLogger{}
	}
	return &Driver{backend: opts.Backend, retry: opts.Retry, poll: opts.Poll, log: opts.Log, sleep: time.Sleep}
}

// ValidateFile pre-validates a file for retrieval upload: empty files,
// oversize files, and missing paths are rejected; unsupported extensions
// only warn.
func (d *Driver) ValidateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errs.Wrap(errs.KindNotFound, err, "retrieval attachment %q does not exist", path)
	}
	if info.Size() == 0 {
		return errs.New(errs.KindUploadFailed, "retrieval attachment %q is empty", path)
	}
	if info.Size() > maxFileBytes {
		return errs.New(errs.KindUploadFailed, "retrieval attachment %q is %d bytes, exceeding the %d byte limit", path, info.Size(), maxFileBytes)
	}
	return nil
}

// Setup creates the vector store, uploads every file in paths, attaches
// them, and waits (bounded by PollPolicy) for the store to become ready.
// A timeout while waiting is logged as a warning, not an error — indexing
// is usually already queryable.
func (d *Driver) Setup(ctx context.Context, name string, ttl time.Duration, paths []string) (ToolConfig, error) {
	storeID, err := d.retryOp(ctx, func() (string, error) {
		return d.backend.CreateVectorStore(ctx, name, ttl)
	})
	if err != nil {
		return ToolConfig{}, errs.Wrap(errs.KindVectorStoreFailed, err, "failed to create vector store %q", name)
	}
	d.storeID = storeID

	fileIDs := make([]string, 0, len(paths))
	for _, p := range paths {
		if err := d.ValidateFile(p); err != nil {
			return ToolConfig{}, err
		}
		id, err := d.retryOp(ctx, func() (string, error) {
			return d.backend.UploadFile(ctx, p)
		})
		if err != nil {
			return ToolConfig{}, errs.Wrap(errs.KindUploadFailed, err, "failed to upload %q for retrieval", p)
		}
		d.uploadedIDs = append(d.uploadedIDs, id)
		fileIDs = append(fileIDs, id)
	}

	if len(fileIDs) > 0 {
		if err := d.backend.AttachFileBatch(ctx, storeID, fileIDs); err != nil {
			return ToolConfig{}, errs.Wrap(errs.KindVectorStoreFailed, err, "failed to attach files to vector store %q", storeID)
		}
	}

	if err := d.waitForReady(ctx, storeID); err != nil {
		return ToolConfig{}, err
	}

	return ToolConfig{Kind: "retrieval", StoreIDs: []string{storeID}}, nil
}

// SetupWithIDs creates the vector store and attaches fileIDs without
// uploading them, for callers that already uploaded the files through the
// shared upload manager (a file attached to both
// CODE_EXEC and RETRIEVAL is uploaded exactly once). Unlike Setup, the ids
// are not recorded in uploadedIDs: Cleanup must not delete a file another
// tool may still be using, so the Shared Upload Manager retains sole
// ownership of deleting them.
func (d *Driver) SetupWithIDs(ctx context.Context, name string, ttl time.Duration, fileIDs []string) (ToolConfig, error) {
	storeID, err := d.retryOp(ctx, func() (string, error) {
		return d.backend.CreateVectorStore(ctx, name, ttl)
	})
	if err != nil {
		return ToolConfig{}, errs.Wrap(errs.KindVectorStoreFailed, err, "failed to create vector store %q", name)
	}
	d.storeID = storeID

	if len(fileIDs) > 0 {
		if err := d.backend.AttachFileBatch(ctx, storeID, fileIDs); err != nil {
			return ToolConfig{}, errs.Wrap(errs.KindVectorStoreFailed, err, "failed to attach files to vector store %q", storeID)
		}
	}

	if err := d.waitForReady(ctx, storeID); err != nil {
		return ToolConfig{}, err
	}

	return ToolConfig{Kind: "retrieval", StoreIDs: []string{storeID}}, nil
}

// waitForReady polls until storeID reaches READY or the timeout elapses.
// A FAILED status stops polling and surfaces VECTOR_STORE_FAILED; a
// timeout while still INDEXING only warns, since
// the store is usually already queryable.
func (d *Driver) waitForReady(ctx context.Context, storeID string) error {
	deadline := time.Now().Add(d.poll.Timeout)
	for time.Now().Before(deadline) {
		status, err := d.backend.VectorStoreStatus(ctx, storeID)
		if err != nil {
			d.log.Warn(ctx, "vector store status check failed", "storeId", storeID, "error", err)
			return nil
		}
		switch status {
		case StatusReady:
			return nil
		case StatusFailed:
			return errs.New(errs.KindVectorStoreFailed, "vector store %q indexing failed", storeID).With("storeId", storeID)
		}
		d.sleep(d.poll.Interval)
	}
	d.log.Warn(ctx, "vector store did not reach READY before timeout; proceeding", "storeId", storeID, "timeout", d.poll.Timeout)
	return nil
}

func (d *Driver) retryOp(ctx context.Context, op func() (string, error)) (string, error) {
	delay := d.retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		id, err := op()
		if err == nil {
			return id, nil
		}
		lastErr = err
		if attempt == d.retry.MaxAttempts {
			break
		}
		d.sleep(delay)
		delay = time.Duration(float64(delay) * d.retry.Factor)
	}
	return "", fmt.Errorf("after %d attempts: %w", d.retry.MaxAttempts, lastErr)
}

// Cleanup deletes uploaded file ids first, then the vector store; errors
// never raise.
func (d *Driver) Cleanup(ctx context.Context) {
	for _, id := range d.uploadedIDs {
		if err := d.backend.DeleteFile(ctx, id); err != nil {
			d.log.Warn(ctx, "cleanup: failed to delete retrieval upload", "fileId", id, "error", err)
		}
	}
	if d.storeID != "" {
		if err := d.backend.DeleteVectorStore(ctx, d.storeID); err != nil {
			d.log.Warn(ctx, "cleanup: failed to delete vector store", "storeId", d.storeID, "error", err)
		}
	}
}

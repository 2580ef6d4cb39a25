// Package upload implements the Shared Upload Manager:
// a single physical file maps to exactly one remote upload, shared across
// every tool that requested it, with at-most-once upload guarantees and
// best-effort, idempotent cleanup.
package upload

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/structrun/structrun/attach"
	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/fsident"
	"github.com/structrun/structrun/routing"
	"github.com/structrun/structrun/telemetry"
)

// Uploader performs the actual remote file transfer and deletion. Tool
// drivers and tests supply concrete implementations; the Manager never
// talks to a transport directly.
type Uploader interface {
	Upload(ctx context.Context, path string) (remoteID string, err error)
	Delete(ctx context.Context, remoteID string) error
}

// Record tracks one physical file's upload state. Once RemoteID is set it is
// immutable for the life of the run; PendingTools and CompletedTools are
// always disjoint.
type Record struct {
	Path           string
	Identity       fsident.Identity
	RemoteID       string
	PendingTools   map[routing.Tool]struct{}
	CompletedTools map[routing.Tool]struct{}
	SizeBytes      int64
}

// uploadableTargets maps an attach.Target to the routing.Tool it queues an
// upload for. TEMPLATE and USER_DATA attachments never need a remote
// upload — the template engine reads them locally.
var uploadableTargets = map[attach.Target]routing.Tool{
	attach.TargetCodeExec:  routing.ToolCodeExec,
	attach.TargetRetrieval: routing.ToolRetrieval,
}

// Manager owns every Record for the life of a run.
type Manager struct {
	mu           sync.Mutex
	uploads      map[string]*Record // keyed by Identity.Key()
	queue        map[routing.Tool]map[string]struct{}
	allRemoteIDs map[string]struct{}

	uploader Uploader
	resolver *fsident.Resolver
	log      telemetry.Logger
}

// NewManager constructs a Manager. resolver computes FileIdentity lazily on
// first upload consideration.
func NewManager(uploader Uploader, resolver *fsident.Resolver, log telemetry.Logger) *Manager {
	if log == nil {
		log = telemetry.NopLogger{}
	}
	return &Manager{
		uploads:      make(map[string]*Record),
		queue:        map[routing.Tool]map[string]struct{}{routing.ToolCodeExec: {}, routing.ToolRetrieval: {}},
		allRemoteIDs: make(map[string]struct{}),
		uploader:     uploader,
		resolver:     resolver,
		log:          log,
	}
}

// Register populates uploads/queue from every AttachmentSpec in plan's
// AliasMap, expanding directories into individual file identities
// (honouring Recursive and Glob). Re-registering the same identity only
// adds to PendingTools, never duplicates a Record.
func (m *Manager) Register(plan *routing.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, spec := range plan.AliasMap {
		tools := toolsFor(spec)
		if len(tools) == 0 {
			continue
		}
		if spec.Kind == attach.KindDir {
			files, err := attach.ExpandDir(spec)
			if err != nil {
				return errs.Wrap(errs.KindUploadFailed, err, "failed to expand directory %q for upload registration", spec.Path)
			}
			for _, f := range files {
				if err := m.registerFile(f, tools); err != nil {
					return err
				}
			}
			continue
		}
		if err := m.registerFile(spec.Path, tools); err != nil {
			return err
		}
	}
	return nil
}

func toolsFor(spec attach.AttachmentSpec) []routing.Tool {
	var tools []routing.Tool
	for target, tool := range uploadableTargets {
		if spec.HasTarget(target) {
			tools = append(tools, tool)
		}
	}
	return tools
}

func (m *Manager) registerFile(path string, tools []routing.Tool) error {
	identity, err := m.resolver.Identify(path)
	if err != nil {
		return errs.Wrap(errs.KindUploadFailed, err, "cannot compute file identity for %q", path)
	}
	key := identity.Key()
	rec, ok := m.uploads[key]
	if !ok {
		rec = &Record{
			Path:           path,
			Identity:       identity,
			PendingTools:   make(map[routing.Tool]struct{}),
			CompletedTools: make(map[routing.Tool]struct{}),
		}
		m.uploads[key] = rec
	}
	for _, tool := range tools {
		if _, done := rec.CompletedTools[tool]; done {
			continue
		}
		rec.PendingTools[tool] = struct{}{}
		m.queue[tool][key] = struct{}{}
	}
	return nil
}

// UploadFor ensures every identity queued for tool has a RemoteID,
// performing the upload once per identity if necessary, and returns a
// path→remoteID map. On partial failure it collects every failure, raises
// UPLOAD_FAILED with per-file diagnostics, and releases no remote ids to
// the caller.
func (m *Manager) UploadFor(ctx context.Context, tool routing.Tool) (map[string]string, error) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.queue[tool]))
	for k := range m.queue[tool] {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	type outcome struct {
		key  string
		path string
		id   string
		err  error
	}
	results := make([]outcome, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			m.mu.Lock()
			rec := m.uploads[key]
			remoteID := rec.RemoteID
			path := rec.Path
			m.mu.Unlock()

			if remoteID == "" {
				id, err := m.uploader.Upload(gctx, path)
				if err != nil {
					results[i] = outcome{key: key, path: path, err: friendlyUploadError(path, err)}
					return nil
				}
				m.mu.Lock()
				rec.RemoteID = id
				m.allRemoteIDs[id] = struct{}{}
				m.mu.Unlock()
				remoteID = id
			}
			results[i] = outcome{key: key, path: path, id: remoteID}
			return nil
		})
	}
	_ = g.Wait() // individual failures are captured per-outcome, not via errgroup's error

	var failures []string
	uploaded := make(map[string]string, len(keys))
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", r.path, r.err))
			continue
		}
		uploaded[r.path] = r.id
	}

	if len(failures) > 0 {
		sort.Strings(failures)
		return nil, errs.New(errs.KindUploadFailed, "failed to upload %d file(s) for %s", len(failures), tool).
			With("failures", strings.Join(failures, "; "))
	}

	m.mu.Lock()
	for _, key := range keys {
		rec := m.uploads[key]
		delete(rec.PendingTools, tool)
		rec.CompletedTools[tool] = struct{}{}
	}
	m.mu.Unlock()

	return uploaded, nil
}

// friendlyUploadError rewrites extension-related upload failures into a
// message suggesting the TEMPLATE re-route.
func friendlyUploadError(path string, cause error) error {
	if strings.Contains(strings.ToLower(cause.Error()), "unsupported") {
		return fmt.Errorf("file type not supported by this tool; consider attaching %q to TEMPLATE instead: %w", path, cause)
	}
	return cause
}

// IDsFor returns the remote ids currently associated with tool, for use by
// a tool driver building its ToolConfig.
func (m *Manager) IDsFor(tool routing.Tool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.queue[tool]))
	for key := range m.queue[tool] {
		if rec := m.uploads[key]; rec != nil && rec.RemoteID != "" {
			ids = append(ids, rec.RemoteID)
		}
	}
	sort.Strings(ids)
	return ids
}

// DeleteID best-effort deletes a single remote id the Manager tracks,
// removing it from allRemoteIDs on success. It exists so tool drivers that
// track their own file-id subset (e.g. codeexec.Driver.TrackUpload) can
// route deletion through the Manager rather than holding a second
// Uploader reference, preserving the Manager's sole ownership of
// UploadRecords.
func (m *Manager) DeleteID(ctx context.Context, remoteID string) error {
	if err := m.uploader.Delete(ctx, remoteID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.allRemoteIDs, remoteID)
	m.mu.Unlock()
	return nil
}

// Cleanup best-effort deletes every uploaded remote id. Errors are logged,
// never raised; Cleanup is idempotent (a second call has nothing left to
// delete).
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.allRemoteIDs))
	for id := range m.allRemoteIDs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.uploader.Delete(ctx, id); err != nil {
			m.log.Warn(ctx, "cleanup: failed to delete remote file", "remoteId", id, "error", err)
			continue
		}
		m.mu.Lock()
		delete(m.allRemoteIDs, id)
		m.mu.Unlock()
	}
}

// Package container owns lazy singletons for each tool driver plus the
// shared upload manager: per-tool configuration validation at
// construction, a health-check surface, and concurrent best-effort
// cleanup fan-out.
package container

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/telemetry"
	"github.com/structrun/structrun/tools/codeexec"
	"github.com/structrun/structrun/tools/remote"
	"github.com/structrun/structrun/tools/retrieval"
	"github.com/structrun/structrun/upload"
)

// Health is a service's health-check verdict.
type Health string

const (
	HealthHealthy   Health = "HEALTHY"
	HealthDegraded  Health = "DEGRADED"
	HealthUnhealthy Health = "UNHEALTHY"
	HealthUnknown   Health = "UNKNOWN"
)

// HealthReport carries a Health verdict plus free-form diagnostics.
type HealthReport struct {
	Status      Health
	Diagnostics string
}

// CodeExecFactory lazily constructs the code-exec driver on first use.
type CodeExecFactory func() (*codeexec.Driver, error)

// RetrievalFactory lazily constructs the retrieval driver on first use.
type RetrievalFactory func() (*retrieval.Driver, error)

// RemoteFactory lazily constructs the remote-tool adapter on first use,
// validating every configured endpoint before any request.
type RemoteFactory func() (*remote.Adapter, error)

// Config supplies the factories and the already-constructed Shared Upload
// Manager the Container coordinates. Factories are invoked at most once,
// only when the corresponding tool is actually requested.
type Config struct {
	CodeExec  CodeExecFactory
	Retrieval RetrievalFactory
	Remote    RemoteFactory
	Uploads   *upload.Manager
	Log       telemetry.Logger
}

// Container owns lazy singletons for every tool driver and the Shared
// Upload Manager, and coordinates their cleanup: driver cleanups run
// concurrently, then the Upload Manager is drained.
type Container struct {
	cfg Config
	log telemetry.Logger

	mu          sync.Mutex
	codeExec    *codeexec.Driver
	codeExecErr error
	codeExecSet bool

	retrieval    *retrieval.Driver
	retrievalErr error
	retrievalSet bool

	remoteAdapter *remote.Adapter
	remoteErr     error
	remoteSet     bool

	// created records the order in which drivers were constructed; Cleanup
	// does not consult it.
	created []string
}

// New constructs a Container. Nothing is instantiated until the
// corresponding accessor is called.
func New(cfg Config) *Container {
	if cfg.Log == nil {
		cfg.Log = telemetry.NopLogger{}
	}
	return &Container{cfg: cfg, log: cfg.Log}
}

// CodeExec lazily builds (and memoises) the code-exec driver.
func (c *Container) CodeExec() (*codeexec.Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codeExecSet {
		return c.codeExec, c.codeExecErr
	}
	c.codeExecSet = true
	if c.cfg.CodeExec == nil {
		c.codeExecErr = errs.New(errs.KindInternal, "code-exec driver requested but no factory configured")
		return nil, c.codeExecErr
	}
	c.codeExec, c.codeExecErr = c.cfg.CodeExec()
	if c.codeExecErr == nil {
		c.created = append(c.created, "codeExec")
	}
	return c.codeExec, c.codeExecErr
}

// Retrieval lazily builds (and memoises) the retrieval driver.
func (c *Container) Retrieval() (*retrieval.Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retrievalSet {
		return c.retrieval, c.retrievalErr
	}
	c.retrievalSet = true
	if c.cfg.Retrieval == nil {
		c.retrievalErr = errs.New(errs.KindInternal, "retrieval driver requested but no factory configured")
		return nil, c.retrievalErr
	}
	c.retrieval, c.retrievalErr = c.cfg.Retrieval()
	if c.retrievalErr == nil {
		c.created = append(c.created, "retrieval")
	}
	return c.retrieval, c.retrievalErr
}

// Remote lazily builds (and memoises) the remote-tool adapter.
func (c *Container) Remote() (*remote.Adapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteSet {
		return c.remoteAdapter, c.remoteErr
	}
	c.remoteSet = true
	if c.cfg.Remote == nil {
		c.remoteErr = errs.New(errs.KindInternal, "remote-tool adapter requested but no factory configured")
		return nil, c.remoteErr
	}
	c.remoteAdapter, c.remoteErr = c.cfg.Remote()
	if c.remoteErr == nil {
		c.created = append(c.created, "remote")
	}
	return c.remoteAdapter, c.remoteErr
}

// HealthCheck reports the health of a named service ("codeExec",
// "retrieval", "remote", "uploads"). A service never instantiated reports
// UNKNOWN.
func (c *Container) HealthCheck(name string) HealthReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch name {
	case "codeExec":
		if !c.codeExecSet {
			return HealthReport{Status: HealthUnknown, Diagnostics: "not yet instantiated"}
		}
		if c.codeExecErr != nil {
			return HealthReport{Status: HealthUnhealthy, Diagnostics: c.codeExecErr.Error()}
		}
		return HealthReport{Status: HealthHealthy}
	case "retrieval":
		if !c.retrievalSet {
			return HealthReport{Status: HealthUnknown, Diagnostics: "not yet instantiated"}
		}
		if c.retrievalErr != nil {
			return HealthReport{Status: HealthUnhealthy, Diagnostics: c.retrievalErr.Error()}
		}
		return HealthReport{Status: HealthHealthy}
	case "remote":
		if !c.remoteSet {
			return HealthReport{Status: HealthUnknown, Diagnostics: "not yet instantiated"}
		}
		if c.remoteErr != nil {
			return HealthReport{Status: HealthUnhealthy, Diagnostics: c.remoteErr.Error()}
		}
		return HealthReport{Status: HealthHealthy}
	case "uploads":
		if c.cfg.Uploads == nil {
			return HealthReport{Status: HealthUnknown, Diagnostics: "no upload manager configured"}
		}
		return HealthReport{Status: HealthHealthy}
	default:
		return HealthReport{Status: HealthUnknown, Diagnostics: fmt.Sprintf("unrecognised service %q", name)}
	}
}

// Cleanup fans out cleanup across every instantiated service concurrently,
// never raising: each driver logs its own delete failures, and the returned
// slice is always empty. The Shared Upload
// Manager is drained last since tool drivers' own Cleanup calls only
// delete ids they tracked outside the Manager (code-exec's uploadedIDs,
// retrieval's vector store) — the Manager owns the authoritative
// CleanupLedger for shared uploads.
func (c *Container) Cleanup(ctx context.Context) []error {
	c.mu.Lock()
	ce, cerr := c.codeExec, c.codeExecSet
	rv, rvSet := c.retrieval, c.retrievalSet
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	if cerr && ce != nil {
		g.Go(func() error {
			deleter := func(ctx context.Context, fileID string) error { return nil }
			if c.cfg.Uploads != nil {
				deleter = c.cfg.Uploads.DeleteID
			}
			ce.Cleanup(gctx, deleter)
			return nil
		})
	}
	if rvSet && rv != nil {
		g.Go(func() error {
			rv.Cleanup(gctx)
			return nil
		})
	}
	_ = g.Wait()

	// The Shared Upload Manager owns the authoritative CleanupLedger for
	// uploads shared across tools and is drained
	// last so every id either driver merely fanned out to is still
	// deleted exactly once.
	if c.cfg.Uploads != nil {
		c.cfg.Uploads.Cleanup(ctx)
	}
	return nil
}

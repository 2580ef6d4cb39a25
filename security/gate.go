// Package security implements the Path Security Gate:
// every filesystem path the pipeline touches — template source, schema file,
// attachment files/directories, collection filelists — must be resolved
// through a Gate before use.
package security

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/telemetry"
)

// Mode controls how the Gate reacts to a path outside the allow-list.
type Mode string

const (
	// ModePermissive warns and allows the access.
	ModePermissive Mode = "permissive"
	// ModeWarn logs the access but otherwise behaves like ModePermissive.
	ModeWarn Mode = "warn"
	// ModeStrict raises PATH_DENIED/TRAVERSAL. This is the default mode for
	// unattended runs.
	ModeStrict Mode = "strict"
)

// Gate validates every filesystem path against a base directory and zero or
// more additional allowed directories. Mode is fixed at construction.
type Gate struct {
	base    string
	allowed []string
	mode    Mode
	log     telemetry.Logger
}

// Option configures a Gate at construction time.
type Option func(*Gate)

// WithAllowedDirs adds directories (already absolute or resolved relative to
// the base) to the allow-list.
func WithAllowedDirs(dirs ...string) Option {
	return func(g *Gate) {
		for _, d := range dirs {
			g.allowed = append(g.allowed, normalize(d))
		}
	}
}

// WithAllowedDirsFile reads a newline-delimited file of allowed directories,
// ignoring blank lines and `#`-comments.
func WithAllowedDirsFile(path string) Option {
	return func(g *Gate) {
		f, err := os.Open(path) // #nosec G304 -- operator-provided config path
		if err != nil {
			return
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			g.allowed = append(g.allowed, normalize(line))
		}
	}
}

// WithLogger attaches a telemetry.Logger used for ModeWarn/ModePermissive
// diagnostics.
func WithLogger(l telemetry.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// New constructs a Gate rooted at base, operating in mode, with any
// additional options applied.
func New(base string, mode Mode, opts ...Option) *Gate {
	g := &Gate{base: normalize(base), mode: mode, log: telemetry.NopLogger{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func normalize(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return filepath.Clean(abs)
}

// Resolve normalises path to an absolute form and verifies it is a
// descendant of the base directory or one of the allowed directories. It
// fails with TRAVERSAL if the path escapes via `..` segments, PATH_DENIED if
// it resolves outside every allowed root, and NOT_FOUND if the target does
// not exist on disk.
func (g *Gate) Resolve(ctx context.Context, path string) (string, error) {
	if strings.Contains(path, "..") {
		clean := normalize(path)
		if !g.withinAny(clean) {
			return "", errs.New(errs.KindTraversal, "path %q escapes the allowed directories via '..'", path).
				With("base", g.base).With("allowed", g.allowed)
		}
	}
	abs := normalize(path)

	switch g.mode {
	case ModeStrict:
		if !g.withinAny(abs) {
			return "", errs.New(errs.KindPathDenied, "path %q is not a descendant of any allowed directory", path).
				With("resolved", abs).With("base", g.base).With("allowed", g.allowed)
		}
	case ModeWarn:
		if !g.withinAny(abs) {
			g.log.Warn(ctx, "path outside allow-list", "path", abs, "base", g.base)
		}
	case ModePermissive:
		if !g.withinAny(abs) {
			g.log.Warn(ctx, "permissive mode: allowing path outside allow-list", "path", abs)
		}
	default:
		if !g.withinAny(abs) {
			return "", errs.New(errs.KindPathDenied, "path %q is not a descendant of any allowed directory", path).
				With("resolved", abs)
		}
	}

	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return "", errs.New(errs.KindNotFound, "path %q does not exist", path).With("resolved", abs)
		}
		return "", errs.Wrap(errs.KindNotFound, err, "cannot stat path %q", path)
	}
	return abs, nil
}

// IsAllowed performs the same test as Resolve without raising or logging:
// it returns true exactly when Resolve would succeed for path.
func (g *Gate) IsAllowed(path string) bool {
	abs := normalize(path)
	if !g.withinAny(abs) && (strings.Contains(path, "..") || (g.mode != ModeWarn && g.mode != ModePermissive)) {
		return false
	}
	_, err := os.Stat(abs)
	return err == nil
}

func (g *Gate) withinAny(abs string) bool {
	if isDescendant(g.base, abs) {
		return true
	}
	for _, a := range g.allowed {
		if isDescendant(a, abs) {
			return true
		}
	}
	return false
}

func isDescendant(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// Diagnose renders a human-readable summary of the allow-list, used to
// enrich PATH_DENIED error context for display.
func (g *Gate) Diagnose() string {
	return fmt.Sprintf("base=%s allowed=%v mode=%s", g.base, g.allowed, g.mode)
}

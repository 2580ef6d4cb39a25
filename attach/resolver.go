package attach

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/security"
	"github.com/structrun/structrun/telemetry"
)

// FileRequest describes a single-file (`--file`) attachment request before
// resolution: an optional alias, a path, and its targets.
type FileRequest struct {
	Alias   string
	Path    string
	Targets []Target
}

// DirRequest describes a directory (`--dir`) attachment request.
type DirRequest struct {
	Alias              string
	Path               string
	Targets            []Target
	Recursive          bool
	Glob               string
	IgnoreIgnoreFile   bool
	IgnoreFileOverride string
}

// CollectRequest describes a collection (`--collect @filelist`) attachment
// request.
type CollectRequest struct {
	Alias        string
	FilelistPath string
	Targets      []Target
}

// Strict controls whether a collection line that fails validation aborts
// the run (true) or is skipped with a warning (false).
type Strict bool

// Resolver parses attachment requests into AttachmentSpec records, enforcing
// alias uniqueness and routing every path through the security Gate.
type Resolver struct {
	gate   *security.Gate
	log    telemetry.Logger
	strict Strict

	seenAliases map[string]struct{}
}

// NewResolver constructs a Resolver. gate is mandatory: every path must pass
// through the Path Security Gate.
func NewResolver(gate *security.Gate, strict Strict, log telemetry.Logger) *Resolver {
	if log == nil {
		log = telemetry.NopLogger{}
	}
	return &Resolver{gate: gate, log: log, strict: strict, seenAliases: make(map[string]struct{})}
}

// ResolveFile resolves a single-file attachment request.
func (r *Resolver) ResolveFile(ctx context.Context, req FileRequest) (AttachmentSpec, error) {
	if len(req.Targets) == 0 {
		return AttachmentSpec{}, errs.New(errs.KindUsageError, "attachment %q has no targets", req.Path)
	}
	abs, err := r.gate.Resolve(ctx, req.Path)
	if err != nil {
		return AttachmentSpec{}, err
	}
	alias := req.Alias
	if alias == "" {
		alias = DeriveAlias(filepath.Base(abs))
	}
	if err := r.claimAlias(alias); err != nil {
		return AttachmentSpec{}, err
	}
	return AttachmentSpec{
		Alias:   alias,
		Path:    abs,
		Targets: NewTargetSet(req.Targets...),
		Kind:    KindFile,
	}, nil
}

// ResolveDir resolves a directory attachment request.
func (r *Resolver) ResolveDir(ctx context.Context, req DirRequest) (AttachmentSpec, error) {
	if len(req.Targets) == 0 {
		return AttachmentSpec{}, errs.New(errs.KindUsageError, "attachment %q has no targets", req.Path)
	}
	abs, err := r.gate.Resolve(ctx, req.Path)
	if err != nil {
		return AttachmentSpec{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return AttachmentSpec{}, errs.Wrap(errs.KindNotFound, err, "cannot stat directory %q", abs)
	}
	if !info.IsDir() {
		return AttachmentSpec{}, errs.New(errs.KindUsageError, "%q is not a directory", abs)
	}
	alias := req.Alias
	if alias == "" {
		alias = DeriveAlias(filepath.Base(abs))
	}
	if err := r.claimAlias(alias); err != nil {
		return AttachmentSpec{}, err
	}
	return AttachmentSpec{
		Alias:              alias,
		Path:               abs,
		Targets:            NewTargetSet(req.Targets...),
		Kind:               KindDir,
		Recursive:          req.Recursive,
		Glob:               req.Glob,
		IgnoreIgnoreFile:   req.IgnoreIgnoreFile,
		IgnoreFileOverride: req.IgnoreFileOverride,
	}, nil
}

// ResolveCollection resolves a `--collect @filelist` request into one
// AttachmentSpec per non-blank, non-comment line of the filelist. Paths are
// resolved relative to the filelist's own directory.
func (r *Resolver) ResolveCollection(ctx context.Context, req CollectRequest) ([]AttachmentSpec, []string, error) {
	if len(req.Targets) == 0 {
		return nil, nil, errs.New(errs.KindUsageError, "collection %q has no targets", req.FilelistPath)
	}
	listAbs, err := r.gate.Resolve(ctx, req.FilelistPath)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(listAbs) // #nosec G304 -- path passed the security gate
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindNotFound, err, "cannot open filelist %q", listAbs)
	}
	defer f.Close()

	dir := filepath.Dir(listAbs)
	base := req.Alias
	if base == "" {
		base = strings.TrimSuffix(filepath.Base(listAbs), filepath.Ext(listAbs))
	}

	var specs []AttachmentSpec
	var warnings []string
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entryPath := line
		if !filepath.IsAbs(entryPath) {
			entryPath = filepath.Join(dir, entryPath)
		}
		spec, err := r.resolveCollectionLine(ctx, entryPath, base, lineno, req.Targets)
		if err != nil {
			if bool(r.strict) {
				return nil, nil, errs.Wrap(errs.KindCollectLineFailed, err, "collection line %d failed", lineno).
					With("filelist", listAbs).With("line", lineno)
			}
			msg := fmt.Sprintf("skipping collection line %d (%s): %v", lineno, entryPath, err)
			warnings = append(warnings, msg)
			r.log.Warn(ctx, "collection line failed, skipping", "filelist", listAbs, "line", lineno, "error", err)
			continue
		}
		specs = append(specs, spec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errs.Wrap(errs.KindNotFound, err, "error reading filelist %q", listAbs)
	}
	return specs, warnings, nil
}

func (r *Resolver) resolveCollectionLine(ctx context.Context, path, base string, lineno int, targets []Target) (AttachmentSpec, error) {
	abs, err := r.gate.Resolve(ctx, path)
	if err != nil {
		return AttachmentSpec{}, err
	}
	alias := CollectionAlias(base, lineno)
	if err := r.claimAlias(alias); err != nil {
		return AttachmentSpec{}, err
	}
	kind := KindFile
	if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
		kind = KindDir
	}
	return AttachmentSpec{
		Alias:           alias,
		Path:            abs,
		Targets:         NewTargetSet(targets...),
		Kind:            kind,
		FromCollection:  true,
		CollectionAlias: base,
	}, nil
}

func (r *Resolver) claimAlias(alias string) error {
	if !IsValidIdentifier(alias) {
		return errs.New(errs.KindUsageError, "alias %q is not a valid identifier", alias)
	}
	if _, dup := r.seenAliases[alias]; dup {
		return errs.New(errs.KindAliasDup, "alias %q is already in use", alias).With("alias", alias)
	}
	r.seenAliases[alias] = struct{}{}
	return nil
}

// Package templatectx builds the context dict handed across the core's
// boundary to the external template renderer. The renderer itself is an
// external collaborator; this package only assembles the data it is
// handed.
package templatectx

import (
	"fmt"
	"path/filepath"

	"github.com/structrun/structrun/attach"
	"github.com/structrun/structrun/fsident"
	"github.com/structrun/structrun/routing"
)

// FileHandle is the fixed, enumerated-field record a template file
// variable exposes; access to fields outside this set fails at render
// time, enforced by the renderer, not this package.
type FileHandle struct {
	Path     string
	AbsPath  string
	Name     string
	Size     int64
	Encoding fsident.Encoding
	Content  string
	Hash     string
}

// loader lazily produces a FileHandle's content/encoding/hash on first
// access, so large attachments are not read until the template actually
// references them.
type loader func() (fsident.Entry, error)

// LazyFile wraps a FileHandle whose Content/Encoding/Hash fields are
// populated on first Load call rather than at construction.
type LazyFile struct {
	FileHandle
	loaded bool
	load   loader
}

// Load populates Content/Encoding/Hash from the underlying loader, once.
// Subsequent calls are no-ops. Renderers call this when a template
// actually dereferences the file's content.
func (f *LazyFile) Load() error {
	if f.loaded {
		return nil
	}
	entry, err := f.load()
	if err != nil {
		return err
	}
	f.Content = string(entry.Content)
	f.Encoding = entry.Encoding
	f.Hash = entry.ContentHash
	f.loaded = true
	return nil
}

// AliasEntry is the template-context value for one alias: a single file, a
// list of files (directory/collection), or nil when resolution failed.
type AliasEntry struct {
	File  *LazyFile
	Files []*LazyFile
	IsDir bool
}

// Context is the assembled template context: per-alias entries,
// the flat Files list, utility variables, and system-config variables.
type Context struct {
	Aliases           map[string]AliasEntry
	Files             []*LazyFile
	FileCount         int
	HasFiles          bool
	CurrentModel      string
	WebSearchEnabled  bool
	Stdin             *LazyFile
	AttachmentMeta    map[string]any
}

// Source loads file bytes for identity/caching; production callers back
// this with an os.ReadFile + fsident.Cache pair, tests with a stub.
type Source interface {
	Read(path string) (fsident.Entry, error)
}

// FileSource reads files from disk through an fsident.Cache, computing
// encoding via fsident.DetectEncoding on a cache miss.
type FileSource struct {
	Cache *fsident.Cache
}

// Read implements Source.
func (s *FileSource) Read(path string) (fsident.Entry, error) {
	mtime, size, err := fsident.StatOf(path)
	if err != nil {
		return fsident.Entry{}, err
	}
	if s.Cache != nil {
		if entry, ok := s.Cache.Get(path, mtime, size); ok {
			return entry, nil
		}
	}
	data, err := readFile(path)
	if err != nil {
		return fsident.Entry{}, err
	}
	entry := fsident.Entry{
		Content:    data,
		Encoding:   fsident.DetectEncoding(data),
		MTimeNanos: mtime,
		SizeBytes:  size,
	}
	if s.Cache != nil {
		s.Cache.Put(path, entry)
	}
	return entry, nil
}

// Builder assembles a Context from a routing.Plan.
type Builder struct {
	Source       Source
	Model        string
	WebSearch    bool
	Stdin        *LazyFile
}

// Build converts plan's AliasMap into the template context dict. Directory
// attachments expand via attach.ExpandDir; USER_DATA-only attachments are
// still included for metadata/alias access but are never exposed under a
// dedicated key of their own.
func (b *Builder) Build(plan *routing.Plan) (*Context, error) {
	ctx := &Context{
		Aliases:          make(map[string]AliasEntry, len(plan.AliasMap)),
		CurrentModel:     b.Model,
		WebSearchEnabled: b.WebSearch,
		Stdin:            b.Stdin,
		AttachmentMeta:   make(map[string]any, len(plan.AliasMap)),
	}

	for alias, spec := range plan.AliasMap {
		ctx.AttachmentMeta[alias] = map[string]any{
			"targets": spec.TargetSlice(),
			"kind":    spec.Kind,
		}
		switch spec.Kind {
		case attach.KindDir:
			paths, err := attach.ExpandDir(spec)
			if err != nil {
				return nil, fmt.Errorf("expanding directory %q for template context: %w", spec.Path, err)
			}
			files := make([]*LazyFile, 0, len(paths))
			for _, p := range paths {
				files = append(files, b.handle(p))
			}
			ctx.Aliases[alias] = AliasEntry{Files: files, IsDir: true}
			ctx.Files = append(ctx.Files, files...)
		default:
			f := b.handle(spec.Path)
			ctx.Aliases[alias] = AliasEntry{File: f}
			ctx.Files = append(ctx.Files, f)
		}
	}

	ctx.FileCount = len(ctx.Files)
	ctx.HasFiles = ctx.FileCount > 0
	return ctx, nil
}

func (b *Builder) handle(path string) *LazyFile {
	abs := path
	f := &LazyFile{
		FileHandle: FileHandle{Path: path, AbsPath: abs, Name: filepath.Base(path)},
	}
	f.load = func() (fsident.Entry, error) { return b.Source.Read(path) }
	if info, err := statSize(path); err == nil {
		f.Size = info
	}
	return f
}

package templatectx_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/attach"
	"github.com/structrun/structrun/fsident"
	"github.com/structrun/structrun/routing"
	"github.com/structrun/structrun/templatectx"
)

// countingSource counts Read calls so tests can observe laziness.
type countingSource struct {
	reads   int
	entries map[string]fsident.Entry
}

func (s *countingSource) Read(path string) (fsident.Entry, error) {
	s.reads++
	return s.entries[path], nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestBuildContextFromPlan(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeFile(t, dir, "data.csv", "a,b\n1,2\n")
	subDir := filepath.Join(dir, "docs")
	require.NoError(t, os.Mkdir(subDir, 0o755))
	writeFile(t, subDir, "readme.md", "# docs\n")
	writeFile(t, subDir, "notes.md", "notes\n")

	specs := []attach.AttachmentSpec{
		{
			Alias:   "data",
			Path:    dataPath,
			Targets: attach.NewTargetSet(attach.TargetTemplate, attach.TargetCodeExec),
			Kind:    attach.KindFile,
		},
		{
			Alias:     "docs",
			Path:      subDir,
			Targets:   attach.NewTargetSet(attach.TargetTemplate),
			Kind:      attach.KindDir,
			Recursive: true,
		},
	}
	plan, err := routing.Build(specs)
	require.NoError(t, err)

	b := &templatectx.Builder{
		Source:    &countingSource{entries: map[string]fsident.Entry{}},
		Model:     "gpt-4o",
		WebSearch: true,
	}
	ctx, err := b.Build(plan)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", ctx.CurrentModel)
	assert.True(t, ctx.WebSearchEnabled)
	assert.Equal(t, 3, ctx.FileCount)
	assert.True(t, ctx.HasFiles)

	data := ctx.Aliases["data"]
	require.NotNil(t, data.File)
	assert.False(t, data.IsDir)
	assert.Equal(t, "data.csv", data.File.Name)
	assert.Equal(t, int64(8), data.File.Size)

	docs := ctx.Aliases["docs"]
	assert.True(t, docs.IsDir)
	assert.Len(t, docs.Files, 2)

	meta, ok := ctx.AttachmentMeta["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, attach.KindFile, meta["kind"])
	assert.Equal(t, []attach.Target{attach.TargetTemplate, attach.TargetCodeExec}, meta["targets"])
}

func TestLazyFileLoadsOnce(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "report.txt", "hello")

	src := &countingSource{entries: map[string]fsident.Entry{
		path: {Content: []byte("hello"), Encoding: fsident.EncodingUTF8, ContentHash: "abc"},
	}}
	specs := []attach.AttachmentSpec{{
		Alias:   "report",
		Path:    path,
		Targets: attach.NewTargetSet(attach.TargetTemplate),
		Kind:    attach.KindFile,
	}}
	plan, err := routing.Build(specs)
	require.NoError(t, err)

	ctx, err := (&templatectx.Builder{Source: src}).Build(plan)
	require.NoError(t, err)

	f := ctx.Aliases["report"].File
	// Nothing read until the template dereferences the content.
	assert.Equal(t, 0, src.reads)
	assert.Empty(t, f.Content)

	require.NoError(t, f.Load())
	assert.Equal(t, "hello", f.Content)
	assert.Equal(t, fsident.EncodingUTF8, f.Encoding)
	assert.Equal(t, "abc", f.Hash)

	require.NoError(t, f.Load())
	assert.Equal(t, 1, src.reads)
}

func TestFileSourceCachesReads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cached.txt", "cache me")

	cache := fsident.NewCache(0, 0)
	src := &templatectx.FileSource{Cache: cache}

	entry, err := src.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "cache me", string(entry.Content))
	assert.Equal(t, fsident.EncodingUTF8, entry.Encoding)
	assert.Equal(t, 1, cache.Len())

	again, err := src.Read(path)
	require.NoError(t, err)
	assert.Equal(t, entry.Content, again.Content)
}

func TestFileSourceMissingFile(t *testing.T) {
	src := &templatectx.FileSource{}
	_, err := src.Read(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/attach"
	"github.com/structrun/structrun/routing"
	"github.com/structrun/structrun/templatectx"
)

func buildContext(t *testing.T, specs []attach.AttachmentSpec) *templatectx.Context {
	t.Helper()
	plan, err := routing.Build(specs)
	require.NoError(t, err)
	builder := &templatectx.Builder{
		Source:    &templatectx.FileSource{},
		Model:     "gpt-4o",
		WebSearch: true,
	}
	tctx, err := builder.Build(plan)
	require.NoError(t, err)
	return tctx
}

func TestRenderTemplate_AliasAndVars(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello world"), 0o600))

	spec := attach.AttachmentSpec{
		Alias:   "notes",
		Path:    p,
		Kind:    attach.KindFile,
		Targets: attach.NewTargetSet(attach.TargetTemplate),
	}
	tctx := buildContext(t, []attach.AttachmentSpec{spec})

	out, err := renderTemplate(
		"{{.current_model}}: {{.notes.content}} ({{.vars.name}})",
		tctx,
		map[string]any{"name": "alice"},
	)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o: hello world (alice)", out)
}

func TestRenderTemplate_MissingKeyIsZeroValue(t *testing.T) {
	tctx := buildContext(t, nil)
	out, err := renderTemplate("[{{.nope}}]", tctx, nil)
	require.NoError(t, err)
	// The zero value of the map's interface{} element is nil, which
	// text/template prints as "<no value>".
	assert.Equal(t, "[<no value>]", out)
}

func TestRenderTemplate_ParseError(t *testing.T) {
	tctx := buildContext(t, nil)
	_, err := renderTemplate("{{ .unterminated", tctx, nil)
	assert.Error(t, err)
}

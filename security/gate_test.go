package security_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/security"
)

func TestGate_StrictDeniesOutsideAllowlist(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(outsideFile, []byte("x"), 0o600))

	g := security.New(base, security.ModeStrict)
	_, err := g.Resolve(context.Background(), outsideFile)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPathDenied))
}

func TestGate_AllowsWithinBase(t *testing.T) {
	base := t.TempDir()
	inside := filepath.Join(base, "data.csv")
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0o600))

	g := security.New(base, security.ModeStrict)
	resolved, err := g.Resolve(context.Background(), inside)
	require.NoError(t, err)
	assert.Equal(t, inside, resolved)
}

func TestGate_NotFound(t *testing.T) {
	base := t.TempDir()
	g := security.New(base, security.ModeStrict)
	_, err := g.Resolve(context.Background(), filepath.Join(base, "missing.txt"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestGate_AdditionalAllowedDir(t *testing.T) {
	base := t.TempDir()
	extra := t.TempDir()
	f := filepath.Join(extra, "x.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))

	g := security.New(base, security.ModeStrict, security.WithAllowedDirs(extra))
	resolved, err := g.Resolve(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, f, resolved)
}

func TestGate_PermissiveAllowsOutside(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	f := filepath.Join(outside, "x.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))

	g := security.New(base, security.ModePermissive)
	_, err := g.Resolve(context.Background(), f)
	require.NoError(t, err)
}

func TestGate_IsAllowed(t *testing.T) {
	base := t.TempDir()
	f := filepath.Join(base, "x.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))

	g := security.New(base, security.ModeStrict)
	assert.True(t, g.IsAllowed(f))
	assert.False(t, g.IsAllowed(filepath.Join(t.TempDir(), "y.txt")))
}

func TestGate_AllowedDirsFile(t *testing.T) {
	base := t.TempDir()
	extra := t.TempDir()
	listFile := filepath.Join(base, "allowed.txt")
	require.NoError(t, os.WriteFile(listFile, []byte("# comment\n\n"+extra+"\n"), 0o600))

	f := filepath.Join(extra, "z.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))

	g := security.New(base, security.ModeStrict, security.WithAllowedDirsFile(listFile))
	_, err := g.Resolve(context.Background(), f)
	require.NoError(t, err)
}

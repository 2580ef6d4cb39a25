package tokenbudget_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/tokenbudget"
)

// charCountEncoder is a deterministic stand-in for a real BPE encoder:
// one token per character, so test fixtures can compute exact expected
// totals without depending on tiktoken-go's vocabulary.
type charCountEncoder struct{}

func (charCountEncoder) Count(s string) int { return len(s) }

func TestValidate_UnderLimitPasses(t *testing.T) {
	v := tokenbudget.New(charCountEncoder{}, 100)
	res, err := v.Validate("short prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, 12, res.TotalTokens)
	assert.Empty(t, res.Warning)
}

func TestValidate_AtLimitIsExactlyAllowed(t *testing.T) {
	v := tokenbudget.New(charCountEncoder{}, 10)
	res, err := v.Validate(strings.Repeat("a", 10), nil)
	require.NoError(t, err)
	assert.Equal(t, 10, res.TotalTokens)
}

func TestValidate_OneOverLimitFails(t *testing.T) {
	v := tokenbudget.New(charCountEncoder{}, 10)
	_, err := v.Validate(strings.Repeat("a", 11), nil)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPromptTooLarge))
}

func TestValidate_WarnsAtNinetyPercent(t *testing.T) {
	v := tokenbudget.New(charCountEncoder{}, 100)
	res, err := v.Validate(strings.Repeat("a", 91), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)
}

func TestValidate_OversizeFileSuggestsCodeExecForData(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "big.csv")
	require.NoError(t, os.WriteFile(p, []byte(strings.Repeat("x", 6000)), 0o600))

	v := tokenbudget.New(charCountEncoder{}, 10)
	_, err := v.Validate("", []string{p})
	require.Error(t, err)
	e, ok := errs.As(err, errs.KindPromptTooLarge)
	require.True(t, ok)
	assert.Contains(t, e.Context["reroute"], "-fc big.csv")
}

func TestValidate_OversizeSourceFileSuggestsCodeExec(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "analysis.py")
	require.NoError(t, os.WriteFile(p, []byte(strings.Repeat("x", 6000)), 0o600))

	v := tokenbudget.New(charCountEncoder{}, 10)
	_, err := v.Validate("", []string{p})
	require.Error(t, err)
	e, ok := errs.As(err, errs.KindPromptTooLarge)
	require.True(t, ok)
	assert.Contains(t, e.Context["reroute"], "-fc analysis.py")
}

func TestValidate_OversizeDocumentSuggestsRetrieval(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "logs.txt")
	require.NoError(t, os.WriteFile(p, []byte(strings.Repeat("x", 6000)), 0o600))

	v := tokenbudget.New(charCountEncoder{}, 10)
	_, err := v.Validate("", []string{p})
	require.Error(t, err)
	e, ok := errs.As(err, errs.KindPromptTooLarge)
	require.True(t, ok)
	assert.Contains(t, e.Context["reroute"], "-fs logs.txt")
}

func TestValidate_SkipsUnreadableFiles(t *testing.T) {
	v := tokenbudget.New(charCountEncoder{}, 1000)
	res, err := v.Validate("hi", []string{"/nonexistent/path/does-not-exist.txt"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalTokens)
}

package runx_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/runx"
)

func enforcer(t *testing.T, cfg map[string]map[string]any, passThrough bool) *runx.GlobalArgsPolicyEnforcer {
	t.Helper()
	e, err := runx.NewPolicyEnforcer(cfg, passThrough)
	require.NoError(t, err)
	return e
}

func TestEnforce_FixedFlagAcceptsMatchingValue(t *testing.T) {
	e := enforcer(t, map[string]map[string]any{
		"model": {"mode": "fixed", "value": "gpt-4o"},
	}, true)
	out, err := e.Enforce([]string{"--model", "gpt-4o", "template.ost"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--model", "gpt-4o", "template.ost"}, out)
}

func TestEnforce_FixedFlagRejectsMismatch(t *testing.T) {
	e := enforcer(t, map[string]map[string]any{
		"model": {"mode": "fixed", "value": "gpt-4o"},
	}, true)
	_, err := e.Enforce([]string{"--model", "gpt-3.5"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPolicyViolation))
	assert.Equal(t, 2, errs.ExitCodeOf(err))
}

func TestEnforce_AbsentFixedFlagIsNotInjected(t *testing.T) {
	e := enforcer(t, map[string]map[string]any{
		"model": {"mode": "fixed", "value": "gpt-4o"},
	}, true)
	out, err := e.Enforce([]string{"template.ost"})
	require.NoError(t, err)
	assert.Equal(t, []string{"template.ost"}, out)
}

func TestEnforce_BlockedFlagRejectsPresence(t *testing.T) {
	e := enforcer(t, map[string]map[string]any{
		"unsafe": {"mode": "blocked"},
	}, true)
	_, err := e.Enforce([]string{"--unsafe"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPolicyViolation))
}

func TestEnforce_AllowedFlagRejectsOutOfList(t *testing.T) {
	e := enforcer(t, map[string]map[string]any{
		"temperature": {"mode": "allowed", "allowed": []any{"0", "0.5", "1"}},
	}, true)
	_, err := e.Enforce([]string{"--temperature", "2"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPolicyViolation))
}

func TestEnforce_UnknownFlagPassesThroughByDefault(t *testing.T) {
	e := enforcer(t, map[string]map[string]any{}, true)
	out, err := e.Enforce([]string{"--custom-flag", "value"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--custom-flag", "value"}, out)
}

func TestEnforce_UnknownFlagRejectedWhenPassThroughDisabled(t *testing.T) {
	e := enforcer(t, map[string]map[string]any{}, false)
	_, err := e.Enforce([]string{"--custom-flag", "value"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUsageError))
	assert.Equal(t, 2, errs.ExitCodeOf(err))
}

func TestEnforce_BooleanFlagPresenceOnly(t *testing.T) {
	e := enforcer(t, map[string]map[string]any{
		"verbose": {"mode": "pass-through"},
	}, true)
	out, err := e.Enforce([]string{"--verbose"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--verbose"}, out)
}

func TestNewPolicyEnforcer_RejectsUnknownMode(t *testing.T) {
	_, err := runx.NewPolicyEnforcer(map[string]map[string]any{
		"model": {"mode": "sideways"},
	}, true)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUsageError))
}

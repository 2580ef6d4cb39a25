package remote_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/tools/remote"
)

func TestParseEndpoint_LabelDerivedFromHost(t *testing.T) {
	ep, err := remote.ParseEndpoint("https://api.example.com/tool")
	require.NoError(t, err)
	assert.Equal(t, "api_example_com", ep.Label)
}

func TestParseEndpoint_ExplicitLabel(t *testing.T) {
	ep, err := remote.ParseEndpoint("mytool@https://api.example.com/tool")
	require.NoError(t, err)
	assert.Equal(t, "mytool", ep.Label)
	assert.Equal(t, "https://api.example.com/tool", ep.URL)
}

func TestValidate_RejectsNonHTTPS(t *testing.T) {
	ep := remote.Endpoint{Label: "x", URL: "http://api.example.com"}
	err := remote.Validate(ep)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPolicyViolation))
}

func TestValidate_AllowsLoopbackHTTP(t *testing.T) {
	ep := remote.Endpoint{Label: "x", URL: "http://localhost:8080"}
	require.NoError(t, remote.Validate(ep))
}

func TestScreenPayload_RejectsOversize(t *testing.T) {
	err := remote.ScreenPayload([]byte(strings.Repeat("a", 10*1024+1)))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPolicyViolation))
}

func TestScreenPayload_RejectsHostilePatterns(t *testing.T) {
	for _, payload := range []string{
		`{"path": "../../etc/passwd"}`,
		`<script>alert(1)</script>`,
		`${jndi:ldap://evil}`,
		`DROP TABLE users`,
		`file:///etc/passwd`,
	} {
		err := remote.ScreenPayload([]byte(payload))
		require.Error(t, err, payload)
		assert.True(t, errs.IsKind(err, errs.KindPolicyViolation))
	}
}

func TestSanitizeResponse_StripsScriptsAndHandlers(t *testing.T) {
	in := `<div onclick="evil()">hi<script>bad()</script></div>`
	out := remote.SanitizeResponse(in)
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "onclick")
}

func TestBuildToolConfig_ApprovalModeAlwaysNever(t *testing.T) {
	cfg := remote.BuildToolConfig(remote.Endpoint{Label: "x", URL: "https://x.test"})
	assert.Equal(t, "NEVER", cfg.ApprovalMode)
}

func TestNew_RejectsInvalidEndpointUpFront(t *testing.T) {
	_, err := remote.New([]remote.Endpoint{{Label: "bad", URL: "http://evil.test"}})
	require.Error(t, err)
}

func TestAdapter_GuardScreensAndRateLimits(t *testing.T) {
	a, err := remote.New([]remote.Endpoint{{Label: "ok", URL: "https://ok.test"}})
	require.NoError(t, err)
	require.NoError(t, a.Guard(context.Background(), "ok", []byte("hello")))
	err = a.Guard(context.Background(), "ok", []byte("DROP TABLE x"))
	require.Error(t, err)
}

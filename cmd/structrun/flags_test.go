package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/attach"
	"github.com/structrun/structrun/routing"
)

func TestAliasPath(t *testing.T) {
	tests := []struct {
		name      string
		spec      string
		wantAlias string
		wantPath  string
	}{
		{"bare path", "data.csv", "", "data.csv"},
		{"alias and path", "report=out/report.csv", "report", "out/report.csv"},
		{"value looks like path but not identifier", "1bad=out.csv", "", "1bad=out.csv"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			alias, path := aliasPath(tc.spec)
			assert.Equal(t, tc.wantAlias, alias)
			assert.Equal(t, tc.wantPath, path)
		})
	}
}

func TestSplitTargetedPath(t *testing.T) {
	targets, rest, err := splitTargetedPath("template,code-interpreter:data/in.csv")
	require.NoError(t, err)
	assert.Equal(t, []attach.Target{attach.TargetTemplate, attach.TargetCodeExec}, targets)
	assert.Equal(t, "data/in.csv", rest)

	_, _, err = splitTargetedPath("no-colon-here")
	assert.Error(t, err)

	_, _, err = splitTargetedPath("bogus-tool:data.csv")
	assert.Error(t, err)
}

func TestSplitAliasPrefix(t *testing.T) {
	alias, rest := splitAliasPrefix("mydata=template:in.csv")
	assert.Equal(t, "mydata", alias)
	assert.Equal(t, "template:in.csv", rest)

	alias, rest = splitAliasPrefix("template:in.csv")
	assert.Equal(t, "", alias)
	assert.Equal(t, "template:in.csv", rest)
}

func TestParseTools(t *testing.T) {
	got, err := parseTools([]string{"code-interpreter", "file-search", "mcp"})
	require.NoError(t, err)
	assert.Equal(t, []routing.Tool{routing.ToolCodeExec, routing.ToolRetrieval, routing.ToolRemoteTool}, got)

	_, err = parseTools([]string{"not-a-tool"})
	assert.Error(t, err)
}

func TestParseVarAndParseJSONVar(t *testing.T) {
	v, err := parseVar("name=alice")
	require.NoError(t, err)
	assert.Equal(t, varBinding{Name: "name", Value: "alice"}, v)

	_, err = parseVar("1bad=x")
	assert.Error(t, err)

	jv, err := parseJSONVar("count=42")
	require.NoError(t, err)
	assert.Equal(t, varBinding{Name: "count", Value: float64(42)}, jv)

	_, err = parseJSONVar("bad=not-json{{")
	assert.Error(t, err)
}

func TestMergeVarsRejectsDuplicates(t *testing.T) {
	strVars := []varBinding{{Name: "a", Value: "1"}}
	jsonVars := []varBinding{{Name: "a", Value: float64(2)}}
	_, err := mergeVars(strVars, jsonVars)
	assert.Error(t, err)

	merged, err := mergeVars(strVars, []varBinding{{Name: "b", Value: float64(2)}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": float64(2)}, merged)
}

func TestParseFloatFlag(t *testing.T) {
	p, err := parseFloatFlag("")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = parseFloatFlag("0.7")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 0.7, *p, 1e-9)

	_, err = parseFloatFlag("not-a-number")
	assert.Error(t, err)
}

func TestCutColonAndSplitCSV(t *testing.T) {
	k, v, ok := cutColon("Authorization:Bearer xyz")
	require.True(t, ok)
	assert.Equal(t, "Authorization", k)
	assert.Equal(t, "Bearer xyz", v)

	_, _, ok = cutColon("no-colon")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b", "c"}, splitCSV("a,b,c"))
	assert.Equal(t, []string(nil), splitCSV(""))
}

func TestIntPtrOrNil(t *testing.T) {
	assert.Nil(t, intPtrOrNil(0))
	p := intPtrOrNil(5)
	require.NotNil(t, p)
	assert.Equal(t, 5, *p)
}

package routing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/attach"
	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/routing"
)

func spec(alias, path string, kind attach.Kind, targets ...attach.Target) attach.AttachmentSpec {
	return attach.AttachmentSpec{
		Alias:   alias,
		Path:    path,
		Kind:    kind,
		Targets: attach.NewTargetSet(targets...),
	}
}

func TestBuild_RoutesToMultipleLists(t *testing.T) {
	specs := []attach.AttachmentSpec{
		spec("data_csv", "/a/data.csv", attach.KindFile, attach.TargetCodeExec, attach.TargetTemplate),
		spec("docs", "/a/docs", attach.KindDir, attach.TargetRetrieval),
	}
	plan, err := routing.Build(specs)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/data.csv"}, plan.TemplateFiles)
	assert.Equal(t, []string{"/a/data.csv"}, plan.CodeFiles)
	assert.Equal(t, []string{"/a/docs"}, plan.RetrievalDirs)
	assert.True(t, plan.HasTool(routing.ToolCodeExec))
	assert.True(t, plan.HasTool(routing.ToolRetrieval))
	assert.Len(t, plan.AliasMap, 2)
}

func TestBuild_UserDataNoToolList(t *testing.T) {
	specs := []attach.AttachmentSpec{
		spec("secret", "/a/secret.txt", attach.KindFile, attach.TargetUserData),
	}
	plan, err := routing.Build(specs)
	require.NoError(t, err)
	assert.Empty(t, plan.TemplateFiles)
	assert.Empty(t, plan.CodeFiles)
	assert.Empty(t, plan.RetrievalFiles)
	assert.Contains(t, plan.AliasMap, "secret")
}

func TestBuild_DuplicateAliasFails(t *testing.T) {
	specs := []attach.AttachmentSpec{
		spec("dup", "/a/one.txt", attach.KindFile, attach.TargetTemplate),
		spec("dup", "/a/two.txt", attach.KindFile, attach.TargetTemplate),
	}
	_, err := routing.Build(specs)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindAliasDup))
}

func TestApplyToolToggles_EnableBeatsConfigDisableBeatsRouting(t *testing.T) {
	specs := []attach.AttachmentSpec{
		spec("code", "/a/x.py", attach.KindFile, attach.TargetCodeExec),
	}
	plan, err := routing.Build(specs)
	require.NoError(t, err)
	require.True(t, plan.HasTool(routing.ToolCodeExec))

	err = routing.ApplyToolToggles(plan, routing.Toggles{
		Disable:      []routing.Tool{routing.ToolCodeExec},
		ConfigEnable: []routing.Tool{routing.ToolWebSearch},
		Enable:       []routing.Tool{routing.ToolRetrieval},
	})
	require.NoError(t, err)
	assert.False(t, plan.HasTool(routing.ToolCodeExec))
	assert.True(t, plan.HasTool(routing.ToolWebSearch))
	assert.True(t, plan.HasTool(routing.ToolRetrieval))
}

func TestApplyToolToggles_ConflictIsUsageError(t *testing.T) {
	plan, err := routing.Build(nil)
	require.NoError(t, err)
	err = routing.ApplyToolToggles(plan, routing.Toggles{
		Enable:  []routing.Tool{routing.ToolCodeExec},
		Disable: []routing.Tool{routing.ToolCodeExec},
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUsageError))
}

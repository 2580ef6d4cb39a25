package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/llm"
)

func TestDecodeWire_ParsesOutputAndAnnotations(t *testing.T) {
	raw := []byte(`{
		"output_text": "{\"ok\":true}",
		"output": [
			{"type": "code_exec_call"},
			{"type": "message", "content": [
				{"text": "{\"ok\":true}", "annotations": [
					{"type": "container_file_citation", "file_id": "f1", "container_id": "c1", "filename": "out.csv"}
				]}
			]}
		]
	}`)

	resp, err := llm.DecodeWire(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.OutputText)
	require.Len(t, resp.Output, 2)
	assert.Equal(t, "code_exec_call", resp.Output[0].Type)
	assert.Empty(t, resp.Output[0].Content)
	require.Len(t, resp.Output[1].Content, 1)
	require.Len(t, resp.Output[1].Content[0].Annotations, 1)
	ann := resp.Output[1].Content[0].Annotations[0]
	assert.Equal(t, "f1", ann.FileID)
	assert.Equal(t, "c1", ann.ContainerID)
	assert.Equal(t, "out.csv", ann.Filename)
}

func TestDecodeWire_ParsesToolCallFileOutputs(t *testing.T) {
	raw := []byte(`{
		"output": [
			{"type": "code_exec_call", "outputs": [
				{"type": "logs"},
				{"type": "file", "file_id": "file_7", "filename": "report.csv"}
			]}
		]
	}`)

	resp, err := llm.DecodeWire(raw)
	require.NoError(t, err)
	require.Len(t, resp.Output, 1)
	require.Len(t, resp.Output[0].Outputs, 2)
	out := resp.Output[0].Outputs[1]
	assert.Equal(t, "file", out.Type)
	assert.Equal(t, "file_7", out.FileID)
	assert.Equal(t, "report.csv", out.Filename)
}

func TestDecodeWire_RejectsInvalidJSON(t *testing.T) {
	_, err := llm.DecodeWire([]byte(`not json`))
	require.Error(t, err)
}

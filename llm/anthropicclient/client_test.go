package anthropicclient_test

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/llm"
	"github.com/structrun/structrun/llm/anthropicclient"
)

type stubMessages struct {
	params sdk.MessageNewParams
	resp   *sdk.Message
	err    error
}

func (s *stubMessages) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	s.params = body
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func TestNew_RequiresModelAndCredential(t *testing.T) {
	_, err := anthropicclient.New(anthropicclient.Options{})
	require.Error(t, err)
}

func TestClient_CreateResponse_RejectsEmptyInput(t *testing.T) {
	c, err := anthropicclient.New(anthropicclient.Options{Client: &stubMessages{}, DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)
	_, err = c.CreateResponse(context.Background(), llm.Request{})
	require.Error(t, err)
}

func TestClient_CreateResponse_ConcatenatesTextBlocks(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "hello"},
			{Type: "text", Text: "world"},
		},
	}}
	c, err := anthropicclient.New(anthropicclient.Options{Client: stub, DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)
	resp, err := c.CreateResponse(context.Background(), llm.Request{
		Input: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", resp.OutputText)
	require.Len(t, resp.Output, 1)
	assert.Len(t, resp.Output[0].Content, 2)
	assert.Equal(t, "claude-sonnet-4-5", string(stub.params.Model))
}

// Package openaiclient adapts github.com/openai/openai-go's Responses API
// to the llm.Client contract: a narrow Backend interface over the SDK,
// request translation on the way in, and the shared wire decoding on the
// way out.
package openaiclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/llm"
)

// Backend captures the subset of the SDK's Responses service this adapter
// drives; tests supply a stub.
type Backend interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
}

// Options configures the adapter.
type Options struct {
	Backend      Backend
	APIKey       string
	DefaultModel string
}

// Client implements llm.Client via the OpenAI Responses API.
type Client struct {
	backend Backend
	model   string
}

// New builds an OpenAI-backed llm.Client. When opts.Backend is nil, a
// default SDK client is constructed from opts.APIKey.
func New(opts Options) (*Client, error) {
	backend := opts.Backend
	if backend == nil {
		if strings.TrimSpace(opts.APIKey) == "" {
			return nil, errs.New(errs.KindUsageError, "an OpenAI API key or backend is required")
		}
		sdk := openai.NewClient(option.WithAPIKey(opts.APIKey))
		backend = &sdk.Responses
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errs.New(errs.KindUsageError, "a default model is required")
	}
	return &Client{backend: backend, model: opts.DefaultModel}, nil
}

// CreateResponse sends req to the Responses endpoint and decodes the reply
// through the shared wire contract (llm.DecodeWire).
func (c *Client) CreateResponse(ctx context.Context, req llm.Request) (llm.Response, error) {
	if len(req.Input) == 0 {
		return llm.Response{}, errs.New(errs.KindUsageError, "request input is required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(modelID),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: encodeInput(req.Input)},
	}
	if req.Instructions != "" {
		params.Instructions = param.NewOpt(req.Instructions)
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = param.NewOpt(*req.TopP)
	}
	if req.MaxOutputTokens != nil {
		params.MaxOutputTokens = param.NewOpt(int64(*req.MaxOutputTokens))
	}
	if req.ReasoningEffort != "" {
		params.Reasoning.Effort = shared.ReasoningEffort(req.ReasoningEffort)
	}
	if req.Schema != nil {
		params.Text.Format = responses.ResponseFormatTextConfigUnionParam{
			OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
				Name:   req.Schema.Name,
				Schema: req.Schema.Schema,
				Strict: param.NewOpt(req.Schema.Strict),
			},
		}
	}
	if len(req.Tools) > 0 {
		tools, err := decodeTools(req.Tools)
		if err != nil {
			return llm.Response{}, err
		}
		params.Tools = tools
	}

	resp, err := c.backend.New(ctx, params)
	if err != nil {
		return llm.Response{}, mapError(err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return llm.Response{}, errs.Wrap(errs.KindAPIError, err, "failed to marshal OpenAI response for decoding")
	}
	return llm.DecodeWire(raw)
}

func encodeInput(messages []llm.Message) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(messages))
	for _, m := range messages {
		items = append(items, responses.ResponseInputItemUnionParam{
			OfMessage: &responses.EasyInputMessageParam{
				Role:    responses.EasyInputMessageRole(m.Role),
				Content: responses.EasyInputMessageContentUnionParam{OfString: param.NewOpt(m.Content)},
			},
		})
	}
	return items
}

func decodeTools(raw []json.RawMessage) ([]responses.ToolUnionParam, error) {
	tools := make([]responses.ToolUnionParam, 0, len(raw))
	for _, r := range raw {
		var t responses.ToolUnionParam
		if err := json.Unmarshal(r, &t); err != nil {
			return nil, errs.Wrap(errs.KindUsageError, err, "malformed tool config")
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// mapError classifies an SDK error via errs.Mapper, extracting an HTTP
// status code when the SDK surfaces one.
func mapError(err error) error {
	mapper := errs.NewMapper()
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return mapper.MapHTTP(apiErr.StatusCode, apiErr.RawJSON(), err)
	}
	return mapper.MapTransport(err)
}

// Package anthropicclient adapts github.com/anthropics/anthropic-sdk-go's
// Messages API to the llm.Client contract. Anthropic has no native
// "responses" endpoint, so this adapter synthesises the {output,
// output_text} shape from the Messages API's content blocks.
package anthropicclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/llm"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, satisfied by *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	Client       MessagesClient
	APIKey       string
	DefaultModel string
	MaxTokens    int
}

// Client implements llm.Client via Anthropic Claude Messages.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// New builds an Anthropic-backed llm.Client.
func New(opts Options) (*Client, error) {
	client := opts.Client
	if client == nil {
		if strings.TrimSpace(opts.APIKey) == "" {
			return nil, errs.New(errs.KindUsageError, "an Anthropic API key or client is required")
		}
		sc := sdk.NewClient(option.WithAPIKey(opts.APIKey))
		client = &sc.Messages
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errs.New(errs.KindUsageError, "a default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: client, model: opts.DefaultModel, maxTokens: maxTokens}, nil
}

// CreateResponse sends req to the Messages API and translates the reply into
// the provider-agnostic llm.Response shape.
func (c *Client) CreateResponse(ctx context.Context, req llm.Request) (llm.Response, error) {
	if len(req.Input) == 0 {
		return llm.Response{}, errs.New(errs.KindUsageError, "request input is required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}

	msgs, system, err := encodeMessages(req.Input)
	if err != nil {
		return llm.Response{}, err
	}
	// The Messages API has no json_schema response format; the schema
	// constraint is expressed as a system instruction and the Engine's own
	// validation pass enforces conformance.
	if req.Schema != nil {
		schemaJSON, merr := json.Marshal(req.Schema.Schema)
		if merr != nil {
			return llm.Response{}, errs.Wrap(errs.KindSchemaInvalid, merr, "failed to marshal schema for request")
		}
		if system != "" {
			system += "\n\n"
		}
		system += "Respond with a single JSON object conforming to this JSON Schema, with no surrounding prose:\n" + string(schemaJSON)
	}
	maxTokens := c.maxTokens
	if req.MaxOutputTokens != nil && *req.MaxOutputTokens > 0 {
		maxTokens = *req.MaxOutputTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(*req.TopP)
	}
	if len(req.Tools) > 0 {
		tools, err := decodeTools(req.Tools)
		if err != nil {
			return llm.Response{}, err
		}
		params.Tools = tools
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return llm.Response{}, errs.Wrap(errs.KindRateLimited, err, "rate limited by Anthropic API").
				With("hint", "retry with exponential backoff; consider lowering concurrency")
		}
		return llm.Response{}, errs.NewMapper().MapTransport(err)
	}
	return translateResponse(msg), nil
}

func encodeMessages(msgs []llm.Message) ([]sdk.MessageParam, string, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system strings.Builder
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if len(conversation) == 0 {
		return nil, "", errs.New(errs.KindUsageError, "at least one user/assistant message is required")
	}
	return conversation, system.String(), nil
}

// decodeTools treats each raw tool config as an opaque custom-tool
// definition: the driver-level ToolConfig (code-exec/retrieval/remote)
// already carries its own {kind, ...} shape, folded in as ExtraFields.
func decodeTools(raw []json.RawMessage) ([]sdk.ToolUnionParam, error) {
	tools := make([]sdk.ToolUnionParam, 0, len(raw))
	for _, r := range raw {
		var m map[string]any
		if err := json.Unmarshal(r, &m); err != nil {
			return nil, errs.Wrap(errs.KindUsageError, err, "malformed tool config")
		}
		name, _ := m["kind"].(string)
		if name == "" {
			name = "tool"
		}
		tools = append(tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        name,
				InputSchema: sdk.ToolInputSchemaParam{ExtraFields: m},
			},
		})
	}
	return tools, nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

// translateResponse folds msg's content blocks into the {output,
// output_text} shape: all text blocks concatenate into OutputText, and a
// single "message" OutputItem carries one ContentBlock per text block.
func translateResponse(msg *sdk.Message) llm.Response {
	var text strings.Builder
	var blocks []llm.ContentBlock
	for _, block := range msg.Content {
		if block.Type != "text" || block.Text == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(block.Text)
		blocks = append(blocks, llm.ContentBlock{Text: block.Text})
	}
	raw, _ := json.Marshal(msg)
	return llm.Response{
		OutputText: text.String(),
		Output:     []llm.OutputItem{{Type: "message", Content: blocks}},
		Raw:        raw,
	}
}

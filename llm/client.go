// Package llm defines the provider-agnostic wire contract the Execution
// Engine drives: a "responses" style request/response
// shape.
// llm/openaiclient and llm/anthropicclient each adapt a concrete vendor SDK
// to this contract.
package llm

import (
	"context"
	"encoding/json"

	"github.com/structrun/structrun/errs"
)

// Message is one entry of a Request's input transcript.
type Message struct {
	Role    string
	Content string
}

// SchemaFormat is the strictified, enveloped schema (schema.Envelope) a
// request asks the model to conform to. Nil means no format constraint
// (used by E5 pass 1 and by two-pass mode's raw pass).
type SchemaFormat struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// Request is the provider-agnostic request the Execution Engine builds
// after parameter admission and tool bundle assembly.
type Request struct {
	Model            string
	Input            []Message
	Instructions     string
	Schema           *SchemaFormat
	Tools            []json.RawMessage
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	MaxOutputTokens  *int
	ReasoningEffort  string
}

// Annotation is a citation attached to a content block, the code-executor's
// source of container file ids.
type Annotation struct {
	Type        string
	FileID      string
	ContainerID string
	Filename    string
}

// ContentBlock is one piece of a message output item's content.
type ContentBlock struct {
	Text        string
	Annotations []Annotation
}

// FileOutput is a tool-call output entry of type "file" on a
// code_exec_call item. Unlike a container_file_citation annotation it
// carries no container id.
type FileOutput struct {
	Type     string
	FileID   string
	Filename string
}

// OutputItem is one heterogeneous entry of a Response's Output list: a
// "message" item carries Content blocks, a "code_exec_call" item carries
// tool-call Outputs instead (plus annotations on later messages).
type OutputItem struct {
	Type    string
	Content []ContentBlock
	Outputs []FileOutput
}

// Response is the provider-agnostic decoding of a "responses"-style API
// reply.
type Response struct {
	OutputText string
	Output     []OutputItem
	Raw        json.RawMessage
}

// Client sends a Request to a remote LLM endpoint and returns its Response.
type Client interface {
	CreateResponse(ctx context.Context, req Request) (Response, error)
}

// wireEnvelope/wireOutputItem/wireContentBlock/wireAnnotation mirror the
// literal JSON shape of the responses API: {output:[...], output_text}. The
// OpenAI adapter decodes its SDK's raw response bytes through this envelope
// (via DecodeWire); the Anthropic adapter builds its Response directly.
type wireEnvelope struct {
	Output     []wireOutputItem `json:"output"`
	OutputText string           `json:"output_text"`
}

type wireOutputItem struct {
	Type    string             `json:"type"`
	Content []wireContentBlock `json:"content"`
	Outputs []wireOutput       `json:"outputs"`
}

type wireOutput struct {
	Type     string `json:"type"`
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

type wireContentBlock struct {
	Text        string           `json:"text"`
	Annotations []wireAnnotation `json:"annotations"`
}

type wireAnnotation struct {
	Type        string `json:"type"`
	FileID      string `json:"file_id"`
	ContainerID string `json:"container_id"`
	Filename    string `json:"filename"`
}

// DecodeWire parses raw "responses"-API JSON bytes into a Response.
func DecodeWire(raw []byte) (Response, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Response{}, errs.Wrap(errs.KindAPIError, err, "failed to decode LLM response")
	}
	resp := Response{OutputText: env.OutputText, Raw: json.RawMessage(raw)}
	for _, item := range env.Output {
		oi := OutputItem{Type: item.Type}
		for _, c := range item.Content {
			cb := ContentBlock{Text: c.Text}
			for _, a := range c.Annotations {
				cb.Annotations = append(cb.Annotations, Annotation{
					Type:        a.Type,
					FileID:      a.FileID,
					ContainerID: a.ContainerID,
					Filename:    a.Filename,
				})
			}
			oi.Content = append(oi.Content, cb)
		}
		for _, o := range item.Outputs {
			oi.Outputs = append(oi.Outputs, FileOutput{
				Type:     o.Type,
				FileID:   o.FileID,
				Filename: o.Filename,
			})
		}
		resp.Output = append(resp.Output, oi)
	}
	return resp, nil
}

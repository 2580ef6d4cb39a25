package engine

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/structrun/structrun/errs"
)

// fencedJSONRe recognises a JSON object between ```json ... ``` fences,
// capturing only the object; ParseResponse takes the rest as the tail.
var fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// sentinelRe matches the ===BEGIN_JSON=== / ===END_JSON=== delimited block
// the raw pass asks the model to emit.
var sentinelRe = regexp.MustCompile(`(?s)===BEGIN_JSON===\s*(\{.*?\})\s*===END_JSON===`)

// ParsedResponse is the result of parsing a model's raw output_text into a
// JSON object, tracking which strategy succeeded and any trailing prose.
type ParsedResponse struct {
	Data         map[string]any
	MarkdownTail string
	Strategy     string // "fenced", "whole", "defensive"
}

// ParseResponse runs the parse chain: fenced-JSON extractor, then
// whole-string json.Unmarshal, then — only when hasCodeExec is true — a
// defensive bracket-balanced scan. Given identical raw text this function
// always takes the same branch and returns the same object.
func ParseResponse(raw string, hasCodeExec bool) (ParsedResponse, error) {
	trimmed := strings.TrimSpace(raw)

	if m := fencedJSONRe.FindStringSubmatch(trimmed); m != nil {
		var data map[string]any
		if err := json.Unmarshal([]byte(m[1]), &data); err == nil {
			tail := strings.TrimSpace(strings.Replace(trimmed, m[0], "", 1))
			return ParsedResponse{Data: data, MarkdownTail: tail, Strategy: "fenced"}, nil
		}
	}

	var whole map[string]any
	if err := json.Unmarshal([]byte(trimmed), &whole); err == nil {
		return ParsedResponse{Data: whole, Strategy: "whole"}, nil
	}

	if hasCodeExec {
		if obj, ok := scanBalancedObject(trimmed); ok {
			var data map[string]any
			if err := json.Unmarshal([]byte(obj), &data); err == nil {
				return ParsedResponse{Data: data, Strategy: "defensive"}, nil
			}
		}
	}

	return ParsedResponse{}, errs.New(errs.KindAPIError, "failed to parse model response as JSON").
		With("hasCodeExec", hasCodeExec)
}

// scanBalancedObject returns the first brace-balanced {...} substring of s,
// respecting string/escape state. A shortest-match regex would return a
// nested inner object when the model emits an object followed by prose;
// the balanced scan returns the intended root.
func scanBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ExtractSentinel extracts the JSON payload from a ===BEGIN_JSON===...
// ===END_JSON=== delimited block. It returns
// (nil, false) when no block is found or the enclosed text is not valid
// JSON; both cases trigger the single-pass fallback.
func ExtractSentinel(raw string) (map[string]any, bool) {
	m := sentinelRe.FindStringSubmatch(raw)
	if m == nil {
		return nil, false
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(m[1]), &data); err != nil {
		return nil, false
	}
	return data, true
}

// Package schema implements schema strictification and structural
// validation: recursive additionalProperties:false
// injection, vendor structural-limit checks, and final validation of a
// parsed response object against the caller's schema.
package schema

import (
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/structrun/structrun/errs"
)

// Structural limits enforced before a schema is sent to the remote LLM.
const (
	maxNestingDepth     = 5
	maxPropertiesPerObj = 100
	maxEnumValues       = 500
	maxEnumCharsGated   = 7500
	enumCharGateCount   = 250
)

// Envelope is the `{name, schema, strict, type}` wrapper the structured-
// output request format
// requires around a strictified schema.
type Envelope struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
	Type   string         `json:"type"`
}

// MakeStrict recursively injects `"additionalProperties": false` into every
// object-typed subschema that does not already specify the key, in place.
// An explicit additionalProperties value, including true, is left
// untouched; the transform only fills in gaps.
func MakeStrict(node any) {
	switch v := node.(type) {
	case map[string]any:
		if v["type"] == "object" {
			if _, present := v["additionalProperties"]; !present {
				v["additionalProperties"] = false
			}
		}
		for _, child := range v {
			MakeStrict(child)
		}
	case []any:
		for _, child := range v {
			MakeStrict(child)
		}
	}
}

// Strictify validates root's structural limits, applies MakeStrict, and
// wraps the result into the {name, schema, strict:true, type:"json_schema"}
// envelope the Responses API requires. root must be a top-level object
// schema; anything else is SCHEMA_INVALID.
func Strictify(name string, root map[string]any) (Envelope, error) {
	if root["type"] != "object" {
		return Envelope{}, errs.New(errs.KindSchemaInvalid, "schema root type must be %q, got %v", "object", root["type"]).
			With("name", name)
	}
	if err := checkStructuralLimits(root, 1); err != nil {
		return Envelope{}, err
	}
	clone, err := deepCopy(root)
	if err != nil {
		return Envelope{}, errs.Wrap(errs.KindSchemaInvalid, err, "failed to clone schema %q", name)
	}
	MakeStrict(clone)
	return Envelope{Name: name, Schema: clone, Strict: true, Type: "json_schema"}, nil
}

func deepCopy(m map[string]any) (map[string]any, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkStructuralLimits walks node and fails with SCHEMA_INVALID if any
// vendor structural limit is exceeded: nesting depth >5,
// >100 properties per object, >500 enum values, >7500 total enum chars
// when >250 enum values).
func checkStructuralLimits(node any, depth int) error {
	obj, ok := node.(map[string]any)
	if !ok {
		if list, ok := node.([]any); ok {
			for _, item := range list {
				if err := checkStructuralLimits(item, depth); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if obj["type"] == "object" {
		if depth > maxNestingDepth {
			return errs.New(errs.KindSchemaInvalid, "schema nesting depth %d exceeds the maximum of %d", depth, maxNestingDepth)
		}
		if props, ok := obj["properties"].(map[string]any); ok {
			if len(props) > maxPropertiesPerObj {
				return errs.New(errs.KindSchemaInvalid, "object has %d properties, exceeding the maximum of %d", len(props), maxPropertiesPerObj)
			}
			for _, v := range props {
				if err := checkStructuralLimits(v, depth+1); err != nil {
					return err
				}
			}
		}
		if items, ok := obj["items"]; ok {
			if err := checkStructuralLimits(items, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if enumVals, ok := obj["enum"].([]any); ok {
		if len(enumVals) > maxEnumValues {
			return errs.New(errs.KindSchemaInvalid, "enum has %d values, exceeding the maximum of %d", len(enumVals), maxEnumValues)
		}
		if len(enumVals) > enumCharGateCount {
			total := 0
			for _, v := range enumVals {
				total += len(fmt.Sprint(v))
			}
			if total > maxEnumCharsGated {
				return errs.New(errs.KindSchemaInvalid, "enum with %d values totals %d chars, exceeding the %d char limit", len(enumVals), total, maxEnumCharsGated)
			}
		}
	}
	if items, ok := obj["items"]; ok {
		if err := checkStructuralLimits(items, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Compile compiles schema JSON bytes into a jsonschema.Schema ready for
// validation.
func Compile(schemaBytes []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schemaBytes, &doc); err != nil {
		return nil, errs.Wrap(errs.KindSchemaInvalid, err, "invalid schema JSON")
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, errs.Wrap(errs.KindSchemaInvalid, err, "failed to add schema resource")
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, errs.Wrap(errs.KindSchemaInvalid, err, "failed to compile schema")
	}
	return compiled, nil
}

// Validate parses payloadJSON and validates it against compiled.
func Validate(compiled *jsonschema.Schema, payloadJSON []byte) error {
	var doc any
	if err := json.Unmarshal(payloadJSON, &doc); err != nil {
		return errs.Wrap(errs.KindSchemaInvalid, err, "invalid response JSON")
	}
	if err := compiled.Validate(doc); err != nil {
		return errs.Wrap(errs.KindSchemaInvalid, err, "response does not conform to schema")
	}
	return nil
}

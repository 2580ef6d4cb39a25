package main

import "encoding/json"

// parseJSONLiteral decodes raw as a JSON value (object, array, number,
// string, bool, or null), used by `-J name=json-literal` variable bindings.
func parseJSONLiteral(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

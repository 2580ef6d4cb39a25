package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/structrun/structrun/errs"
)

// loadSchemaFile reads a JSON Schema from path, unwrapping the
// `{"schema": {...}}` envelope form when present (.ost templates and some
// hand-written schemas nest the object under a "schema" key; a bare object
// whose top level is already `{"type": "object", ...}` is used as-is).
// The returned name is derived from the file's basename for use as the
// structured-output format name.
func loadSchemaFile(path string) (name string, root map[string]any, err error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path passed the security gate upstream
	if err != nil {
		return "", nil, errs.Wrap(errs.KindNotFound, err, "cannot read schema file %q", path)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil, errs.Wrap(errs.KindSchemaInvalid, err, "schema file %q is not valid JSON", path)
	}
	if nested, ok := doc["schema"].(map[string]any); ok {
		doc = nested
	}
	name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return name, doc, nil
}

package main

import (
	"strings"
	"text/template"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/templatectx"
)

// renderTemplate is the CLI's minimal stand-in for the external template
// evaluator. The core's contract with that renderer is the context dict
// assembled by templatectx.Builder; this function is just enough of a
// renderer to drive the pipeline end to end from the CLI, using Go's
// text/template. A production deployment swaps this for the real external
// renderer without touching the core.
func renderTemplate(source string, tctx *templatectx.Context, vars map[string]any) (string, error) {
	tpl, err := template.New("prompt").Option("missingkey=zero").Parse(source)
	if err != nil {
		return "", errs.Wrap(errs.KindUsageError, err, "failed to parse template")
	}

	data, err := buildTemplateData(tctx, vars)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", errs.Wrap(errs.KindUsageError, err, "failed to render template")
	}
	return sb.String(), nil
}

// buildTemplateData flattens a templatectx.Context into the plain
// map[string]any text/template needs, eagerly loading file content (the
// real renderer would do this lazily, but a
// one-shot CLI render has no cheaper alternative to "might be referenced").
func buildTemplateData(tctx *templatectx.Context, vars map[string]any) (map[string]any, error) {
	data := map[string]any{
		"vars":               vars,
		"file_count":         tctx.FileCount,
		"has_files":          tctx.HasFiles,
		"current_model":      tctx.CurrentModel,
		"web_search_enabled": tctx.WebSearchEnabled,
		"_attachments":       tctx.AttachmentMeta,
	}

	files := make([]map[string]any, 0, len(tctx.Files))
	for _, f := range tctx.Files {
		fd, err := fileData(f)
		if err != nil {
			return nil, err
		}
		files = append(files, fd)
	}
	data["files"] = files

	for alias, entry := range tctx.Aliases {
		if entry.IsDir {
			list := make([]map[string]any, 0, len(entry.Files))
			for _, f := range entry.Files {
				fd, err := fileData(f)
				if err != nil {
					return nil, err
				}
				list = append(list, fd)
			}
			data[alias] = list
			continue
		}
		fd, err := fileData(entry.File)
		if err != nil {
			return nil, err
		}
		data[alias] = fd
	}

	if tctx.Stdin != nil {
		fd, err := fileData(tctx.Stdin)
		if err != nil {
			return nil, err
		}
		data["stdin"] = fd
	}

	return data, nil
}

func fileData(f *templatectx.LazyFile) (map[string]any, error) {
	if f == nil {
		return nil, nil
	}
	if err := f.Load(); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to load file %q for template rendering", f.Path)
	}
	return map[string]any{
		"path":     f.Path,
		"abs_path": f.AbsPath,
		"name":     f.Name,
		"size":     f.Size,
		"encoding": string(f.Encoding),
		"content":  f.Content,
		"hash":     f.Hash,
	}, nil
}

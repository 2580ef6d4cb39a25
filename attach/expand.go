package attach

import (
	"os"
	"path/filepath"
)

// ExpandDir walks spec's directory (spec.Kind == KindDir), honouring
// Recursive, Glob, and the ignore-file mechanism, and returns the absolute
// paths of every matched file in deterministic (lexical) order.
func ExpandDir(spec AttachmentSpec) ([]string, error) {
	if spec.Kind != KindDir {
		return nil, nil
	}
	var matcher *IgnoreMatcher
	if ignorePath := ResolveIgnoreFile(spec, spec.Path); ignorePath != "" {
		m, err := LoadIgnoreFile(ignorePath)
		if err != nil {
			return nil, err
		}
		matcher = m
	}

	var out []string
	walk := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(spec.Path, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			if !spec.Recursive && path != spec.Path {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.Match(rel, false) {
			return nil
		}
		if spec.Glob != "" {
			matched, globErr := filepath.Match(spec.Glob, filepath.Base(path))
			if globErr != nil {
				return globErr
			}
			if !matched {
				return nil
			}
		}
		out = append(out, path)
		return nil
	}

	if err := filepath.WalkDir(spec.Path, walk); err != nil {
		return nil, err
	}
	return out, nil
}

package attach

import (
	"path/filepath"

	gitignore "github.com/monochromegane/go-gitignore"
)

// IgnoreMatcher wraps a .gitignore-equivalent matcher used during directory
// expansion. A nil *IgnoreMatcher matches nothing, i.e. ignore checking is
// disabled.
type IgnoreMatcher struct {
	ign gitignore.IgnoreMatcher
}

// LoadIgnoreFile parses the ignore file at path. When the file does not
// exist, LoadIgnoreFile returns (nil, nil): directory expansion proceeds
// without any ignore filtering rather than failing the run.
func LoadIgnoreFile(path string) (*IgnoreMatcher, error) {
	ign, err := gitignore.NewGitIgnore(path)
	if err != nil {
		return nil, nil //nolint:nilerr // missing ignore file is not fatal, see doc comment
	}
	return &IgnoreMatcher{ign: ign}, nil
}

// Match reports whether relPath (relative to the ignore file's directory)
// should be excluded from directory expansion.
func (m *IgnoreMatcher) Match(relPath string, isDir bool) bool {
	if m == nil || m.ign == nil {
		return false
	}
	return m.ign.Match(relPath, isDir)
}

// DefaultIgnoreFileName is the filename consulted when a directory
// attachment does not specify IgnoreFileOverride.
const DefaultIgnoreFileName = ".structrunignore"

// ResolveIgnoreFile returns the ignore-file path that should govern
// expansion of dirPath, honouring spec's IgnoreIgnoreFile and
// IgnoreFileOverride fields.
func ResolveIgnoreFile(spec AttachmentSpec, dirPath string) string {
	if spec.IgnoreIgnoreFile {
		return ""
	}
	if spec.IgnoreFileOverride != "" {
		return spec.IgnoreFileOverride
	}
	return filepath.Join(dirPath, DefaultIgnoreFileName)
}

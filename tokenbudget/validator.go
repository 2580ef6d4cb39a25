// Package tokenbudget validates prompt size before any upload: it counts
// tokens of the rendered prompt plus every file whose
// textual content will appear inline, and fails fast with actionable
// rerouting advice before any remote upload happens.
package tokenbudget

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/structrun/structrun/errs"
)

// Encoder counts tokens for a string, per a model-specific tokenization
// scheme. Production callers supply an encoder backed by a real BPE
// vocabulary; tests may supply a deterministic stub.
type Encoder interface {
	Count(s string) int
}

// oversizeThresholdTokens flags an individual file for rerouting guidance.
const oversizeThresholdTokens = 5000

// warnFraction is the fraction of the context limit at which a non-fatal
// warning is emitted.
const warnFraction = 0.9

// RerouteSuggestion is the remediation advice attached to PROMPT_TOO_LARGE
// for one oversize file: which tool it should be routed to instead.
type RerouteSuggestion struct {
	Path          string
	Tokens        int
	SuggestedTool string // "CODE_EXEC", "RETRIEVAL", or "EITHER"
}

// Result carries the outcome of a successful (non-erroring) validation: the
// total token count and any non-fatal warning message.
type Result struct {
	TotalTokens int
	Warning     string
}

var dataExtensions = map[string]struct{}{
	".csv": {}, ".json": {}, ".xlsx": {}, ".xls": {}, ".tsv": {}, ".parquet": {},
	".sql": {}, ".db": {}, ".sqlite": {}, ".sqlite3": {}, ".pkl": {}, ".pickle": {},
	".npy": {}, ".npz": {}, ".h5": {}, ".hdf5": {}, ".xml": {}, ".yaml": {}, ".yml": {},
}

var codeExtensions = map[string]struct{}{
	".py": {}, ".js": {}, ".ts": {}, ".java": {}, ".cpp": {}, ".c": {}, ".h": {},
	".hpp": {}, ".cs": {}, ".go": {}, ".rs": {}, ".rb": {}, ".php": {}, ".swift": {},
	".kt": {}, ".scala": {}, ".r": {}, ".m": {}, ".sh": {}, ".bash": {}, ".ps1": {},
	".pl": {}, ".lua": {}, ".dart": {},
}

var docExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".txt": {}, ".md": {}, ".rst": {}, ".tex": {},
	".html": {}, ".htm": {}, ".rtf": {}, ".odt": {}, ".epub": {}, ".mobi": {},
}

// Validator counts tokens against a fixed context limit using a pluggable
// Encoder.
type Validator struct {
	enc          Encoder
	contextLimit int
}

// New constructs a Validator for the given context window size.
func New(enc Encoder, contextLimit int) *Validator {
	return &Validator{enc: enc, contextLimit: contextLimit}
}

// Validate counts tokens in templateContent plus every file in
// templateFiles (read as UTF-8 text; on read failure the file is skipped
// from the count), and fails
// with PROMPT_TOO_LARGE if the total exceeds the context limit. The
// validator runs before any upload.
func (v *Validator) Validate(templateContent string, templateFiles []string) (Result, error) {
	total := v.enc.Count(templateContent)
	var oversized []RerouteSuggestion

	for _, path := range templateFiles {
		tokens, err := v.countFile(path)
		if err != nil {
			continue
		}
		total += tokens
		if tokens > oversizeThresholdTokens {
			oversized = append(oversized, RerouteSuggestion{
				Path:          path,
				Tokens:        tokens,
				SuggestedTool: suggestTool(path),
			})
		}
	}

	result := Result{TotalTokens: total}
	if float64(total) >= float64(v.contextLimit)*warnFraction && total <= v.contextLimit {
		result.Warning = "prompt is approaching the model's context window"
	}

	if total > v.contextLimit {
		e := errs.New(errs.KindPromptTooLarge, "prompt requires %d tokens, exceeding the %d-token context window", total, v.contextLimit).
			With("totalTokens", total).With("contextLimit", v.contextLimit)
		if len(oversized) > 0 {
			hints := make([]string, len(oversized))
			for i, o := range oversized {
				hints[i] = rerouteHint(o)
			}
			e = e.With("reroute", strings.Join(hints, "; "))
		}
		return Result{}, e
	}
	return result, nil
}

func (v *Validator) countFile(path string) (int, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path already passed the security gate upstream
	if err != nil {
		return 0, err
	}
	return v.enc.Count(string(data)), nil
}

// rerouteHint renders one oversize file's remediation as the concrete flag
// the user should re-run with.
func rerouteHint(o RerouteSuggestion) string {
	base := filepath.Base(o.Path)
	switch o.SuggestedTool {
	case "CODE_EXEC":
		return fmt.Sprintf("%s is %d tokens; use -fc %s to route it to code execution", base, o.Tokens, base)
	case "RETRIEVAL":
		return fmt.Sprintf("%s is %d tokens; use -fs %s to route it to retrieval", base, o.Tokens, base)
	default:
		return fmt.Sprintf("%s is %d tokens; use -fc %s (code execution) or -fs %s (retrieval)", base, o.Tokens, base, base)
	}
}

// suggestTool classifies a file extension as a code-exec candidate
// (tabular/structured data or source code), a retrieval candidate
// (documents), or either.
func suggestTool(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	_, isData := dataExtensions[ext]
	_, isCode := codeExtensions[ext]
	_, isDoc := docExtensions[ext]
	switch {
	case isData || isCode:
		return "CODE_EXEC"
	case isDoc:
		return "RETRIEVAL"
	default:
		return "EITHER"
	}
}

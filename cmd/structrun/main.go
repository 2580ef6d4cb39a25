// Command structrun is the CLI driver for the attachment-routing and
// multi-tool execution pipeline: it parses the `run`/`runx`
// invocation contract, wires the Security Gate, Attachment Resolver,
// Routing Planner, Token Budget Validator, Shared Upload Manager, tool
// drivers, and Execution Engine together, and maps the resulting error (or
// success) onto the process exit code.
package main

import (
	"fmt"
	"os"

	"github.com/structrun/structrun/errs"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, paintError(formatError(err)))
		os.Exit(errs.ExitCodeOf(err))
	}
}

// formatError renders an *errs.Error's structured context alongside its
// message, sanitising anything that slipped through without already going
// through errs.Sanitize (defence in depth for errors constructed outside
// the taxonomy, e.g. cobra's own flag-parsing failures).
func formatError(err error) string {
	if e, ok := errs.As(err, ""); ok && e != nil {
		lines := append([]string{errs.Sanitize(e.Error())}, e.ContextLines()...)
		out := lines[0]
		for _, l := range lines[1:] {
			out += "\n  " + l
		}
		return out
	}
	return errs.Sanitize(err.Error())
}

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/runx"
)

// newRunxCmd implements the `runx` verb: it parses an .ost
// template's YAML front-matter, enforces its global-argument policy
// against the flags that follow `--`, then re-dispatches into the same
// pipeline `run` drives with the template body (front matter stripped) as
// the `--template` file (the actual rendering grammar remains an external
// collaborator).
func newRunxCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "runx TEMPLATE.ost [-- GLOBAL_ARGS...]",
		Short:              "Execute a self-describing .ost template",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			templatePath := args[0]
			passthrough := args[1:]
			if len(passthrough) > 0 && passthrough[0] == "--" {
				passthrough = passthrough[1:]
			}

			raw, err := os.ReadFile(templatePath) // #nosec G304 -- CLI-supplied entry point, not an attachment
			if err != nil {
				return errs.Wrap(errs.KindNotFound, err, "cannot read .ost template %q", templatePath)
			}

			fm, err := runx.Parse(string(raw))
			if err != nil {
				return err
			}

			enforcer, err := runx.NewPolicyEnforcer(fm.GlobalArgs, fm.PassThroughGlobal())
			if err != nil {
				return err
			}
			enforcedArgs, err := enforcer.Enforce(passthrough)
			if err != nil {
				return err
			}

			// The template body (everything after the front-matter's closing
			// `---`) is what actually gets rendered; the front matter itself
			// is metadata for this command, not part of the prompt.
			bodyFile, err := os.CreateTemp("", "structrun-runx-*.tmpl")
			if err != nil {
				return errs.Wrap(errs.KindInternal, err, "failed to stage .ost template body")
			}
			defer os.Remove(bodyFile.Name())
			if _, err := bodyFile.WriteString(fm.Body(string(raw))); err != nil {
				bodyFile.Close()
				return errs.Wrap(errs.KindInternal, err, "failed to stage .ost template body")
			}
			if err := bodyFile.Close(); err != nil {
				return errs.Wrap(errs.KindInternal, err, "failed to stage .ost template body")
			}

			runCmd := newRunCmd(g)
			runCmd.SetContext(cmd.Context())
			// The staged body lives in the temp directory, outside the run's
			// base dir; the gate must be told about it explicitly.
			runCmd.SetArgs(append(enforcedArgs,
				"--template", bodyFile.Name(),
				"--allowed-dir", filepath.Dir(bodyFile.Name())))
			return runCmd.Execute()
		},
	}
	return cmd
}

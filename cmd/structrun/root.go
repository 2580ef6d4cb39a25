package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"goa.design/clue/log"
)

// globalFlags carries the root command's persistent flags, shared by the
// `run` and `runx` subcommands.
type globalFlags struct {
	configPath string
	apiKey     string
	provider   string
	baseURL    string
	debug      bool
}

// newRootCmd builds the structrun root command, bootstrapping clue's
// logging context (format/debug) the way telemetry.ClueLogger documents
// it must be set up, and registering the `run` and `runx` verbs.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "structrun",
		Short:         "Attachment-routing and multi-tool structured-output runner",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			format := log.FormatJSON
			if log.IsTerminal() {
				format = log.FormatTerminal
			}
			ctx := log.Context(context.Background(), log.WithFormat(format))
			if g.debug {
				ctx = log.Context(ctx, log.WithDebug())
			}
			cmd.SetContext(ctx)
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	// Accept --download_strategy and friends as aliases for the dashed forms.
	pf.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	pf.StringVar(&g.configPath, "config", "", "Path to the structrun configuration file")
	pf.StringVar(&g.apiKey, "api-key", "", "Provider API key (overrides provider-specific env var)")
	pf.StringVar(&g.provider, "provider", "openai", "LLM provider: openai or anthropic")
	pf.StringVar(&g.baseURL, "base-url", "", "Override the provider API origin (testing/self-hosted gateways)")
	pf.BoolVar(&g.debug, "debug", false, "Enable debug logging")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newRunxCmd(g))
	return root
}

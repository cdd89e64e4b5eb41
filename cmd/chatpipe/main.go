// Command chatpipe runs, validates and serves chatbot pipelines.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smallnest/chatpipe/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatpipe",
		Short: "Pipeline execution engine for LLM chatbots",
		Long: `chatpipe executes chatbot pipelines: directed graphs of LLM, routing,
code, tool and output nodes that turn one participant message into a reply.

Examples:
  chatpipe validate pipelines/*.yaml
  chatpipe run pipelines/support.yaml -m "I want a refund"
  chatpipe serve -c chatpipe.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	root.PersistentFlags().StringP("log-level", "l", "", "Override the configured log level")

	root.AddCommand(newRunCmd(), newValidateCmd(), newServeCmd())
	return root
}

// loadConfig reads the --config file, or the defaults without one, and
// applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg := config.Default()
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}
	if level != "" {
		cfg.Log.Level = level
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

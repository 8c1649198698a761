// Assistantd runs the conversational assistant core.
//
// Usage:
//
//	# Serve the ops endpoints and the feedback bridge
//	assistantd serve --config /etc/assistantd/config.yaml
//
//	# Talk to the assistant on the terminal
//	assistantd chat --user alice
//
// Settings come from the YAML file and ASSISTANT_* environment variables,
// e.g. ASSISTANT_PRIVACY__SALT or ASSISTANT_NATS__URL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set via ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assistantd",
		Short:         "Conversational assistant decision and learning core",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the YAML config file")

	root.AddCommand(newServeCmd(), newChatCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("ASSISTANT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "assistantd %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

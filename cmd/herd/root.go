package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	server     string
	apiKey     string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "herd",
		Short: "Constraint-driven job dispatcher over a pool of workers",
		Long: "herd queues jobs, picks eligible workers by evaluating registered constraints,\n" +
			"runs handlers concurrently and feeds outcomes back into constraint values.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", envOr("HERD_CONFIG", "herd.yaml"), "Path to configuration file (or HERD_CONFIG env)")
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("HERD_SERVER", "http://127.0.0.1:8080"), "herd API URL (or HERD_SERVER env)")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("HERD_API_KEY"), "API bearer token (or HERD_API_KEY env)")

	root.AddCommand(
		newStartCmd(opts),
		newConfigCmd(opts),
		newJobCmd(opts),
		newWorkerCmd(opts),
		newConstraintCmd(opts),
		newWatchCmd(opts),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

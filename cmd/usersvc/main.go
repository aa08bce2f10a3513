// Command usersvc serves the user API and runs batch fetches from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/usersvc/pkg/config"
	"github.com/Sternrassler/usersvc/pkg/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		settings   *config.Settings
	)

	root := &cobra.Command{
		Use:   "usersvc",
		Short: "User service with bounded concurrent batch reads",
		Long: `usersvc stores users in Redis and serves them over HTTP.

Batch reads fan out one lookup per id with a concurrency limit and a
per-item deadline, either aborting on the first failure (fail fast) or
dropping failed items (best effort).

Settings come from an optional YAML file (--config) overridden by
environment variables such as REDIS_URL, CONCURRENCY_LIMIT,
DB_QUERY_TIMEOUT_SECS and FAIL_FAST.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(configPath)
			if err != nil {
				return err
			}
			settings = s

			logCfg := s.LoggingConfig()
			logCfg.Output = cmd.ErrOrStderr()
			logging.Setup(logCfg)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("USERSVC_CONFIG"), "path to a YAML settings file")

	current := func() *config.Settings { return settings }
	root.AddCommand(
		newServeCmd(current),
		newFetchCmd(current),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skip settings loading so version works without a valid environment.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "usersvc %s\n", version)
		},
	}
}

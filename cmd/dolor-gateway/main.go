// ABOUTME: Entry point for dolor-gateway, the coaching chat gateway
// ABOUTME: Builds the cobra command tree: serve, health, token, version

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _       _                             _
  __| | ___ | | ___  _ __      __ _  __ _| |_ _____      ____ _ _   _
 / _' |/ _ \| |/ _ \| '__|___ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| | (_) | | (_) | | |____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__,_|\___/|_|\___/|_|       \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                              |___/                             |___/
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "dolor-gateway",
		Short:         "Chat gateway for the Dolor endurance coach",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML or TOML config (default: $DOLOR_CONFIG, ./config.yaml, ~/.config/dolor/gateway.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the gateway server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check a running gateway's health",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHealth(cmd.Context(), configPath, cmd.OutOrStdout())
			},
		},
		buildTokenCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

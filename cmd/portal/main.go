// Command portal serves the dual-realm portal and inspects its route table.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quota-bridge/portal/internal/config"
	"github.com/quota-bridge/portal/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┌─┐┬─┐┌┬┐┌─┐┬
  ├─┘│ │├┬┘ │ ├─┤│
  ┴  └─┘┴└─ ┴ ┴ ┴┴─┘
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.Fprint(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "portal",
		Short: "Dual-realm sign-in and route guard for the quota backend",
		Long: `Portal fronts the quota backend with two independent sign-in realms.

Users sign in through OAuth, administrators with a password. Every page
load and client navigation is decided by the route guard, and each
browser tab keeps its own sessions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to portal.json (default: built-in settings)")

	load := func() (*config.Config, error) {
		return loadConfig(configPath)
	}

	rootCmd.AddCommand(
		serveCmd(load),
		routesCmd(load),
		checkCmd(load),
		initCmd(),
		versionCmd(),
	)
	return rootCmd
}

// loadConfig reads path, applies PORTAL_* overrides and validates the result.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printBanner prints the ASCII art banner.
func printBanner(cmd *cobra.Command) {
	fmt.Fprint(cmd.OutOrStdout(), banner)
}

// success prints a success message.
func success(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", fmt.Sprintf(format, args...))
}

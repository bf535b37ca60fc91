// Package main provides the specauthority binary entry point.
// Specauthority manages versioned product specifications, compiles them into
// machine-checkable authorities, and gates generated artifacts against them.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/c360studio/specauthority/llm/providers"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "specauthority"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	logLevel    string
	metricsAddr string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Specification authority",
		Long: `Specauthority keeps product specifications as immutable versions, compiles
approved versions into machine-checkable authorities through an external
model, and validates generated artifacts against the accepted authority.

Every validation attempt leaves an evidence record; every acceptance decision
is an append-only ledger row pinned to the exact compiler and spec it judged.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	cmd.AddCommand(
		newRegisterCmd(flags),
		newApproveCmd(flags),
		newCompileCmd(flags),
		newAcceptCmd(flags),
		newRejectCmd(flags),
		newStatusCmd(flags),
		newVersionsCmd(flags),
		newHistoryCmd(flags),
		newValidateCmd(flags),
		newRunCmd(flags),
		newWatchCmd(flags),
	)

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

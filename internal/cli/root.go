package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Governance gate for agent tool invocations",
	Long: "Synchronous decision chain in front of every agent tool call:\n" +
		"role-based permissions, per-agent token and cost budgets, and a\n" +
		"durable audit trail. Denials are decisions, not errors.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger. Diagnostics go to stderr so stdout
// stays machine-readable for command output.
func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return zap.NewNop()
	}
	return logger
}

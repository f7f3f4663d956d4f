package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/audit"
)

var (
	reportDB     string
	reportWindow time.Duration
	reportLimit  int
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditReportCmd)
	auditReportCmd.Flags().StringVar(&reportDB, "db", "toolgate-audit.db", "Path to the SQLite audit database")
	auditReportCmd.Flags().DurationVar(&reportWindow, "window", 24*time.Hour, "Operation frequency window")
	auditReportCmd.Flags().IntVarP(&reportLimit, "limit", "n", 10, "Number of recent denials to show")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail operations",
	Long:  "Commands for verifying the fallback chain log and summarizing the audit database.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of a fallback audit log",
	Long: "Walks the JSONL fallback log and validates that every entry's prev_hash\n" +
		"matches the SHA-256 of the previous line. Exits 0 if valid, 1 if tampered.",
	Args: cobra.ExactArgs(1),
	RunE: runAuditVerify,
}

var auditReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize the audit database",
	Long:  "Prints per-agent budget impact, operation frequency over a window,\nand the most recent denials.",
	RunE:  runAuditReport,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditReport(cmd *cobra.Command, args []string) error {
	store, err := audit.OpenSQLStore(reportDB)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	summary, err := store.BudgetSummary(ctx)
	if err != nil {
		return fmt.Errorf("budget summary: %w", err)
	}
	fmt.Println("Budget impact by agent:")
	if len(summary) == 0 {
		fmt.Println("  (no entries)")
	}
	for _, b := range summary {
		fmt.Printf("  %-38s $%8.4f  (%d operations)\n", b.AgentID, b.TotalImpact, b.Entries)
	}

	freq, err := store.OperationFrequency(ctx, reportWindow)
	if err != nil {
		return fmt.Errorf("operation frequency: %w", err)
	}
	fmt.Printf("\nOperations in the last %s:\n", reportWindow)
	if len(freq) == 0 {
		fmt.Println("  (no entries)")
	}
	for _, c := range freq {
		fmt.Printf("  %-14s %-12s %d\n", c.Operation, c.Tool, c.Count)
	}

	denials, err := store.Denials(ctx, reportLimit)
	if err != nil {
		return fmt.Errorf("denials: %w", err)
	}
	fmt.Printf("\nRecent denials (%d):\n", len(denials))
	if len(denials) == 0 {
		fmt.Println("  (none)")
	}
	for _, d := range denials {
		fmt.Printf("  %s  %-10s %-10s %s\n", d.Timestamp, d.AgentRole, d.Tool, d.DeniedReason)
	}
	return nil
}

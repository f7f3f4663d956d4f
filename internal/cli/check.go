package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/model"
	"github.com/toolgate/toolgate/internal/pipeline"
	"github.com/toolgate/toolgate/internal/rbac"
)

var (
	checkTool    string
	checkRole    string
	checkPath    string
	checkAPI     string
	checkCommand string
	checkTokens  int64
	checkRules   string
	checkFormat  string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkTool, "tool", "", "Tool name (required)")
	checkCmd.Flags().StringVar(&checkRole, "role", "", "Agent role (required)")
	checkCmd.Flags().StringVar(&checkPath, "path", "", "Target file path")
	checkCmd.Flags().StringVar(&checkAPI, "api", "", "Target API name")
	checkCmd.Flags().StringVar(&checkCommand, "command", "", "Shell command for Bash invocations")
	checkCmd.Flags().Int64Var(&checkTokens, "tokens", 0, "Estimated input tokens")
	checkCmd.Flags().StringVar(&checkRules, "rules", "", "Path to rule table YAML")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.MarkFlagRequired("tool")
	checkCmd.MarkFlagRequired("role")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate one invocation against the rule table",
	Long: "Runs the decision chain for a single hypothetical tool call and\n" +
		"prints the outcome. Nothing executes and nothing is recorded.\n\n" +
		"Exit code 0 if allowed, 1 if denied.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	table, err := rbac.LoadTable(checkRules)
	if err != nil {
		return fmt.Errorf("load rule table: %w", err)
	}

	p := pipeline.New(pipeline.Config{Table: table})
	ev := p.Evaluate(cmd.Context(), model.HookContext{
		ToolName:        checkTool,
		Command:         checkCommand,
		FilePath:        checkPath,
		APIName:         checkAPI,
		AgentRole:       checkRole,
		EstimatedTokens: checkTokens,
	})

	switch checkFormat {
	case "json":
		out, err := json.MarshalIndent(map[string]any{
			"state":    ev.State,
			"stage":    ev.Stage,
			"decision": ev.Decision,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	default:
		if ev.State == pipeline.StateAllowed {
			fmt.Printf("ALLOW: %s\n", ev.Decision.Reason)
			if ev.Decision.RequiresApproval {
				fmt.Printf("  approval: required (%v)\n", ev.Decision.Approvers)
			}
			if ev.Decision.BudgetImpact > 0 {
				fmt.Printf("  estimated impact: $%.4f\n", ev.Decision.BudgetImpact)
			}
		} else {
			fmt.Printf("DENY at %s: %s\n", ev.Stage, ev.Decision.Reason)
		}
	}

	if ev.State != pipeline.StateAllowed {
		os.Exit(1)
	}
	return nil
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/rbac"
)

func init() {
	rootCmd.AddCommand(initRulesCmd)
}

var initRulesCmd = &cobra.Command{
	Use:   "init-rules [path]",
	Short: "Generate a commented rule table skeleton",
	Long: "Writes a rule table YAML with commented examples to the given path\n" +
		"(default toolgate.rules.yaml). Roles omitted from the file keep their\n" +
		"built-in rules. Refuses to overwrite an existing file.",
	Args: cobra.MaximumNArgs(1),
	RunE: runInitRules,
}

func runInitRules(cmd *cobra.Command, args []string) error {
	path := "toolgate.rules.yaml"
	if len(args) == 1 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("rule table already exists at %s", path)
	}

	if err := os.WriteFile(path, []byte(rbac.DefaultTableYAML()), 0644); err != nil {
		return fmt.Errorf("write rule table: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	return nil
}

package commands

import (
	"fmt"
	"os"

	"github.com/davidmoltin/leadflow/internal/cli"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [workflow-file]",
	Short: "Validate a workflow definition",
	Long: `Validate a YAML or JSON workflow file with the same rules the API applies.

The validator checks:
  - A workflow name is present
  - The trigger type is known and its config is complete
  - Cron expressions and timezones of schedule triggers
  - Every action config, including condition trees and delays
  - Every next_id and branch points at a known action, with no cycles

Examples:
  leadflow validate welcome.yaml
  leadflow validate facebook-followup.json --json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filename := args[0]

		result, err := cli.ValidateWorkflowFile(filename)
		if err != nil {
			fail("Error validating workflow: %v", err)
		}

		if outputJSON {
			printJSON(result)
		} else {
			outputValidationText(result, filename)
		}

		if !result.Valid {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func outputValidationText(result *cli.ValidationResult, filename string) {
	fmt.Printf("\n🔍 Validating workflow: %s\n\n", filename)

	if result.Valid {
		def := result.Workflow.Definition
		fmt.Println("✅ Workflow is valid!")
		fmt.Printf("   Trigger: %s\n", def.Trigger.Type)
		fmt.Printf("   Actions: %d\n", len(def.Actions))
		fmt.Println("\nNext steps:")
		fmt.Printf("  leadflow test %s\n", filename)
		fmt.Printf("  leadflow deploy %s\n", filename)
		return
	}

	fmt.Printf("❌ Workflow validation failed with %d error(s):\n\n", len(result.Errors))
	for i, err := range result.Errors {
		fmt.Printf("  %d. %s\n", i+1, err)
	}
	fmt.Println("\n💡 Tip: Fix the errors above and run validate again")
}

package commands

import (
	"fmt"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/spf13/cobra"
)

var (
	activeOnly   bool
	inactiveOnly bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	Long: `List workflows on the leadflow API.

Examples:
  leadflow list
  leadflow list --active
  leadflow list --json`,
	Run: func(cmd *cobra.Command, args []string) {
		if activeOnly && inactiveOnly {
			fail("--active and --inactive are mutually exclusive")
		}

		var filter *bool
		switch {
		case activeOnly:
			v := true
			filter = &v
		case inactiveOnly:
			v := false
			filter = &v
		}

		client := connect()
		list, err := client.GetWorkflows(filter, 100)
		if err != nil {
			fail("Failed to get workflows: %v", err)
		}

		if outputJSON {
			printJSON(list)
			return
		}
		printWorkflowList(list.Workflows, list.Total)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&activeOnly, "active", false, "Show only active workflows")
	listCmd.Flags().BoolVar(&inactiveOnly, "inactive", false, "Show only inactive workflows")
}

func printWorkflowList(workflows []models.Workflow, total int64) {
	if len(workflows) == 0 {
		fmt.Println("📭 No workflows found")
		fmt.Println("\n💡 Create your first workflow:")
		fmt.Println("  leadflow init my-workflow --template welcome")
		return
	}

	fmt.Printf("\n📋 Found %d workflow(s)", len(workflows))
	if total > int64(len(workflows)) {
		fmt.Printf(" of %d", total)
	}
	fmt.Print(":\n\n")

	fmt.Println("┌──────────────────────────────────────┬──────────────────────────┬──────────────────────┬──────────┐")
	fmt.Println("│ ID                                   │ Name                     │ Trigger              │ Status   │")
	fmt.Println("├──────────────────────────────────────┼──────────────────────────┼──────────────────────┼──────────┤")

	for _, w := range workflows {
		status := "⏸  Off"
		if w.Active {
			status = "✅ On"
		}
		fmt.Printf("│ %-36s │ %-24s │ %-20s │ %-8s │\n",
			w.ID, truncate(w.Name, 24), truncate(string(w.Definition.Trigger.Type), 20), status)
	}

	fmt.Println("└──────────────────────────────────────┴──────────────────────────┴──────────────────────┴──────────┘")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

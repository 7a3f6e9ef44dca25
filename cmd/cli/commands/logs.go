package commands

import (
	"fmt"
	"time"

	"github.com/davidmoltin/leadflow/internal/cli"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/spf13/cobra"
)

var (
	workflowFilter string
	eventFilter    string
	statusFilter   string
	limit          int
	cancelRun      bool
)

var logsCmd = &cobra.Command{
	Use:   "logs [execution-id]",
	Short: "View workflow runs",
	Long: `View workflow runs. With an execution ID the run is shown with every
step it executed; without one, recent runs are listed.

Examples:
  leadflow logs                                  # List recent runs
  leadflow logs 5f0c...                          # Show one run and its steps
  leadflow logs 5f0c... --cancel                 # Cancel a running run
  leadflow logs --workflow <workflow-id>         # Filter by workflow
  leadflow logs --event <event-id>               # Runs started by one event
  leadflow logs --status failed --limit 50`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := connect()

		if len(args) == 1 {
			if cancelRun {
				cancelExecution(client, args[0])
				return
			}
			showExecutionDetails(client, args[0])
			return
		}
		if cancelRun {
			fail("--cancel requires an execution ID")
		}

		listExecutions(client)
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().StringVar(&workflowFilter, "workflow", "", "Filter by workflow ID")
	logsCmd.Flags().StringVar(&eventFilter, "event", "", "Filter by triggering event ID")
	logsCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (running, completed, failed, cancelled)")
	logsCmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	logsCmd.Flags().BoolVar(&cancelRun, "cancel", false, "Cancel the given run")
}

func showExecutionDetails(client *cli.Client, executionID string) {
	trace, err := client.GetExecution(executionID)
	if err != nil {
		fail("Failed to get execution: %v", err)
	}

	if outputJSON {
		printJSON(trace)
		return
	}
	printTrace(trace)
}

func cancelExecution(client *cli.Client, executionID string) {
	execution, err := client.CancelExecution(executionID)
	if err != nil {
		fail("%v", err)
	}
	if outputJSON {
		printJSON(execution)
		return
	}
	fmt.Printf("🛑 Run %s is %s\n", execution.ID, execution.Status)
}

func listExecutions(client *cli.Client) {
	list, err := client.GetExecutions(cli.ExecutionQuery{
		WorkflowID: workflowFilter,
		EventID:    eventFilter,
		Status:     statusFilter,
		Limit:      limit,
	})
	if err != nil {
		fail("Failed to get executions: %v", err)
	}

	if outputJSON {
		printJSON(list)
		return
	}
	printExecutionList(list.Executions)
}

func printTrace(trace *models.ExecutionTraceResponse) {
	execution := trace.Execution

	fmt.Println("📊 Run Details")
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Printf("ID:           %s\n", execution.ID)
	fmt.Printf("Workflow:     %s\n", execution.WorkflowID)
	fmt.Printf("Event:        %s (%s)\n", execution.EventLogID, execution.TriggerType)
	fmt.Printf("Status:       %s\n", getStatusEmoji(execution.Status))
	fmt.Printf("Actions:      %d of %d\n", execution.ActionsExecuted, execution.TotalActions)
	fmt.Printf("Started:      %s\n", execution.StartedAt.Format("2006-01-02 15:04:05"))
	if execution.CompletedAt != nil {
		fmt.Printf("Completed:    %s\n", execution.CompletedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Duration:     %s\n", execution.CompletedAt.Sub(execution.StartedAt).Round(time.Millisecond))
	}
	if execution.ErrorMessage != nil && *execution.ErrorMessage != "" {
		fmt.Printf("Error:        %s\n", *execution.ErrorMessage)
	}

	fmt.Println("\n📝 Steps:")
	fmt.Println("───────────────────────────────────────────────────────────")
	if len(trace.Steps) == 0 {
		fmt.Println("No steps executed")
		return
	}
	for i, step := range trace.Steps {
		fmt.Printf("%2d. %-16s %-14s %s", i+1, step.StepID, step.StepType, step.Status)
		if step.Branch != nil {
			fmt.Printf(" → %s", *step.Branch)
		}
		if step.ResumeAt != nil && step.Status == models.StepStatusDelayed {
			fmt.Printf(" until %s", step.ResumeAt.Format("2006-01-02 15:04:05"))
		}
		if step.ErrorMessage != nil {
			fmt.Printf(" (%s)", *step.ErrorMessage)
		}
		fmt.Println()
	}
}

func printExecutionList(executions []models.WorkflowExecution) {
	if len(executions) == 0 {
		fmt.Println("📭 No runs found")
		fmt.Println("\n💡 Try a workflow locally:")
		fmt.Println("  leadflow test workflow.yaml")
		return
	}

	fmt.Printf("📋 Found %d run(s):\n\n", len(executions))
	fmt.Println("┌──────────────────────────────────────┬──────────────────────────────────────┬──────────────┬─────────────────────┐")
	fmt.Println("│ Execution ID                         │ Workflow                             │ Status       │ Started At          │")
	fmt.Println("├──────────────────────────────────────┼──────────────────────────────────────┼──────────────┼─────────────────────┤")

	for _, e := range executions {
		fmt.Printf("│ %-36s │ %-36s │ %-12s │ %-19s │\n",
			e.ID, e.WorkflowID, getStatusEmoji(e.Status), e.StartedAt.Format("2006-01-02 15:04:05"))
	}

	fmt.Println("└──────────────────────────────────────┴──────────────────────────────────────┴──────────────┴─────────────────────┘")
	fmt.Println("\n📖 View details:")
	fmt.Println("  leadflow logs <execution-id>")
}

func getStatusEmoji(status models.ExecutionStatus) string {
	switch status {
	case models.ExecutionStatusRunning:
		return "🏃 Running"
	case models.ExecutionStatusCompleted:
		return "✅ Completed"
	case models.ExecutionStatusFailed:
		return "❌ Failed"
	case models.ExecutionStatusCancelled:
		return "🛑 Cancelled"
	default:
		return string(status)
	}
}

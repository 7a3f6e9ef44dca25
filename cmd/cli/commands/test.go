package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/davidmoltin/leadflow/internal/cli"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	eventFile string
	leadFile  string
	verbose   bool
)

var testCmd = &cobra.Command{
	Use:   "test [workflow-file]",
	Short: "Dry-run a workflow against a sample event",
	Long: `Run a workflow locally against one event without touching the server.

The workflow runs on the real engine over an in-memory store. Emails,
WhatsApp messages and outbound webhooks are recorded instead of sent,
and delays are released by advancing a simulated clock.

Lead triggers get a sample lead unless the event carries a lead_id.
The event file holds the event payload; the lead file holds a lead
(name, email, phone, status, source, tags) plus optional "fields".

Examples:
  leadflow test welcome.yaml
  leadflow test status-change.yaml --event event.json
  leadflow test welcome.yaml --lead lead.json --json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		workflow, err := cli.LoadWorkflowFromFile(args[0])
		if err != nil {
			fail("Error loading workflow: %v", err)
		}
		if result := cli.ValidateWorkflow(workflow); !result.Valid {
			fmt.Println("❌ Workflow validation failed:")
			for _, problem := range result.Errors {
				fmt.Printf("  - %s\n", problem)
			}
			os.Exit(1)
		}

		input := cli.DryRunInput{Workflow: workflow}
		if eventFile != "" {
			if err := readJSONFile(eventFile, &input.Payload); err != nil {
				fail("Error reading event file: %v", err)
			}
		}
		if leadFile != "" {
			var lead struct {
				models.Lead
				Fields map[string]string `json:"fields"`
			}
			if err := readJSONFile(leadFile, &lead); err != nil {
				fail("Error reading lead file: %v", err)
			}
			input.Lead = &lead.Lead
			input.Fields = lead.Fields
		}

		level := "error"
		if verbose {
			level = "debug"
		}
		log, err := logger.New(level, "console")
		if err != nil {
			fail("Error creating logger: %v", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		report, err := cli.DryRun(ctx, input, log)
		if err != nil {
			fail("Dry run failed: %v", err)
		}

		if outputJSON {
			printJSON(report)
			return
		}
		printDryRun(workflow, report)
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
	testCmd.Flags().StringVarP(&eventFile, "event", "e", "", "JSON file with the event payload")
	testCmd.Flags().StringVarP(&leadFile, "lead", "l", "", "JSON file with the sample lead")
	testCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show engine logs")
}

func readJSONFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func printDryRun(workflow *models.Workflow, report *cli.DryRunReport) {
	fmt.Printf("\n🧪 Dry run of '%s' (%s)\n\n", workflow.Name, workflow.Definition.Trigger.Type)
	fmt.Printf("Event:   %s\n", report.Event.Status)
	if report.Event.FailureReason != nil {
		fmt.Printf("Reason:  %s\n", *report.Event.FailureReason)
	}
	if report.SimulatedTime > time.Second {
		fmt.Printf("Elapsed: %s (simulated)\n", report.SimulatedTime.Round(time.Second))
	}

	if len(report.Runs) == 0 {
		fmt.Println("\n⏭  The event did not match the workflow trigger")
		return
	}
	for i := range report.Runs {
		fmt.Println()
		printTrace(&report.Runs[i])
	}

	fmt.Println("\n📬 Deliveries:")
	fmt.Println("───────────────────────────────────────────────────────────")
	if len(report.Deliveries) == 0 {
		fmt.Println("Nothing would be sent")
	}
	for _, d := range report.Deliveries {
		fmt.Printf("[%s] %s\n", d.Channel, d.To)
		if d.Subject != "" {
			fmt.Printf("  Subject: %s\n", d.Subject)
		}
		if d.Body != "" {
			fmt.Printf("  %s\n", truncate(d.Body, 200))
		}
	}

	if report.Lead != nil {
		fmt.Println("\n👤 Lead after run:")
		fmt.Println("───────────────────────────────────────────────────────────")
		fmt.Printf("Name:    %s <%s>\n", report.Lead.Name, report.Lead.Email)
		fmt.Printf("Status:  %s\n", report.Lead.Status)
		fmt.Printf("Tags:    %v\n", report.Lead.Tags)
		if report.Lead.OwnerID != nil {
			fmt.Printf("Owner:   %s\n", report.Lead.OwnerID)
		}
	}
}

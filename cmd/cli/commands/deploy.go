package commands

import (
	"fmt"

	"github.com/davidmoltin/leadflow/internal/cli"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	updateIfExists bool
	activate       bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy [workflow-file]",
	Short: "Deploy a workflow to the server",
	Long: `Deploy a workflow file to the leadflow API.

The deploy command will:
  1. Validate the workflow locally
  2. Check that the API server is reachable
  3. Create the workflow, or update the one with the same name with --update
  4. Activate it when --activate is given or the file says active: true

Runs already in flight keep the definition they started with.

Examples:
  leadflow deploy welcome.yaml
  leadflow deploy welcome.yaml --update --activate
  leadflow deploy welcome.yaml --api-url http://crm.internal:8080`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filename := args[0]

		fmt.Println("🔍 Validating workflow...")
		result, err := cli.ValidateWorkflowFile(filename)
		if err != nil {
			fail("Error validating workflow: %v", err)
		}
		if !result.Valid {
			fmt.Println("❌ Workflow validation failed:")
			for _, problem := range result.Errors {
				fmt.Printf("  - %s\n", problem)
			}
			fail("Nothing deployed")
		}
		fmt.Println("✅ Validation passed")

		workflow := result.Workflow
		if activate {
			workflow.Active = true
		}

		fmt.Printf("🔗 Connecting to API: %s\n", viper.GetString("api.url"))
		client := connect()

		existing, err := client.FindWorkflowByName(workflow.Name)
		if err != nil {
			fail("Failed to look up workflow: %v", err)
		}

		var deployed *models.Workflow
		switch {
		case existing != nil && !updateIfExists:
			fmt.Printf("❌ Workflow '%s' already exists (ID: %s)\n", workflow.Name, existing.ID)
			fail("Use --update to replace it")
		case existing != nil:
			fmt.Printf("🔄 Updating workflow '%s'...\n", workflow.Name)
			deployed, err = client.UpdateWorkflow(existing.ID, workflow)
		default:
			fmt.Printf("🚀 Creating workflow '%s'...\n", workflow.Name)
			deployed, err = client.CreateWorkflow(workflow)
		}
		if err != nil {
			fail("%v", err)
		}

		if outputJSON {
			printJSON(deployed)
			return
		}

		fmt.Println("✅ Workflow deployed successfully!")
		fmt.Printf("\n📋 Workflow Details:\n")
		fmt.Printf("  ID:      %s\n", deployed.ID)
		fmt.Printf("  Name:    %s\n", deployed.Name)
		fmt.Printf("  Trigger: %s\n", deployed.Definition.Trigger.Type)
		fmt.Printf("  Active:  %v\n", deployed.Active)
		fmt.Println("\n💡 Next steps:")
		fmt.Println("  • List workflows: leadflow list")
		fmt.Printf("  • View runs:      leadflow logs --workflow %s\n", deployed.ID)
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().BoolVarP(&updateIfExists, "update", "u", false, "Update the workflow if one with the same name exists")
	deployCmd.Flags().BoolVar(&activate, "activate", false, "Activate the workflow after deploying")
}

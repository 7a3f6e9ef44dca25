package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/davidmoltin/leadflow/internal/cli"
	"github.com/spf13/cobra"
)

var (
	templateName  string
	outputFile    string
	listTemplates bool
)

var initCmd = &cobra.Command{
	Use:   "init [workflow-name]",
	Short: "Initialize a new workflow file",
	Long: `Initialize a new workflow YAML file from a template.

Available templates:
  - welcome:  Welcome email for every new lead
  - facebook: Facebook Lead Ads follow-up with a delayed WhatsApp nudge
  - status:   Webhook when a lead status changes to won
  - inbound:  Workflow for an inbound webhook path
  - schedule: Cron-scheduled digest
  - blank:    Minimal workflow

Examples:
  leadflow init "Welcome email" --template welcome
  leadflow init fb-followup --template facebook --output fb.yaml
  leadflow init --list`,
	Args: func(cmd *cobra.Command, args []string) error {
		if listTemplates {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if listTemplates {
			for _, name := range templateNames() {
				fmt.Printf("  %-10s %s\n", name, templates[name].description)
			}
			return
		}

		workflowName := args[0]
		tmpl, ok := templates[templateName]
		if !ok {
			fail("Unknown template '%s' (available: %s)", templateName, strings.Join(templateNames(), ", "))
		}

		if outputFile == "" {
			outputFile = strings.ToLower(strings.ReplaceAll(workflowName, " ", "-")) + ".yaml"
		}
		if _, err := os.Stat(outputFile); err == nil {
			fail("Error: File '%s' already exists", outputFile)
		}

		body := renderTemplate(tmpl, workflowName)
		if _, err := cli.ParseWorkflow([]byte(body)); err != nil {
			fail("Template '%s' is broken: %v", templateName, err)
		}
		if err := os.WriteFile(outputFile, []byte(body), 0o644); err != nil {
			fail("Error saving workflow: %v", err)
		}

		fmt.Printf("✅ Created workflow '%s' from template '%s'\n", workflowName, templateName)
		fmt.Printf("📄 File: %s\n", outputFile)
		fmt.Println("\nNext steps:")
		fmt.Printf("  1. Edit the workflow: %s\n", outputFile)
		fmt.Printf("  2. Validate: leadflow validate %s\n", outputFile)
		fmt.Printf("  3. Dry-run:  leadflow test %s\n", outputFile)
		fmt.Printf("  4. Deploy:   leadflow deploy %s\n", outputFile)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVarP(&templateName, "template", "t", "blank", "Template to use (see --list)")
	initCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file name (default: <workflow-name>.yaml)")
	initCmd.Flags().BoolVar(&listTemplates, "list", false, "List available templates")
}

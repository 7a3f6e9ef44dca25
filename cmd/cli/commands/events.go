package commands

import (
	"fmt"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/spf13/cobra"
)

var (
	eventTrigger  string
	eventDedupKey string
	eventPayload  string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Send and requeue trigger events",
}

var sendEventCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a trigger event to the API",
	Long: `Log a trigger event on the server. Active workflows whose trigger
matches the event start a run each.

Examples:
  leadflow events send --trigger update_lead_status --payload status.json
  leadflow events send --trigger inbound_webhook --payload body.json --dedup-key order-42`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		trigger := models.TriggerType(eventTrigger)
		if !trigger.Valid() {
			fail("Unknown trigger type '%s'", eventTrigger)
		}

		req := models.CreateEventRequest{TriggerType: trigger, DedupKey: eventDedupKey, Payload: map[string]interface{}{}}
		if eventPayload != "" {
			if err := readJSONFile(eventPayload, &req.Payload); err != nil {
				fail("Error reading payload: %v", err)
			}
		}

		event, created, err := connect().CreateEvent(req)
		if err != nil {
			fail("%v", err)
		}
		if outputJSON {
			printJSON(event)
			return
		}
		if !created {
			fmt.Printf("♻️  Duplicate of event %s (%s)\n", event.ID, event.Status)
			return
		}
		fmt.Printf("✅ Event %s accepted\n", event.ID)
		fmt.Printf("💡 Follow its runs: leadflow logs --event %s\n", event.ID)
	},
}

var requeueEventCmd = &cobra.Command{
	Use:   "requeue [event-id]",
	Short: "Requeue a failed event",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		event, err := connect().RequeueEvent(args[0])
		if err != nil {
			fail("%v", err)
		}
		if outputJSON {
			printJSON(event)
			return
		}
		fmt.Printf("🔁 Event %s is %s again\n", event.ID, event.Status)
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(sendEventCmd, requeueEventCmd)
	sendEventCmd.Flags().StringVarP(&eventTrigger, "trigger", "t", "", "Trigger type of the event")
	sendEventCmd.Flags().StringVar(&eventDedupKey, "dedup-key", "", "Idempotency key; repeats return the logged event")
	sendEventCmd.Flags().StringVarP(&eventPayload, "payload", "p", "", "JSON file with the event payload")
	sendEventCmd.MarkFlagRequired("trigger")
}

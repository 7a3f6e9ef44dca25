package commands

import (
	"sort"
	"strings"
)

type workflowTemplate struct {
	description string
	body        string
}

// templates are written as YAML so users see the nested steps form
var templates = map[string]workflowTemplate{
	"welcome": {
		description: "Welcome email for every new lead, tagged by source",
		body: `name: {{name}}
description: Send a welcome email to new leads
active: true
trigger:
  type: create_new_lead
steps:
  - type: send_email
    config:
      subject: "Welcome, {{lead_name}}"
      body: "Hi {{lead_name}}, thanks for getting in touch. We will reply shortly."
  - type: add_tag
    config:
      tags: [welcomed]
`,
	},
	"facebook": {
		description: "Facebook Lead Ads follow-up with a WhatsApp nudge after a day",
		body: `name: {{name}}
description: Follow up leads captured from a Facebook lead form
active: false
trigger:
  type: facebook_lead_form
  config:
    page_id: "REPLACE_WITH_PAGE_ID"
    form_id: "REPLACE_WITH_FORM_ID"
steps:
  - type: add_tag
    config:
      tags: [facebook]
  - type: send_email
    config:
      subject: "Thanks for your interest, {{lead_name}}"
      body: "We received your request and will be in touch."
  - type: delay
    config:
      duration: 1
      unit: days
  - type: condition
    config:
      operator: AND
      conditions:
        - field: status
          operator: equals
          value: new
        - field: phone
          operator: is_not_empty
    yesActions:
      - type: send_whatsapp
        config:
          message: "Hi {{lead_name}}, do you have a minute to talk about your request?"
    noActions:
      - type: add_tag
        config:
          tags: [engaged]
`,
	},
	"status": {
		description: "Notify an external system when a lead is won",
		body: `name: {{name}}
description: Post won leads to an external endpoint
active: false
trigger:
  type: update_lead_status
  config:
    status_to: won
steps:
  - type: send_webhook
    config:
      url: https://example.com/hooks/lead-won
      method: POST
      retry_count: 3
      body:
        lead_id: "{{lead_id}}"
        email: "{{email}}"
  - type: remove_tag
    config:
      tags: [prospect]
`,
	},
	"inbound": {
		description: "Handle leads posted to /webhooks/inbound/<path>",
		body: `name: {{name}}
description: Route inbound webhook deliveries
active: false
trigger:
  type: inbound_webhook
  config:
    path: {{slug}}
    secret: change-me
steps:
  - type: send_webhook
    config:
      url: https://example.com/crm/import
      body:
        email: "{{email}}"
        name: "{{name}}"
`,
	},
	"schedule": {
		description: "Daily digest on a cron schedule",
		body: `name: {{name}}
description: Send a daily digest
active: false
trigger:
  type: schedule
  config:
    cron: "0 9 * * 1-5"
    timezone: UTC
steps:
  - type: send_email
    config:
      to: sales@example.com
      subject: Daily lead digest
      body: "Good morning. Check the dashboard for new leads."
`,
	},
	"blank": {
		description: "Empty workflow with one action",
		body: `name: {{name}}
active: false
trigger:
  type: create_new_lead
steps:
  - type: add_tag
    config:
      tags: [new]
`,
	},
}

func templateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// renderTemplate fills the workflow name and slug. Lead placeholders use
// the lead_ prefix in templates and are rewritten to the engine's keys.
func renderTemplate(t workflowTemplate, name string) string {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
	r := strings.NewReplacer(
		"name: {{name}}", "name: "+quoteYAML(name),
		"{{slug}}", slug,
		"{{lead_name}}", "{{name}}",
	)
	return r.Replace(t.body)
}

func quoteYAML(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

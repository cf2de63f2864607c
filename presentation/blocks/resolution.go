package blocks

import (
	"fmt"
	"time"

	"github.com/slack-go/slack"
)

func Resolution(incidentID, workflowName string, duration time.Duration, success bool) []slack.Block {
	headline := fmt.Sprintf("✅ *Resolved: %s*", incidentID)
	if !success {
		headline = fmt.Sprintf("⚠️ *Remediation failed: %s*", incidentID)
	}
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", headline, false, false),
			[]*slack.TextBlockObject{
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Workflow:* %s", workflowName),
					false,
					false,
				),
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Duration:* %s", duration.Round(time.Second)),
					false,
					false,
				),
			},
			nil,
		),
	}
}

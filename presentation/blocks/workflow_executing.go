package blocks

import (
	"fmt"

	"github.com/slack-go/slack"
)

func WorkflowExecuting(incidentID, workflowName string, estimatedSeconds int) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("⚙️ *Executing remediation: %s*", incidentID), false, false),
			[]*slack.TextBlockObject{
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Workflow:* %s", workflowName),
					false,
					false,
				),
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Estimated duration:* %ds", estimatedSeconds),
					false,
					false,
				),
			},
			nil,
		),
	}
}

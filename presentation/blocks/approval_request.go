package blocks

import (
	"fmt"
	"time"

	"github.com/slack-go/slack"
)

func ApprovalRequest(incidentID, workflowName, service, riskLevel string, timeout time.Duration) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("⏳ *Approval required: %s*", incidentID), false, false),
			[]*slack.TextBlockObject{
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Service:* %s", service),
					false,
					false,
				),
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Workflow:* %s", workflowName),
					false,
					false,
				),
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Risk level:* %s", riskLevel),
					false,
					false,
				),
			},
			nil,
		),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("React with :white_check_mark: to approve or :x: to deny. No reaction within %s counts as a denial.", timeout),
				false,
				false,
			),
		),
	}
}

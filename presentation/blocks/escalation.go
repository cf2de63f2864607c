package blocks

import (
	"fmt"

	"github.com/slack-go/slack"
)

func Escalation(incidentID, reason string) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("🚨 *Escalated to on-call: %s*", incidentID), false, false),
			[]*slack.TextBlockObject{
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Reason:* %s", reason),
					false,
					false,
				),
			},
			nil,
		),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(
				"mrkdwn",
				"Automated remediation has stopped for this incident. Manual intervention required.",
				false,
				false,
			),
		),
	}
}

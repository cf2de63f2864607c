package blocks

import (
	"fmt"

	"github.com/slack-go/slack"
	"github.com/sreops-dev/incidentpilot/domain/entity"
)

var severityEmoji = map[entity.Severity]string{
	entity.SeverityCritical: "🔴",
	entity.SeverityHigh:     "🟠",
	entity.SeverityMedium:   "🟡",
	entity.SeverityLow:      "🟢",
}

func IncidentDetected(incident *entity.Incident) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("%s *Incident detected: %s*", severityEmoji[incident.Severity], incident.ID), false, false),
			[]*slack.TextBlockObject{
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Service:* %s", incident.Service),
					false,
					false,
				),
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Severity:* %s", incident.Severity),
					false,
					false,
				),
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Error type:* %s", incident.ErrorType),
					false,
					false,
				),
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Deviation:* %.1fσ above baseline", incident.AnomalyScores.Max),
					false,
					false,
				),
				slack.NewTextBlockObject(
					"mrkdwn",
					fmt.Sprintf("*Error rate:* %.2f%% (baseline %.2f%%)", incident.CurrentMetrics.ErrorRate*100, incident.BaselineMetrics.ErrorRate*100),
					false,
					false,
				),
			},
			nil,
		),
	}
}

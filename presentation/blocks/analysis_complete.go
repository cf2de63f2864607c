package blocks

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"github.com/sreops-dev/incidentpilot/domain/entity"
)

func AnalysisComplete(incident *entity.Incident) []slack.Block {
	analysis := incident.Analysis
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(
			"mrkdwn",
			fmt.Sprintf("*Root cause:* %s", analysis.RootCause),
			false,
			false,
		),
		slack.NewTextBlockObject(
			"mrkdwn",
			fmt.Sprintf("*Recommended workflow:* %s", analysis.RecommendedWorkflow),
			false,
			false,
		),
		slack.NewTextBlockObject(
			"mrkdwn",
			fmt.Sprintf("*Confidence:* %.0f%%", analysis.Confidence*100),
			false,
			false,
		),
	}
	if len(analysis.SimilarIncidents) > 0 {
		fields = append(fields, slack.NewTextBlockObject(
			"mrkdwn",
			fmt.Sprintf("*Similar incidents:* %s", strings.Join(analysis.SimilarIncidents, ", ")),
			false,
			false,
		))
	}

	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("🔍 *Analysis complete: %s*", incident.ID), false, false),
			fields,
			nil,
		),
	}
}

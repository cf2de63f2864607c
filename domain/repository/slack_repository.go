package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Songmu/retry"
	"github.com/slack-go/slack"
	"github.com/sreops-dev/incidentpilot/domain/entity"
	"github.com/sreops-dev/incidentpilot/presentation/blocks"
)

const (
	approveReaction = "white_check_mark"
	denyReaction    = "x"

	reactionPollInterval = 5 * time.Second
)

type SlackRepository struct {
	client  *slack.Client
	channel string
}

func NewSlackRepository(client *slack.Client, channel string) *SlackRepository {
	return &SlackRepository{
		client:  client,
		channel: channel,
	}
}

// PostIncidentDetected is synchronous because the message timestamp
// anchors the incident thread for every later update.
func (h *SlackRepository) PostIncidentDetected(ctx context.Context, incident *entity.Incident) (string, error) {
	_, ts, err := h.client.PostMessageContext(ctx, h.channel,
		slack.MsgOptionBlocks(blocks.IncidentDetected(incident)...),
	)
	if err != nil {
		return "", fmt.Errorf("failed to post incident message: %w", err)
	}
	return ts, nil
}

func (h *SlackRepository) PostAnalysisComplete(incident *entity.Incident, threadTS string) {
	h.postThread(threadTS, blocks.AnalysisComplete(incident))
}

func (h *SlackRepository) PostWorkflowExecuting(incidentID, workflowName string, estimatedSeconds int, threadTS string) {
	h.postThread(threadTS, blocks.WorkflowExecuting(incidentID, workflowName, estimatedSeconds))
}

func (h *SlackRepository) PostResolution(incidentID, workflowName string, duration time.Duration, success bool, threadTS string) {
	h.postThread(threadTS, blocks.Resolution(incidentID, workflowName, duration, success))
}

func (h *SlackRepository) PostEscalation(incidentID, reason, threadTS string) {
	h.postThread(threadTS, blocks.Escalation(incidentID, reason))
}

func (h *SlackRepository) PostUpdate(message, threadTS string) {
	go func() {
		err := retry.Retry(10, 3*time.Second, func() error {
			opts := []slack.MsgOption{slack.MsgOptionText(message, false)}
			if threadTS != "" {
				opts = append(opts, slack.MsgOptionTS(threadTS))
			}
			_, _, err := h.client.PostMessage(h.channel, opts...)
			if err != nil {
				slog.Warn("PostMessage", slog.Any("channel", h.channel), slog.Any("err", err))
			}
			return err
		})
		if err != nil {
			slog.Error("Failed to PostMessage", slog.Any("err", err))
		}
	}()
}

// RequestApproval posts an approval card and polls its reactions until
// an operator reacts or the timeout passes. No reaction counts as a
// denial.
func (h *SlackRepository) RequestApproval(ctx context.Context, req ApprovalRequest) (entity.ApprovalDecision, error) {
	opts := []slack.MsgOption{
		slack.MsgOptionBlocks(blocks.ApprovalRequest(req.IncidentID, req.WorkflowName, req.Service, string(req.RiskLevel), req.Timeout)...),
	}
	if req.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(req.ThreadTS))
	}
	_, ts, err := h.client.PostMessageContext(ctx, h.channel, opts...)
	if err != nil {
		return entity.ApprovalTimedOut, fmt.Errorf("failed to post approval request: %w", err)
	}

	deadline := time.Now().Add(req.Timeout)
	ref := slack.NewRefToMessage(h.channel, ts)
	for time.Now().Before(deadline) {
		if err := sleepContext(ctx, reactionPollInterval); err != nil {
			return entity.ApprovalTimedOut, err
		}

		reactions, err := h.client.GetReactionsContext(ctx, ref, slack.NewGetReactionsParameters())
		if err != nil {
			slog.Warn("failed to fetch approval reactions", slog.Any("error", err))
			continue
		}
		for _, reaction := range reactions {
			switch reaction.Name {
			case approveReaction:
				return entity.ApprovalGranted, nil
			case denyReaction:
				return entity.ApprovalDenied, nil
			}
		}
	}
	return entity.ApprovalTimedOut, nil
}

func (h *SlackRepository) postThread(threadTS string, msgBlocks []slack.Block) {
	go func() {
		err := retry.Retry(10, 3*time.Second, func() error {
			opts := []slack.MsgOption{slack.MsgOptionBlocks(msgBlocks...)}
			if threadTS != "" {
				opts = append(opts, slack.MsgOptionTS(threadTS))
			}
			_, _, err := h.client.PostMessage(h.channel, opts...)
			if err != nil {
				slog.Warn("PostMessage", slog.Any("channel", h.channel), slog.Any("err", err))
			}
			return err
		})
		if err != nil {
			slog.Error("Failed to PostMessage", slog.Any("err", err))
		}
	}()
}

package handler

import (
	"errors"
	"fmt"
	"time"

	"github.com/sreops-dev/incidentpilot/domain/entity"
	"github.com/sreops-dev/incidentpilot/domain/repository"
)

// Planner turns an analysis into a remediation plan and decides whether
// it may run without a human in the loop.
type Planner struct {
	workflows repository.WorkflowRepository
}

func NewPlanner(workflows repository.WorkflowRepository) *Planner {
	return &Planner{workflows: workflows}
}

func (p *Planner) Plan(incident *entity.Incident) entity.Outcome {
	if incident.Analysis == nil {
		return entity.Fatal("cannot plan without an analysis")
	}

	wf, err := p.workflows.LoadWorkflow(incident.Analysis.RecommendedWorkflow)
	if err != nil {
		if errors.Is(err, repository.ErrWorkflowNotFound) {
			return entity.Fatal(fmt.Sprintf("recommended workflow %q does not exist", incident.Analysis.RecommendedWorkflow))
		}
		return entity.Retryable(fmt.Sprintf("failed to load workflow: %v", err))
	}

	autoApproved, reason := approvalDecision(wf, incident.Analysis.Confidence)

	incident.Plan = &entity.RemediationPlan{
		WorkflowName:     wf.Name,
		RiskLevel:        wf.RiskLevel,
		AutoApproved:     autoApproved,
		ApprovalReason:   reason,
		PreChecks:        stepNames(wf.PreChecks),
		ExecutionSteps:   stepNames(wf.Steps),
		ValidationSteps:  stepNames(wf.SuccessActions),
		RollbackPlan:     stepNames(wf.Rollback),
		EstimatedSeconds: wf.EstimatedSeconds,
		GeneratedAt:      time.Now(),
	}
	return entity.Success()
}

// approvalDecision applies the risk policy. High risk or low confidence
// always goes to a human; the workflow's own auto_approve flag can veto
// automation but never grant it.
func approvalDecision(wf *entity.Workflow, confidence float64) (bool, string) {
	if wf.RiskLevel == entity.RiskHigh {
		return false, "high risk workflows always require approval"
	}
	if confidence < 0.5 {
		return false, fmt.Sprintf("confidence %.2f below 0.5", confidence)
	}
	if !wf.AutoApprove {
		return false, "workflow is not marked auto-approvable"
	}

	switch wf.RiskLevel {
	case entity.RiskLow:
		if confidence > 0.7 {
			return true, fmt.Sprintf("low risk with confidence %.2f", confidence)
		}
		return false, fmt.Sprintf("low risk but confidence %.2f not above 0.7", confidence)
	case entity.RiskMedium:
		if confidence >= 0.6 {
			return true, fmt.Sprintf("medium risk with confidence %.2f", confidence)
		}
		return false, fmt.Sprintf("medium risk and confidence %.2f below 0.6", confidence)
	default:
		return false, fmt.Sprintf("unknown risk level %q", wf.RiskLevel)
	}
}

func stepNames(steps []entity.Step) []string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Name)
	}
	return names
}

package handler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreops-dev/incidentpilot/domain/entity"
	"github.com/sreops-dev/incidentpilot/handler"
)

func analyzedIncident(confidence float64) *entity.Incident {
	inc := activeIncident("INC-050")
	inc.Status = entity.StatusPlanning
	inc.Analysis = &entity.Analysis{
		RootCause:           "bad deploy",
		RecommendedWorkflow: "restart_service",
		Confidence:          confidence,
	}
	return inc
}

func TestPlanApprovalPolicy(t *testing.T) {
	tests := []struct {
		name        string
		risk        entity.RiskLevel
		autoApprove bool
		confidence  float64
		wantAuto    bool
	}{
		{"low risk high confidence", entity.RiskLow, true, 0.85, true},
		{"low risk confidence at boundary", entity.RiskLow, true, 0.7, false},
		{"medium risk confidence at boundary", entity.RiskMedium, true, 0.6, true},
		{"medium risk low confidence", entity.RiskMedium, true, 0.55, false},
		{"high risk never auto", entity.RiskHigh, true, 0.99, false},
		{"confidence below half never auto", entity.RiskLow, true, 0.45, false},
		{"workflow veto", entity.RiskLow, false, 0.9, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo()
			repo.workflows = []entity.Workflow{logOnlyWorkflow("restart_service", tt.risk, tt.autoApprove)}
			p := handler.NewPlanner(repo)

			inc := analyzedIncident(tt.confidence)
			outcome := p.Plan(inc)
			require.True(t, outcome.OK())
			require.NotNil(t, inc.Plan)
			assert.Equal(t, tt.wantAuto, inc.Plan.AutoApproved, inc.Plan.ApprovalReason)
			assert.NotEmpty(t, inc.Plan.ApprovalReason)
		})
	}
}

func TestPlanMissingAnalysisIsFatal(t *testing.T) {
	repo := newMockRepo()
	p := handler.NewPlanner(repo)

	inc := activeIncident("INC-051")
	outcome := p.Plan(inc)
	assert.Equal(t, entity.OutcomeFatal, outcome.Kind)
}

func TestPlanUnknownWorkflowIsFatal(t *testing.T) {
	repo := newMockRepo()
	p := handler.NewPlanner(repo)

	inc := analyzedIncident(0.9)
	outcome := p.Plan(inc)
	assert.Equal(t, entity.OutcomeFatal, outcome.Kind)
	assert.Contains(t, outcome.Reason, "does not exist")
}

func TestPlanCopiesWorkflowShape(t *testing.T) {
	repo := newMockRepo()
	wf := logOnlyWorkflow("restart_service", entity.RiskLow, true)
	wf.PreChecks = []entity.Step{{Name: "capture", Type: entity.ActionTypeKubernetes, Action: "capture_state"}}
	wf.Rollback = []entity.Step{{Name: "undo", Type: entity.ActionTypeKubernetes, Action: "rollout_undo"}}
	wf.EstimatedSeconds = 120
	repo.workflows = []entity.Workflow{wf}
	p := handler.NewPlanner(repo)

	inc := analyzedIncident(0.9)
	require.True(t, p.Plan(inc).OK())

	assert.Equal(t, []string{"capture"}, inc.Plan.PreChecks)
	assert.Equal(t, []string{"log"}, inc.Plan.ExecutionSteps)
	assert.Equal(t, []string{"undo"}, inc.Plan.RollbackPlan)
	assert.Equal(t, 120, inc.Plan.EstimatedSeconds)
	assert.Equal(t, entity.RiskLow, inc.Plan.RiskLevel)
}

package handler_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreops-dev/incidentpilot/domain/entity"
	"github.com/sreops-dev/incidentpilot/handler"
)

func step(name string, t entity.ActionType, action string, params map[string]any) entity.Step {
	return entity.Step{Name: name, Type: t, Action: action, Parameters: params}
}

func TestExecuteRunsAllPhases(t *testing.T) {
	k8s := newMockKubernetes()
	e := handler.NewExecutor(k8s, newMockRepo(), &mockNotifier{})

	wf := &entity.Workflow{
		Name:      "restart_service",
		RiskLevel: entity.RiskLow,
		PreChecks: []entity.Step{
			step("capture", entity.ActionTypeKubernetes, "capture_state",
				map[string]any{"namespace": "${environment}", "deployment": "${service}"}),
		},
		Steps: []entity.Step{
			step("restart", entity.ActionTypeKubernetes, "rollout_restart",
				map[string]any{"namespace": "${environment}", "deployment": "${service}"}),
		},
		SuccessActions: []entity.Step{
			step("announce", entity.ActionTypeChat, "post_update",
				map[string]any{"message": "done for ${service}"}),
		},
	}

	result := e.Execute(context.Background(), wf, map[string]any{
		"service":     "api-gateway",
		"environment": "production",
	})

	require.True(t, result.Success)
	assert.Equal(t, 3, result.StepsExecuted)
	assert.Equal(t, []string{"production/api-gateway"}, k8s.restarted)
}

func TestExecutePreCheckFailureAbortsWithoutRollback(t *testing.T) {
	k8s := newMockKubernetes()
	k8s.failures["capture_state"] = fmt.Errorf("not found")
	e := handler.NewExecutor(k8s, newMockRepo(), &mockNotifier{})

	wf := &entity.Workflow{
		Name:      "wf",
		RiskLevel: entity.RiskLow,
		PreChecks: []entity.Step{
			step("capture", entity.ActionTypeKubernetes, "capture_state", nil),
		},
		Steps: []entity.Step{
			step("restart", entity.ActionTypeKubernetes, "rollout_restart", nil),
		},
		Rollback: []entity.Step{
			step("undo", entity.ActionTypeKubernetes, "rollout_undo", nil),
		},
	}

	result := e.Execute(context.Background(), wf, nil)

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "pre-check capture failed")
	assert.Empty(t, k8s.restarted)
	assert.Empty(t, k8s.undone)
}

func TestExecuteRollbackPolicy(t *testing.T) {
	k8s := newMockKubernetes()
	k8s.failures["wait_for_ready"] = fmt.Errorf("never became ready")
	e := handler.NewExecutor(k8s, newMockRepo(), &mockNotifier{})

	wait := step("wait", entity.ActionTypeKubernetes, "wait_for_ready", nil)
	wait.OnFailure = entity.OnFailureRollback
	wf := &entity.Workflow{
		Name:      "wf",
		RiskLevel: entity.RiskLow,
		Steps: []entity.Step{
			step("restart", entity.ActionTypeKubernetes, "rollout_restart", nil),
			wait,
		},
		Rollback: []entity.Step{
			step("undo", entity.ActionTypeKubernetes, "rollout_undo", nil),
		},
	}

	result := e.Execute(context.Background(), wf, nil)

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "rollback executed")
	assert.Len(t, k8s.undone, 1)
}

func TestExecuteContinuePolicy(t *testing.T) {
	k8s := newMockKubernetes()
	k8s.failures["check_pod_health"] = fmt.Errorf("flaky")
	e := handler.NewExecutor(k8s, newMockRepo(), &mockNotifier{})

	health := step("health", entity.ActionTypeKubernetes, "check_pod_health", nil)
	health.OnFailure = entity.OnFailureContinue
	wf := &entity.Workflow{
		Name:      "wf",
		RiskLevel: entity.RiskLow,
		Steps: []entity.Step{
			health,
			step("restart", entity.ActionTypeKubernetes, "rollout_restart", nil),
		},
	}

	result := e.Execute(context.Background(), wf, nil)

	require.True(t, result.Success)
	assert.Len(t, k8s.restarted, 1)
}

func TestExecuteRetriesThenSucceedsRecordsAttempts(t *testing.T) {
	k8s := newMockKubernetes()
	e := handler.NewExecutor(k8s, newMockRepo(), &mockNotifier{})

	s := step("restart", entity.ActionTypeKubernetes, "rollout_restart", nil)
	s.RetryAttempts = 3
	s.RetryDelaySeconds = 1
	wf := &entity.Workflow{Name: "wf", RiskLevel: entity.RiskLow, Steps: []entity.Step{s}}

	result := e.Execute(context.Background(), wf, nil)
	require.True(t, result.Success)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, 1, result.Steps[0].Attempts)
}

func TestExecuteSuccessActionFailureDoesNotFailRun(t *testing.T) {
	k8s := newMockKubernetes()
	k8s.failures["check_pod_health"] = fmt.Errorf("flaky")
	e := handler.NewExecutor(k8s, newMockRepo(), &mockNotifier{})

	wf := &entity.Workflow{
		Name:      "wf",
		RiskLevel: entity.RiskLow,
		Steps: []entity.Step{
			step("restart", entity.ActionTypeKubernetes, "rollout_restart", nil),
		},
		SuccessActions: []entity.Step{
			step("health", entity.ActionTypeKubernetes, "check_pod_health", nil),
		},
	}

	result := e.Execute(context.Background(), wf, nil)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.StepsExecuted)
}

func TestExecuteUnsupportedActionIsTypedFailure(t *testing.T) {
	e := handler.NewExecutor(newMockKubernetes(), newMockRepo(), &mockNotifier{})

	wf := &entity.Workflow{
		Name:      "wf",
		RiskLevel: entity.RiskLow,
		Steps: []entity.Step{
			step("bogus", entity.ActionTypeKubernetes, "delete_everything", nil),
		},
	}

	result := e.Execute(context.Background(), wf, nil)
	require.False(t, result.Success)
	require.Len(t, result.Steps, 1)
	assert.Contains(t, result.Steps[0].Error, "unsupported kubernetes action: delete_everything")
}

func TestExecuteCaptureOutputFeedsLaterSteps(t *testing.T) {
	k8s := newMockKubernetes()
	e := handler.NewExecutor(k8s, newMockRepo(), &mockNotifier{})

	capture := step("capture", entity.ActionTypeKubernetes, "capture_state",
		map[string]any{"deployment": "${service}"})
	capture.CaptureOutput = "previous_state"
	wf := &entity.Workflow{
		Name:      "wf",
		RiskLevel: entity.RiskLow,
		Steps:     []entity.Step{capture},
	}

	result := e.Execute(context.Background(), wf, map[string]any{"service": "api-gateway"})
	require.True(t, result.Success)
	data, ok := result.Context["previous_state"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "app:v1", data["image"])
}

func TestExecuteMissingKubernetesClient(t *testing.T) {
	e := handler.NewExecutor(nil, newMockRepo(), &mockNotifier{})

	wf := &entity.Workflow{
		Name:      "wf",
		RiskLevel: entity.RiskLow,
		Steps: []entity.Step{
			step("restart", entity.ActionTypeKubernetes, "rollout_restart", nil),
		},
	}

	result := e.Execute(context.Background(), wf, nil)
	require.False(t, result.Success)
	assert.Contains(t, result.Steps[0].Error, "kubernetes client is not configured")
}

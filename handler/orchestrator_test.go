package handler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreops-dev/incidentpilot/domain/entity"
	"github.com/sreops-dev/incidentpilot/domain/repository"
	"github.com/sreops-dev/incidentpilot/handler"
)

// ------------------------
// Mock repositories
// ------------------------

type mockRepo struct {
	mu        sync.Mutex
	incidents map[string]*entity.Incident
	statuses  []entity.Status
	anomalies []entity.Anomaly
	workflows []entity.Workflow

	detectErr error
	saveErr   error
	highest   string
	highErr   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{incidents: map[string]*entity.Incident{}}
}

func (m *mockRepo) FindIncidentByID(_ context.Context, id string) (*entity.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inc, ok := m.incidents[id]; ok {
		copied := *inc
		return &copied, nil
	}
	return nil, nil
}

func (m *mockRepo) SaveIncident(_ context.Context, inc *entity.Incident) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if err := inc.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *inc
	m.incidents[inc.ID] = &copied
	m.statuses = append(m.statuses, inc.Status)
	return nil
}

func (m *mockRepo) IncidentsByStatus(_ context.Context, status entity.Status, limit int) ([]entity.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Incident
	for _, inc := range m.incidents {
		if inc.Status == status {
			out = append(out, *inc)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) SimilarIncidents(_ context.Context, _ *entity.Incident, _ int) ([]entity.Incident, error) {
	return nil, nil
}

func (m *mockRepo) HighestIncidentID(_ context.Context) (string, error) {
	return m.highest, m.highErr
}

func (m *mockRepo) DetectAnomalies(_ context.Context, _ string, _ float64) ([]entity.Anomaly, error) {
	return m.anomalies, m.detectErr
}

func (m *mockRepo) CorrelationPatterns(_ context.Context, _ string, _ time.Time) ([]map[string]any, error) {
	return nil, nil
}

func (m *mockRepo) Query(_ context.Context, _ string) ([]map[string]any, error) {
	return nil, nil
}

func (m *mockRepo) LoadWorkflow(name string) (*entity.Workflow, error) {
	for i := range m.workflows {
		if m.workflows[i].Name == name {
			return &m.workflows[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", repository.ErrWorkflowNotFound, name)
}

func (m *mockRepo) ListWorkflows() ([]entity.Workflow, error) {
	return m.workflows, nil
}

type mockNotifier struct {
	mu          sync.Mutex
	detected    []string
	analyses    []string
	executing   []string
	resolutions []string
	escalations []string
	updates     []string
	decision    entity.ApprovalDecision
	approvals   int
	postErr     error
}

func (m *mockNotifier) PostIncidentDetected(_ context.Context, inc *entity.Incident) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", m.postErr
	}
	m.detected = append(m.detected, inc.ID)
	return "1234.5678", nil
}

func (m *mockNotifier) PostAnalysisComplete(inc *entity.Incident, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses = append(m.analyses, inc.ID)
}

func (m *mockNotifier) PostWorkflowExecuting(incidentID, _ string, _ int, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executing = append(m.executing, incidentID)
}

func (m *mockNotifier) PostResolution(incidentID, _ string, _ time.Duration, _ bool, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions = append(m.resolutions, incidentID)
}

func (m *mockNotifier) PostEscalation(incidentID, reason, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations = append(m.escalations, fmt.Sprintf("%s: %s", incidentID, reason))
}

func (m *mockNotifier) PostUpdate(message, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, message)
}

func (m *mockNotifier) RequestApproval(_ context.Context, _ repository.ApprovalRequest) (entity.ApprovalDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals++
	return m.decision, nil
}

type mockGenerator struct {
	responses []string
	errs      []error
	calls     int
}

func (m *mockGenerator) Generate(_ context.Context, _ repository.GenerateRequest) (string, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	if len(m.responses) > 0 {
		return m.responses[len(m.responses)-1], nil
	}
	return "", fmt.Errorf("no canned response")
}

func (m *mockGenerator) UsageStats() repository.UsageStats {
	return repository.UsageStats{APICalls: m.calls}
}

type mockKubernetes struct {
	restarted []string
	scaled    map[string]int32
	undone    []string
	failures  map[string]error
}

func newMockKubernetes() *mockKubernetes {
	return &mockKubernetes{scaled: map[string]int32{}, failures: map[string]error{}}
}

func (m *mockKubernetes) GetDeployment(_ context.Context, namespace, name string) (*repository.DeploymentStatus, error) {
	if err := m.failures["get_deployment"]; err != nil {
		return nil, err
	}
	return &repository.DeploymentStatus{Name: name, Namespace: namespace, Replicas: 3, ReadyReplicas: 3}, nil
}

func (m *mockKubernetes) RolloutRestart(_ context.Context, namespace, name string) error {
	if err := m.failures["rollout_restart"]; err != nil {
		return err
	}
	m.restarted = append(m.restarted, namespace+"/"+name)
	return nil
}

func (m *mockKubernetes) Scale(_ context.Context, namespace, name string, replicas int32) error {
	if err := m.failures["scale"]; err != nil {
		return err
	}
	m.scaled[namespace+"/"+name] = replicas
	return nil
}

func (m *mockKubernetes) WaitForDeploymentReady(_ context.Context, _, _ string, _ time.Duration) error {
	return m.failures["wait_for_ready"]
}

func (m *mockKubernetes) WaitForReplicas(_ context.Context, _, _ string, _ int32, _ time.Duration) error {
	return m.failures["wait_for_replicas"]
}

func (m *mockKubernetes) CheckPodHealth(_ context.Context, _, _ string) (*repository.PodHealth, error) {
	if err := m.failures["check_pod_health"]; err != nil {
		return nil, err
	}
	return &repository.PodHealth{Total: 3, Ready: 3}, nil
}

func (m *mockKubernetes) CaptureDeploymentState(_ context.Context, namespace, name string) (*repository.DeploymentState, error) {
	if err := m.failures["capture_state"]; err != nil {
		return nil, err
	}
	return &repository.DeploymentState{Name: name, Namespace: namespace, Replicas: 3, Image: "app:v1"}, nil
}

func (m *mockKubernetes) RolloutUndo(_ context.Context, namespace, name string, _ int64) error {
	if err := m.failures["rollout_undo"]; err != nil {
		return err
	}
	m.undone = append(m.undone, namespace+"/"+name)
	return nil
}

// ------------------------
// Fixtures
// ------------------------

const analysisJSON = `{"root_cause":"bad deploy of api-gateway","recommended_workflow":"restart_service","confidence":0.85,"reasoning":"error rate spiked right after a deploy event"}`

func logOnlyWorkflow(name string, risk entity.RiskLevel, autoApprove bool) entity.Workflow {
	return entity.Workflow{
		Name:        name,
		Description: "test workflow",
		RiskLevel:   risk,
		AutoApprove: autoApprove,
		Steps: []entity.Step{
			{Name: "log", Type: entity.ActionTypeInternal, Action: "log", Parameters: map[string]any{"message": "hi"}},
		},
	}
}

func activeIncident(id string) *entity.Incident {
	return &entity.Incident{
		ID:         id,
		Status:     entity.StatusActive,
		Severity:   entity.SeverityHigh,
		Service:    "api-gateway",
		ErrorType:  "error_rate_spike",
		DetectedAt: time.Now(),
		ThreadTS:   "1234.5678",
	}
}

func newOrchestrator(repo *mockRepo, notifier *mockNotifier, gen *mockGenerator) *handler.Orchestrator {
	return handler.NewOrchestrator(
		repo,
		notifier,
		handler.NewAnalyst(repo, gen),
		handler.NewPlanner(repo),
		handler.NewExecutor(newMockKubernetes(), repo, notifier),
		handler.NewDocumenter(nil, nil),
		time.Minute,
		10,
	)
}

// ------------------------
// Tests
// ------------------------

func TestProcessIncidentAutoApprovedToDocumented(t *testing.T) {
	repo := newMockRepo()
	repo.workflows = []entity.Workflow{logOnlyWorkflow("restart_service", entity.RiskLow, true)}
	notifier := &mockNotifier{}
	gen := &mockGenerator{responses: []string{analysisJSON}}

	o := newOrchestrator(repo, notifier, gen)
	inc := activeIncident("INC-001")
	require.NoError(t, repo.SaveIncident(context.Background(), inc))
	repo.statuses = nil

	require.NoError(t, o.ProcessIncident(context.Background(), inc))

	assert.Equal(t, entity.StatusDocumented, inc.Status)
	assert.Equal(t, []entity.Status{
		entity.StatusAnalyzing,
		entity.StatusAnalyzed,
		entity.StatusPlanning,
		entity.StatusPlanReady,
		entity.StatusExecuting,
		entity.StatusExecuted,
		entity.StatusDocumenting,
		entity.StatusDocumented,
	}, repo.statuses)

	require.NotNil(t, inc.Analysis)
	assert.Equal(t, "restart_service", inc.Analysis.RecommendedWorkflow)
	require.NotNil(t, inc.Plan)
	assert.True(t, inc.Plan.AutoApproved)
	require.NotNil(t, inc.Execution)
	assert.True(t, inc.Execution.Success)
	require.NotNil(t, inc.Documentation)
	assert.True(t, inc.Documentation.ReportGenerated)

	assert.Zero(t, notifier.approvals)
	assert.Len(t, notifier.resolutions, 1)
	assert.True(t, inc.OrchestratorUpdated)

	stats := o.Stats()
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Resolved)
	assert.Zero(t, stats.Escalated)
}

func TestProcessIncidentHighRiskRequiresApproval(t *testing.T) {
	repo := newMockRepo()
	wf := logOnlyWorkflow("restart_service", entity.RiskHigh, true)
	repo.workflows = []entity.Workflow{wf}
	notifier := &mockNotifier{decision: entity.ApprovalGranted}
	gen := &mockGenerator{responses: []string{analysisJSON}}

	o := newOrchestrator(repo, notifier, gen)
	inc := activeIncident("INC-002")

	require.NoError(t, o.ProcessIncident(context.Background(), inc))

	assert.Equal(t, entity.StatusDocumented, inc.Status)
	assert.Equal(t, 1, notifier.approvals)
	require.NotNil(t, inc.Plan)
	assert.False(t, inc.Plan.AutoApproved)
	assert.Contains(t, inc.Plan.ApprovalReason, "high risk")
}

func TestProcessIncidentApprovalDeniedEscalates(t *testing.T) {
	repo := newMockRepo()
	repo.workflows = []entity.Workflow{logOnlyWorkflow("restart_service", entity.RiskHigh, false)}
	notifier := &mockNotifier{decision: entity.ApprovalDenied}
	gen := &mockGenerator{responses: []string{analysisJSON}}

	o := newOrchestrator(repo, notifier, gen)
	inc := activeIncident("INC-003")

	require.NoError(t, o.ProcessIncident(context.Background(), inc))

	assert.Equal(t, entity.StatusEscalated, inc.Status)
	assert.True(t, inc.Escalated)
	assert.Equal(t, "remediation denied by operator", inc.EscalationReason)
	require.Len(t, notifier.escalations, 1)
	assert.Contains(t, notifier.escalations[0], "denied by operator")
	assert.Equal(t, 1, o.Stats().Escalated)
}

func TestProcessIncidentApprovalTimeoutEscalates(t *testing.T) {
	repo := newMockRepo()
	repo.workflows = []entity.Workflow{logOnlyWorkflow("restart_service", entity.RiskHigh, false)}
	notifier := &mockNotifier{decision: entity.ApprovalTimedOut}
	gen := &mockGenerator{responses: []string{analysisJSON}}

	o := newOrchestrator(repo, notifier, gen)
	inc := activeIncident("INC-004")

	require.NoError(t, o.ProcessIncident(context.Background(), inc))

	assert.Equal(t, entity.StatusEscalated, inc.Status)
	assert.Equal(t, "approval request timed out", inc.EscalationReason)
}

func TestProcessIncidentWorkflowFailureEscalates(t *testing.T) {
	repo := newMockRepo()
	wf := logOnlyWorkflow("restart_service", entity.RiskLow, true)
	wf.Steps = []entity.Step{
		{Name: "boom", Type: entity.ActionTypeInternal, Action: "nope"},
	}
	repo.workflows = []entity.Workflow{wf}
	notifier := &mockNotifier{}
	gen := &mockGenerator{responses: []string{analysisJSON}}

	o := newOrchestrator(repo, notifier, gen)
	inc := activeIncident("INC-005")

	require.NoError(t, o.ProcessIncident(context.Background(), inc))

	assert.Equal(t, entity.StatusEscalated, inc.Status)
	assert.Contains(t, inc.EscalationReason, "workflow restart_service failed")
	require.NotNil(t, inc.Execution)
	assert.False(t, inc.Execution.Success)

	saved, err := repo.FindIncidentByID(context.Background(), "INC-005")
	require.NoError(t, err)
	require.NotNil(t, saved.Execution)
	assert.False(t, saved.Execution.Success)
}

func TestProcessIncidentAnalysisFailureRetriesNextCycle(t *testing.T) {
	repo := newMockRepo()
	repo.workflows = []entity.Workflow{logOnlyWorkflow("restart_service", entity.RiskLow, true)}
	notifier := &mockNotifier{}
	gen := &mockGenerator{errs: []error{fmt.Errorf("upstream flake")}, responses: []string{"", analysisJSON}}

	o := newOrchestrator(repo, notifier, gen)
	inc := activeIncident("INC-006")

	require.NoError(t, o.ProcessIncident(context.Background(), inc))
	assert.Equal(t, entity.StatusActive, inc.Status)
	assert.False(t, inc.Escalated)

	stats := o.Stats()
	assert.Equal(t, 1, stats.Errors)
	require.Len(t, stats.RecentErrors, 1)
	assert.Contains(t, stats.RecentErrors[0], "INC-006")

	// next cycle succeeds
	require.NoError(t, o.ProcessIncident(context.Background(), inc))
	assert.Equal(t, entity.StatusDocumented, inc.Status)
}

func TestProcessIncidentUnknownWorkflowEscalates(t *testing.T) {
	repo := newMockRepo()
	notifier := &mockNotifier{}
	gen := &mockGenerator{responses: []string{analysisJSON}}

	o := newOrchestrator(repo, notifier, gen)
	inc := activeIncident("INC-007")

	require.NoError(t, o.ProcessIncident(context.Background(), inc))

	assert.Equal(t, entity.StatusEscalated, inc.Status)
	assert.Contains(t, inc.EscalationReason, "does not exist")
}

func TestProcessIncidentStuckMidStageEscalates(t *testing.T) {
	repo := newMockRepo()
	notifier := &mockNotifier{}
	gen := &mockGenerator{responses: []string{analysisJSON}}

	o := newOrchestrator(repo, notifier, gen)
	inc := activeIncident("INC-008")
	inc.Status = entity.StatusExecuting

	require.NoError(t, o.ProcessIncident(context.Background(), inc))

	assert.Equal(t, entity.StatusEscalated, inc.Status)
	assert.Contains(t, inc.EscalationReason, "stuck in executing")
}

func TestStatsRecentErrorsKeepLastTen(t *testing.T) {
	repo := newMockRepo()
	repo.workflows = []entity.Workflow{logOnlyWorkflow("restart_service", entity.RiskLow, true)}
	notifier := &mockNotifier{}

	o := newOrchestrator(repo, notifier, &mockGenerator{responses: []string{analysisJSON}})

	for i := 0; i < 15; i++ {
		inc := activeIncident(fmt.Sprintf("INC-%03d", 100+i))
		inc.Status = entity.StatusExecuting
		require.NoError(t, o.ProcessIncident(context.Background(), inc))
	}
	stats := o.Stats()
	assert.Equal(t, 15, stats.Processed)
	assert.Equal(t, 15, stats.Escalated)
	assert.Equal(t, 15, stats.Errors)
	require.Len(t, stats.RecentErrors, 10)
	assert.Contains(t, stats.RecentErrors[0], "INC-105")
	assert.Contains(t, stats.RecentErrors[9], "INC-114")
}

func TestEscalationRecordedInRecentErrors(t *testing.T) {
	repo := newMockRepo()
	repo.workflows = []entity.Workflow{logOnlyWorkflow("restart_service", entity.RiskHigh, false)}
	notifier := &mockNotifier{decision: entity.ApprovalDenied}
	gen := &mockGenerator{responses: []string{analysisJSON}}

	o := newOrchestrator(repo, notifier, gen)
	require.NoError(t, o.ProcessIncident(context.Background(), activeIncident("INC-020")))

	stats := o.Stats()
	assert.Equal(t, 1, stats.Errors)
	require.Len(t, stats.RecentErrors, 1)
	assert.Contains(t, stats.RecentErrors[0], "INC-020")
	assert.Contains(t, stats.RecentErrors[0], string(entity.StatusApprovalRequired))
	assert.Contains(t, stats.RecentErrors[0], "denied by operator")
}

package repository

import (
	"context"
	"time"

	"github.com/sreops-dev/incidentpilot/domain/entity"
)

type IncidentRepository interface {
	FindIncidentByID(context.Context, string) (*entity.Incident, error)
	SaveIncident(context.Context, *entity.Incident) error
	IncidentsByStatus(context.Context, entity.Status, int) ([]entity.Incident, error)
	SimilarIncidents(context.Context, *entity.Incident, int) ([]entity.Incident, error)
	HighestIncidentID(context.Context) (string, error)
}

type TelemetryRepository interface {
	DetectAnomalies(ctx context.Context, window string, thresholdSigma float64) ([]entity.Anomaly, error)
	CorrelationPatterns(ctx context.Context, service string, around time.Time) ([]map[string]any, error)
	Query(ctx context.Context, flux string) ([]map[string]any, error)
}

// ApprovalRequest is posted to the incident channel; the decision comes
// back through emoji reactions.
type ApprovalRequest struct {
	IncidentID   string
	WorkflowName string
	Service      string
	RiskLevel    entity.RiskLevel
	Timeout      time.Duration
	ThreadTS     string
}

type Notifier interface {
	PostIncidentDetected(ctx context.Context, incident *entity.Incident) (string, error)
	PostAnalysisComplete(incident *entity.Incident, threadTS string)
	PostWorkflowExecuting(incidentID, workflowName string, estimatedSeconds int, threadTS string)
	PostResolution(incidentID, workflowName string, duration time.Duration, success bool, threadTS string)
	PostEscalation(incidentID, reason, threadTS string)
	PostUpdate(message, threadTS string)
	RequestApproval(ctx context.Context, req ApprovalRequest) (entity.ApprovalDecision, error)
}

// GenerateRequest is the single contract every generative backend
// implements.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	JSONMode     bool
}

// UsageStats accumulates token usage and estimated cost across calls.
type UsageStats struct {
	APICalls        int
	TotalTokens     int
	EstimatedCostUS float64
}

type Generator interface {
	Generate(context.Context, GenerateRequest) (string, error)
	UsageStats() UsageStats
}

// DeploymentStatus is the data view of a deployment the workflow engine
// acts on.
type DeploymentStatus struct {
	Name          string
	Namespace     string
	Replicas      int32
	ReadyReplicas int32
}

// DeploymentState is a capture taken before a risky change, for rollback.
type DeploymentState struct {
	Name      string
	Namespace string
	Replicas  int32
	Image     string
}

// PodHealth summarizes the pods behind a deployment selector.
type PodHealth struct {
	Total     int
	Ready     int
	Unhealthy []string
}

type KubernetesRepositorier interface {
	GetDeployment(ctx context.Context, namespace, name string) (*DeploymentStatus, error)
	RolloutRestart(ctx context.Context, namespace, name string) error
	Scale(ctx context.Context, namespace, name string, replicas int32) error
	WaitForDeploymentReady(ctx context.Context, namespace, name string, timeout time.Duration) error
	WaitForReplicas(ctx context.Context, namespace, name string, target int32, timeout time.Duration) error
	CheckPodHealth(ctx context.Context, namespace, app string) (*PodHealth, error)
	CaptureDeploymentState(ctx context.Context, namespace, name string) (*DeploymentState, error)
	RolloutUndo(ctx context.Context, namespace, name string, toRevision int64) error
}

type WorkflowRepository interface {
	LoadWorkflow(name string) (*entity.Workflow, error)
	ListWorkflows() ([]entity.Workflow, error)
}

type ReportExporter interface {
	ExportReport(ctx context.Context, title, markdown string) (string, error)
}

type Repository interface {
	IncidentRepository
	TelemetryRepository
	WorkflowRepository
}

type RepositoryFacade struct {
	IncidentRepository
	TelemetryRepository
	WorkflowRepository
}

func NewRepository(incidentRepository IncidentRepository, telemetryRepository TelemetryRepository, workflowRepository WorkflowRepository) Repository {
	return RepositoryFacade{
		IncidentRepository:  incidentRepository,
		TelemetryRepository: telemetryRepository,
		WorkflowRepository:  workflowRepository,
	}
}

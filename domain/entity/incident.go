package entity

import (
	"fmt"
	"time"
)

// Status is the pipeline state of an incident. Transitions are monotonic
// along the graph below; escalation is reachable from any non-terminal
// status.
type Status string

const (
	StatusActive           Status = "active"
	StatusAnalyzing        Status = "analyzing"
	StatusAnalyzed         Status = "analyzed"
	StatusPlanning         Status = "planning"
	StatusPlanReady        Status = "plan_ready"
	StatusApprovalRequired Status = "approval_required"
	StatusExecuting        Status = "executing"
	StatusExecuted         Status = "executed"
	StatusDocumenting      Status = "documenting"
	StatusDocumented       Status = "documented"
	StatusEscalated        Status = "escalated"
)

var statusTransitions = map[Status][]Status{
	StatusActive:           {StatusAnalyzing},
	StatusAnalyzing:        {StatusAnalyzed},
	StatusAnalyzed:         {StatusPlanning},
	StatusPlanning:         {StatusPlanReady, StatusApprovalRequired},
	StatusPlanReady:        {StatusExecuting},
	StatusApprovalRequired: {StatusExecuting},
	StatusExecuting:        {StatusExecuted},
	StatusExecuted:         {StatusDocumenting},
	StatusDocumenting:      {StatusDocumented},
}

// CanTransition reports whether from→to is a legal move in the status
// graph. Escalation is always legal from a non-terminal status.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusEscalated {
		return true
	}
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusDocumented || s == StatusEscalated
}

// Severity is ordered from LOW to CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityForScore maps a maximum anomaly score (in standard deviations
// above baseline) to a severity bucket.
func SeverityForScore(sigma float64) Severity {
	switch {
	case sigma >= 5.0:
		return SeverityCritical
	case sigma >= 3.0:
		return SeverityHigh
	case sigma >= 2.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AnomalyScores holds the per-signal deviation scores captured at
// detection time.
type AnomalyScores struct {
	Error   float64 `json:"error" dynamo:"error"`
	Latency float64 `json:"latency" dynamo:"latency"`
	CPU     float64 `json:"cpu" dynamo:"cpu"`
	Max     float64 `json:"max" dynamo:"max"`
}

// MetricSnapshot is a point-in-time view of the signals the detector
// evaluates, kept on the incident for audit.
type MetricSnapshot struct {
	ErrorRate  float64 `json:"error_rate" dynamo:"error_rate"`
	LatencyP95 float64 `json:"latency_p95" dynamo:"latency_p95"`
	CPU        float64 `json:"cpu" dynamo:"cpu"`
}

// Analysis is written by the analyst stage.
type Analysis struct {
	RootCause           string    `json:"root_cause" dynamo:"root_cause"`
	RecommendedWorkflow string    `json:"recommended_workflow" dynamo:"recommended_workflow"`
	Confidence          float64   `json:"confidence" dynamo:"confidence"`
	Reasoning           string    `json:"reasoning" dynamo:"reasoning"`
	SimilarIncidents    []string  `json:"similar_incidents" dynamo:"similar_incidents"`
	AnalyzedAt          time.Time `json:"analyzed_at" dynamo:"analyzed_at"`
}

// RemediationPlan is written by the planner stage.
type RemediationPlan struct {
	WorkflowName     string    `json:"workflow_name" dynamo:"workflow_name"`
	RiskLevel        RiskLevel `json:"risk_level" dynamo:"risk_level"`
	AutoApproved     bool      `json:"auto_approved" dynamo:"auto_approved"`
	ApprovalReason   string    `json:"approval_reason" dynamo:"approval_reason"`
	PreChecks        []string  `json:"pre_checks" dynamo:"pre_checks"`
	ExecutionSteps   []string  `json:"execution_steps" dynamo:"execution_steps"`
	ValidationSteps  []string  `json:"validation_steps" dynamo:"validation_steps"`
	RollbackPlan     []string  `json:"rollback_plan" dynamo:"rollback_plan"`
	EstimatedSeconds int       `json:"estimated_seconds" dynamo:"estimated_seconds"`
	GeneratedAt      time.Time `json:"generated_at" dynamo:"generated_at"`
}

// ExecutionSummary is written by the execution stage.
type ExecutionSummary struct {
	WorkflowName    string    `json:"workflow_name" dynamo:"workflow_name"`
	Success         bool      `json:"success" dynamo:"success"`
	Message         string    `json:"message" dynamo:"message"`
	DurationSeconds float64   `json:"duration_seconds" dynamo:"duration_seconds"`
	ExecutedAt      time.Time `json:"executed_at" dynamo:"executed_at"`
}

// DocumentationRecord is written by the documentation stage.
type DocumentationRecord struct {
	ReportGenerated  bool      `json:"report_generated" dynamo:"report_generated"`
	RunbookGenerated bool      `json:"runbook_generated" dynamo:"runbook_generated"`
	ExportURL        string    `json:"export_url" dynamo:"export_url"`
	DocumentedAt     time.Time `json:"documented_at" dynamo:"documented_at"`
}

// Incident is the central record of the pipeline. It is created by the
// detector and mutated exclusively by the orchestrator afterwards; the
// document store is the single source of truth.
type Incident struct {
	ID             string   `json:"incident_id" dynamo:"incident_id,hash"`
	Status         Status   `json:"status" dynamo:"status"`
	Severity       Severity `json:"severity" dynamo:"severity"`
	Service        string   `json:"service" dynamo:"service"`
	Environment    string   `json:"environment" dynamo:"environment"`
	ErrorType      string   `json:"error_type" dynamo:"error_type"`
	ErrorSignature string   `json:"error_signature" dynamo:"error_signature"`

	DetectedAt      time.Time      `json:"detected_at" dynamo:"detected_at"`
	AnomalyScores   AnomalyScores  `json:"anomaly_scores" dynamo:"anomaly_scores"`
	CurrentMetrics  MetricSnapshot `json:"current_metrics" dynamo:"current_metrics"`
	BaselineMetrics MetricSnapshot `json:"baseline_metrics" dynamo:"baseline_metrics"`

	Analysis      *Analysis            `json:"analysis,omitempty" dynamo:"analysis,omitempty"`
	Plan          *RemediationPlan     `json:"plan,omitempty" dynamo:"plan,omitempty"`
	Execution     *ExecutionSummary    `json:"execution,omitempty" dynamo:"execution,omitempty"`
	Documentation *DocumentationRecord `json:"documentation,omitempty" dynamo:"documentation,omitempty"`

	Escalated        bool      `json:"escalated" dynamo:"escalated"`
	EscalationReason string    `json:"escalation_reason,omitempty" dynamo:"escalation_reason,omitempty"`
	EscalatedAt      time.Time `json:"escalated_at,omitempty" dynamo:"escalated_at,omitempty"`

	ThreadTS string `json:"thread_ts,omitempty" dynamo:"thread_ts,omitempty"`

	OrchestratorUpdated bool      `json:"orchestrator_updated" dynamo:"orchestrator_updated"`
	LastUpdated         time.Time `json:"last_updated" dynamo:"last_updated"`
}

// Validate checks the invariants enforced at the store boundary.
func (i *Incident) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("incident id is empty")
	}
	if i.Status == "" {
		return fmt.Errorf("incident %s has no status", i.ID)
	}
	if i.Analysis != nil {
		if c := i.Analysis.Confidence; c < 0 || c > 1 {
			return fmt.Errorf("incident %s confidence %.2f out of range", i.ID, c)
		}
	}
	return nil
}

package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sreops-dev/incidentpilot/domain/entity"
	"github.com/sreops-dev/incidentpilot/domain/repository"
)

// Stats is a snapshot of orchestrator counters for operator reporting.
type Stats struct {
	Processed    int
	Resolved     int
	Escalated    int
	Errors       int
	RecentErrors []string
}

const recentErrorLimit = 10

// Orchestrator drives incidents through the pipeline. It is the only
// writer of incident state after detection; every transition goes
// through the status graph or the incident escalates.
type Orchestrator struct {
	repo            repository.Repository
	notifier        repository.Notifier
	analyst         *Analyst
	planner         *Planner
	executor        *Executor
	documenter      *Documenter
	approvalTimeout time.Duration
	batchSize       int

	mu           sync.Mutex
	stats        Stats
	recentErrors []string
}

func NewOrchestrator(
	repo repository.Repository,
	notifier repository.Notifier,
	analyst *Analyst,
	planner *Planner,
	executor *Executor,
	documenter *Documenter,
	approvalTimeout time.Duration,
	batchSize int,
) *Orchestrator {
	return &Orchestrator{
		repo:            repo,
		notifier:        notifier,
		analyst:         analyst,
		planner:         planner,
		executor:        executor,
		documenter:      documenter,
		approvalTimeout: approvalTimeout,
		batchSize:       batchSize,
	}
}

// pollStatuses are the states the monitor loop picks incidents up from.
// Mid-stage states (analyzing, planning, executing, documenting) are
// owned by an in-flight ProcessIncident call and not re-entered.
var pollStatuses = []entity.Status{
	entity.StatusActive,
	entity.StatusAnalyzed,
	entity.StatusPlanReady,
	entity.StatusApprovalRequired,
	entity.StatusExecuted,
}

// Monitor polls the incident store until the context is canceled. Each
// cycle sleeps the configured interval minus the time the cycle took.
func (o *Orchestrator) Monitor(ctx context.Context, interval time.Duration) error {
	slog.Info("orchestrator monitor started", slog.Duration("interval", interval))
	for {
		start := time.Now()
		o.runCycle(ctx)

		sleep := interval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		if err := sleepContext(ctx, sleep); err != nil {
			slog.Info("orchestrator monitor stopped")
			return err
		}
	}
}

func (o *Orchestrator) runCycle(ctx context.Context) {
	for _, status := range pollStatuses {
		incidents, err := o.repo.IncidentsByStatus(ctx, status, o.batchSize)
		if err != nil {
			slog.Error("failed to list incidents", slog.String("status", string(status)), slog.Any("error", err))
			o.recordError(fmt.Sprintf("failed to list %s incidents: %v", status, err))
			continue
		}
		for i := range incidents {
			if err := o.ProcessIncident(ctx, &incidents[i]); err != nil {
				slog.Error("incident processing failed", slog.String("incident_id", incidents[i].ID), slog.Any("error", err))
				o.recordError(fmt.Sprintf("%s: %v", incidents[i].ID, err))
			}
		}
	}
}

// ProcessIncident advances one incident as far as it can go in a single
// call. A retryable stage failure leaves the incident where it is for
// the next cycle; a fatal one escalates.
func (o *Orchestrator) ProcessIncident(ctx context.Context, incident *entity.Incident) error {
	o.mu.Lock()
	o.stats.Processed++
	o.mu.Unlock()

	for !incident.Status.Terminal() {
		var outcome entity.Outcome
		switch incident.Status {
		case entity.StatusActive:
			outcome = o.stageAnalyze(ctx, incident)
		case entity.StatusAnalyzed:
			outcome = o.stagePlan(ctx, incident)
		case entity.StatusPlanReady:
			outcome = o.stageExecute(ctx, incident)
		case entity.StatusApprovalRequired:
			outcome = o.stageApproval(ctx, incident)
		case entity.StatusExecuted:
			outcome = o.stageDocument(ctx, incident)
		default:
			// A mid-stage status here means a previous run died between
			// transition and completion. Leave it for manual review.
			return o.escalate(ctx, incident, fmt.Sprintf("incident stuck in %s", incident.Status))
		}

		switch outcome.Kind {
		case entity.OutcomeSuccess:
			continue
		case entity.OutcomeRetryable:
			o.recordError(fmt.Sprintf("%s %s: %s", incident.ID, incident.Status, outcome.Reason))
			slog.Warn("stage failed, will retry next cycle",
				slog.String("incident_id", incident.ID),
				slog.String("status", string(incident.Status)),
				slog.String("reason", outcome.Reason))
			return nil
		default:
			return o.escalate(ctx, incident, outcome.Reason)
		}
	}

	if incident.Status == entity.StatusDocumented {
		o.mu.Lock()
		o.stats.Resolved++
		o.mu.Unlock()
	}
	return nil
}

func (o *Orchestrator) stageAnalyze(ctx context.Context, incident *entity.Incident) entity.Outcome {
	if err := o.transition(ctx, incident, entity.StatusAnalyzing); err != nil {
		return entity.Retryable(err.Error())
	}

	if outcome := o.analyst.Analyze(ctx, incident); !outcome.OK() {
		// Back out of the mid-stage status so the next cycle can retry.
		if outcome.Kind == entity.OutcomeRetryable {
			incident.Status = entity.StatusActive
			if err := o.repo.SaveIncident(ctx, incident); err != nil {
				return entity.Retryable(err.Error())
			}
		}
		return outcome
	}

	if err := o.transition(ctx, incident, entity.StatusAnalyzed); err != nil {
		return entity.Retryable(err.Error())
	}
	o.notifier.PostAnalysisComplete(incident, incident.ThreadTS)
	slog.Info("analysis complete",
		slog.String("incident_id", incident.ID),
		slog.String("root_cause", incident.Analysis.RootCause),
		slog.Float64("confidence", incident.Analysis.Confidence))
	return entity.Success()
}

func (o *Orchestrator) stagePlan(ctx context.Context, incident *entity.Incident) entity.Outcome {
	if err := o.transition(ctx, incident, entity.StatusPlanning); err != nil {
		return entity.Retryable(err.Error())
	}

	if outcome := o.planner.Plan(incident); !outcome.OK() {
		if outcome.Kind == entity.OutcomeRetryable {
			incident.Status = entity.StatusAnalyzed
			if err := o.repo.SaveIncident(ctx, incident); err != nil {
				return entity.Retryable(err.Error())
			}
		}
		return outcome
	}

	next := entity.StatusApprovalRequired
	if incident.Plan.AutoApproved {
		next = entity.StatusPlanReady
	}
	if err := o.transition(ctx, incident, next); err != nil {
		return entity.Retryable(err.Error())
	}
	slog.Info("plan generated",
		slog.String("incident_id", incident.ID),
		slog.String("workflow", incident.Plan.WorkflowName),
		slog.Bool("auto_approved", incident.Plan.AutoApproved),
		slog.String("reason", incident.Plan.ApprovalReason))
	return entity.Success()
}

func (o *Orchestrator) stageApproval(ctx context.Context, incident *entity.Incident) entity.Outcome {
	decision, err := o.notifier.RequestApproval(ctx, repository.ApprovalRequest{
		IncidentID:   incident.ID,
		WorkflowName: incident.Plan.WorkflowName,
		Service:      incident.Service,
		RiskLevel:    incident.Plan.RiskLevel,
		Timeout:      o.approvalTimeout,
		ThreadTS:     incident.ThreadTS,
	})
	if err != nil {
		return entity.Retryable(fmt.Sprintf("approval request failed: %v", err))
	}

	switch decision {
	case entity.ApprovalGranted:
		return o.runWorkflow(ctx, incident)
	case entity.ApprovalDenied:
		return entity.Fatal("remediation denied by operator")
	default:
		return entity.Fatal("approval request timed out")
	}
}

func (o *Orchestrator) stageExecute(ctx context.Context, incident *entity.Incident) entity.Outcome {
	return o.runWorkflow(ctx, incident)
}

func (o *Orchestrator) runWorkflow(ctx context.Context, incident *entity.Incident) entity.Outcome {
	wf, err := o.repo.LoadWorkflow(incident.Plan.WorkflowName)
	if err != nil {
		return entity.Fatal(fmt.Sprintf("failed to load workflow %s: %v", incident.Plan.WorkflowName, err))
	}

	if err := o.transition(ctx, incident, entity.StatusExecuting); err != nil {
		return entity.Retryable(err.Error())
	}
	o.notifier.PostWorkflowExecuting(incident.ID, wf.Name, wf.EstimatedSeconds, incident.ThreadTS)

	result := o.executor.Execute(ctx, wf, map[string]any{
		"incident_id": incident.ID,
		"service":     incident.Service,
		"environment": incident.Environment,
		"thread_ts":   incident.ThreadTS,
	})

	incident.Execution = &entity.ExecutionSummary{
		WorkflowName:    wf.Name,
		Success:         result.Success,
		Message:         result.Message,
		DurationSeconds: result.Duration.Seconds(),
		ExecutedAt:      time.Now(),
	}

	if !result.Success {
		// Persist the execution record before escalating so the audit
		// trail survives.
		if err := o.repo.SaveIncident(ctx, incident); err != nil {
			slog.Error("failed to save failed execution",
				slog.String("incident_id", incident.ID), slog.Any("error", err))
		}
		return entity.Fatal(fmt.Sprintf("workflow %s failed: %s", wf.Name, result.Message))
	}

	if err := o.transition(ctx, incident, entity.StatusExecuted); err != nil {
		return entity.Retryable(err.Error())
	}
	o.notifier.PostResolution(incident.ID, wf.Name, result.Duration, true, incident.ThreadTS)
	slog.Info("workflow executed",
		slog.String("incident_id", incident.ID),
		slog.String("workflow", wf.Name),
		slog.Duration("duration", result.Duration))
	return entity.Success()
}

func (o *Orchestrator) stageDocument(ctx context.Context, incident *entity.Incident) entity.Outcome {
	if err := o.transition(ctx, incident, entity.StatusDocumenting); err != nil {
		return entity.Retryable(err.Error())
	}

	// Documentation failures are recorded inside the documenter and
	// never block closing the incident.
	o.documenter.Document(ctx, incident)

	if err := o.transition(ctx, incident, entity.StatusDocumented); err != nil {
		return entity.Retryable(err.Error())
	}
	slog.Info("incident documented", slog.String("incident_id", incident.ID))
	return entity.Success()
}

func (o *Orchestrator) transition(ctx context.Context, incident *entity.Incident, to entity.Status) error {
	if !entity.CanTransition(incident.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s for %s", incident.Status, to, incident.ID)
	}
	incident.Status = to
	incident.OrchestratorUpdated = true
	if err := o.repo.SaveIncident(ctx, incident); err != nil {
		return fmt.Errorf("failed to save transition to %s: %w", to, err)
	}
	return nil
}

func (o *Orchestrator) escalate(ctx context.Context, incident *entity.Incident, reason string) error {
	o.recordError(fmt.Sprintf("%s %s: %s", incident.ID, incident.Status, reason))

	incident.Escalated = true
	incident.EscalationReason = reason
	incident.EscalatedAt = time.Now()

	if err := o.transition(ctx, incident, entity.StatusEscalated); err != nil {
		return fmt.Errorf("failed to escalate %s: %w", incident.ID, err)
	}
	o.notifier.PostEscalation(incident.ID, reason, incident.ThreadTS)

	o.mu.Lock()
	o.stats.Escalated++
	o.mu.Unlock()

	slog.Warn("incident escalated",
		slog.String("incident_id", incident.ID), slog.String("reason", reason))
	return nil
}

func (o *Orchestrator) recordError(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Errors++
	o.recentErrors = append(o.recentErrors, msg)
	if len(o.recentErrors) > recentErrorLimit {
		o.recentErrors = o.recentErrors[len(o.recentErrors)-recentErrorLimit:]
	}
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.stats
	s.RecentErrors = append([]string(nil), o.recentErrors...)
	return s
}

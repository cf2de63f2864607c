package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/sreops-dev/incidentpilot/domain/entity"
)

// RenderIncidentReport assembles the post-incident report from the
// incident record and the generated narrative sections.
func RenderIncidentReport(incident *entity.Incident, summary, impact, timeline string) string {
	analysis := incident.Analysis
	rootCause := "not analyzed"
	confidence := 0.0
	if analysis != nil {
		rootCause = analysis.RootCause
		confidence = analysis.Confidence
	}

	var remediation strings.Builder
	if incident.Plan != nil {
		remediation.WriteString(fmt.Sprintf("Workflow: %s (risk: %s)\n\n", incident.Plan.WorkflowName, incident.Plan.RiskLevel))
		for _, step := range incident.Plan.ExecutionSteps {
			remediation.WriteString(fmt.Sprintf("- %s\n", step))
		}
	}
	executionResult := "not executed"
	if incident.Execution != nil {
		executionResult = fmt.Sprintf("%s in %.0fs", resultWord(incident.Execution.Success), incident.Execution.DurationSeconds)
	}

	return fmt.Sprintf(`
# Incident Report: %s

## Date

%s

## Service

%s (%s)

## Severity

%s

## Summary

%s

## Impact

%s

## Root Cause

%s (confidence: %.0f%%)

## Remediation

%s
## Execution Result

%s

## Timeline

%s

## Detection Metrics

| Metric | Detected | Baseline |
|--------|----------|----------|
| Error rate | %.4f | %.4f |
| Latency p95 | %.1fms | %.1fms |
| CPU | %.1f%% | %.1f%% |
`,
		incident.ID,
		incident.DetectedAt.Format("2006-01-02 15:04:05"),
		incident.Service,
		incident.Environment,
		incident.Severity,
		summary,
		impact,
		rootCause,
		confidence*100,
		remediation.String(),
		executionResult,
		timeline,
		incident.CurrentMetrics.ErrorRate, incident.BaselineMetrics.ErrorRate,
		incident.CurrentMetrics.LatencyP95, incident.BaselineMetrics.LatencyP95,
		incident.CurrentMetrics.CPU, incident.BaselineMetrics.CPU,
	)
}

// RenderRunbook produces the runbook entry for recurrences of the same
// error signature.
func RenderRunbook(incident *entity.Incident, diagnosis, resolution string) string {
	workflowName := "manual remediation"
	if incident.Plan != nil {
		workflowName = incident.Plan.WorkflowName
	}
	return fmt.Sprintf(`
# Runbook: %s on %s

## Symptoms

Deviation of %.1fσ above baseline, dominated by %s.

## Diagnosis

%s

## Resolution

%s

## Automated Workflow

%s

## Last Occurrence

%s (%s)
`,
		incident.ErrorType,
		incident.Service,
		incident.AnomalyScores.Max,
		incident.ErrorType,
		diagnosis,
		resolution,
		workflowName,
		incident.ID,
		incident.DetectedAt.Format(time.RFC3339),
	)
}

func resultWord(success bool) string {
	if success {
		return "succeeded"
	}
	return "failed"
}

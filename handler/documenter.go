package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sreops-dev/incidentpilot/domain/entity"
	"github.com/sreops-dev/incidentpilot/domain/repository"
	"github.com/sreops-dev/incidentpilot/presentation/report"
)

// Documenter produces the post-incident report and runbook entry. It is
// deliberately forgiving: a documentation failure is logged and recorded
// but never escalates an already-remediated incident.
type Documenter struct {
	generator repository.Generator
	exporter  repository.ReportExporter
}

func NewDocumenter(generator repository.Generator, exporter repository.ReportExporter) *Documenter {
	return &Documenter{generator: generator, exporter: exporter}
}

func (d *Documenter) Document(ctx context.Context, incident *entity.Incident) {
	record := &entity.DocumentationRecord{DocumentedAt: time.Now()}
	defer func() {
		incident.Documentation = record
	}()

	summary := d.narrative(ctx, incident, "Write a two-sentence summary of this incident for a post-incident report.")
	impact := d.narrative(ctx, incident, "Describe the user-facing impact of this incident in one short paragraph.")
	timeline := d.timeline(incident)

	reportBody := report.RenderIncidentReport(incident, summary, impact, timeline)
	record.ReportGenerated = true

	diagnosis := "See incident analysis."
	resolution := "See remediation workflow."
	if incident.Analysis != nil {
		diagnosis = incident.Analysis.Reasoning
	}
	if incident.Execution != nil {
		resolution = fmt.Sprintf("Run workflow %s (last run %s).", incident.Execution.WorkflowName, resultWord(incident.Execution.Success))
	}
	runbookBody := report.RenderRunbook(incident, diagnosis, resolution)
	record.RunbookGenerated = true

	if d.exporter == nil {
		return
	}
	url, err := d.exporter.ExportReport(ctx, fmt.Sprintf("Incident Report %s", incident.ID), reportBody)
	if err != nil {
		slog.Error("failed to export incident report",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
		return
	}
	record.ExportURL = url

	if _, err := d.exporter.ExportReport(ctx, fmt.Sprintf("Runbook: %s on %s (%s)", incident.ErrorType, incident.Service, incident.ID), runbookBody); err != nil {
		slog.Error("failed to export runbook",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
	}
}

// narrative asks the generator for one section of prose. On any failure
// it degrades to a deterministic fallback built from the record itself.
func (d *Documenter) narrative(ctx context.Context, incident *entity.Incident, instruction string) string {
	fallback := fmt.Sprintf("%s anomaly on %s, peak deviation %.1f sigma.",
		incident.ErrorType, incident.Service, incident.AnomalyScores.Max)
	if d.generator == nil {
		return fallback
	}

	rootCause := "unknown"
	if incident.Analysis != nil {
		rootCause = incident.Analysis.RootCause
	}
	prompt := fmt.Sprintf(`%s

Incident: %s
Service: %s (%s)
Error type: %s
Severity: %s
Root cause: %s`,
		instruction, incident.ID, incident.Service, incident.Environment,
		incident.ErrorType, incident.Severity, rootCause)

	text, err := d.generator.Generate(ctx, repository.GenerateRequest{
		Prompt:      prompt,
		Temperature: 0.3,
		MaxTokens:   400,
	})
	if err != nil {
		slog.Warn("failed to generate report narrative",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
		return fallback
	}
	return text
}

func (d *Documenter) timeline(incident *entity.Incident) string {
	var lines []string
	add := func(t time.Time, event string) {
		if !t.IsZero() {
			lines = append(lines, fmt.Sprintf("- %s %s", t.Format("15:04:05"), event))
		}
	}

	add(incident.DetectedAt, "anomaly detected")
	if incident.Analysis != nil {
		add(incident.Analysis.AnalyzedAt, "root cause analysis completed")
	}
	if incident.Plan != nil {
		add(incident.Plan.GeneratedAt, fmt.Sprintf("remediation plan generated (%s)", incident.Plan.WorkflowName))
	}
	if incident.Execution != nil {
		add(incident.Execution.ExecutedAt, fmt.Sprintf("workflow %s %s", incident.Execution.WorkflowName, resultWord(incident.Execution.Success)))
	}
	if incident.Escalated {
		add(incident.EscalatedAt, fmt.Sprintf("escalated: %s", incident.EscalationReason))
	}

	timeline := ""
	for _, line := range lines {
		timeline += line + "\n"
	}
	return timeline
}

func resultWord(success bool) string {
	if success {
		return "succeeded"
	}
	return "failed"
}

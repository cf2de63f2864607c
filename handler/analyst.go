package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sreops-dev/incidentpilot/domain/entity"
	"github.com/sreops-dev/incidentpilot/domain/repository"
)

const similarIncidentLimit = 3

// Analyst asks the generative backend for a root cause and a workflow
// recommendation, grounded in telemetry correlations and past incidents.
type Analyst struct {
	repo      repository.Repository
	generator repository.Generator
}

func NewAnalyst(repo repository.Repository, generator repository.Generator) *Analyst {
	return &Analyst{repo: repo, generator: generator}
}

type analysisResponse struct {
	RootCause           string  `json:"root_cause"`
	RecommendedWorkflow string  `json:"recommended_workflow"`
	Confidence          float64 `json:"confidence"`
	Reasoning           string  `json:"reasoning"`
}

func (a *Analyst) Analyze(ctx context.Context, incident *entity.Incident) entity.Outcome {
	correlations, err := a.repo.CorrelationPatterns(ctx, incident.Service, incident.DetectedAt)
	if err != nil {
		slog.Warn("failed to fetch correlation patterns",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
	}

	similar, err := a.repo.SimilarIncidents(ctx, incident, similarIncidentLimit)
	if err != nil {
		slog.Warn("failed to fetch similar incidents",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
	}

	workflows, err := a.repo.ListWorkflows()
	if err != nil {
		return entity.Retryable(fmt.Sprintf("failed to list workflows: %v", err))
	}

	prompt := a.buildPrompt(incident, correlations, similar, workflows)
	raw, err := a.generator.Generate(ctx, repository.GenerateRequest{
		Prompt:       prompt,
		SystemPrompt: "You are a site reliability engineer diagnosing a production incident. Answer with a single JSON object.",
		Temperature:  0.2,
		JSONMode:     true,
	})
	if err != nil {
		if errors.Is(err, repository.ErrSafetyRejected) {
			return entity.Fatal("analysis rejected by content filter")
		}
		return entity.Retryable(fmt.Sprintf("analysis generation failed: %v", err))
	}

	// A malformed response is bad input, not a flaky collaborator, so it
	// escalates instead of retrying.
	var parsed analysisResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return entity.Fatal(fmt.Sprintf("analysis failed: response is not valid JSON: %v", err))
	}
	if parsed.RootCause == "" || parsed.RecommendedWorkflow == "" {
		return entity.Fatal("analysis failed: response is missing root_cause or recommended_workflow")
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	similarIDs := make([]string, 0, len(similar))
	for _, s := range similar {
		similarIDs = append(similarIDs, s.ID)
	}

	incident.Analysis = &entity.Analysis{
		RootCause:           parsed.RootCause,
		RecommendedWorkflow: parsed.RecommendedWorkflow,
		Confidence:          confidence,
		Reasoning:           parsed.Reasoning,
		SimilarIncidents:    similarIDs,
		AnalyzedAt:          time.Now(),
	}
	return entity.Success()
}

func (a *Analyst) buildPrompt(incident *entity.Incident, correlations []map[string]any, similar []entity.Incident, workflows []entity.Workflow) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Incident %s on service %s (%s).\n", incident.ID, incident.Service, incident.Environment)
	fmt.Fprintf(&b, "Error type: %s, severity: %s.\n\n", incident.ErrorType, incident.Severity)

	fmt.Fprintf(&b, "Metrics (current vs baseline):\n")
	fmt.Fprintf(&b, "- error rate: %.4f vs %.4f (%.1f sigma)\n", incident.CurrentMetrics.ErrorRate, incident.BaselineMetrics.ErrorRate, incident.AnomalyScores.Error)
	fmt.Fprintf(&b, "- latency p95: %.1fms vs %.1fms (%.1f sigma)\n", incident.CurrentMetrics.LatencyP95, incident.BaselineMetrics.LatencyP95, incident.AnomalyScores.Latency)
	fmt.Fprintf(&b, "- cpu: %.1f%% vs %.1f%% (%.1f sigma)\n\n", incident.CurrentMetrics.CPU, incident.BaselineMetrics.CPU, incident.AnomalyScores.CPU)

	if len(correlations) > 0 {
		fmt.Fprintf(&b, "Recent changes around detection time:\n")
		for _, row := range correlations {
			fmt.Fprintf(&b, "- %v\n", row)
		}
		b.WriteString("\n")
	}

	if len(similar) > 0 {
		fmt.Fprintf(&b, "Similar resolved incidents:\n")
		for _, s := range similar {
			workflow := "manual"
			if s.Plan != nil {
				workflow = s.Plan.WorkflowName
			}
			fmt.Fprintf(&b, "- %s: %s, resolved with %s\n", s.ID, s.ErrorType, workflow)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Available remediation workflows:\n")
	for _, wf := range workflows {
		fmt.Fprintf(&b, "- %s: %s (risk: %s)\n", wf.Name, wf.Description, wf.RiskLevel)
	}
	b.WriteString("\n")

	b.WriteString(`Respond with a JSON object with these keys:
- root_cause: one sentence naming the most likely cause
- recommended_workflow: the name of the best-fitting workflow from the list above
- confidence: a number between 0 and 1
- reasoning: a short explanation of how the evidence supports the diagnosis`)

	return b.String()
}

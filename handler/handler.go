package handler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/slack-go/slack"
	"github.com/sreops-dev/incidentpilot/domain/repository"
)

// Pipeline bundles the wired components for the CLI entry points.
type Pipeline struct {
	Config       *repository.Config
	Repo         repository.Repository
	Notifier     repository.Notifier
	Generator    repository.Generator
	Detector     *Detector
	Executor     *Executor
	Orchestrator *Orchestrator
	Workflows    repository.WorkflowRepository

	influx *repository.InfluxDBRepository
}

func NewPipeline(ctx context.Context, configPath string) (*Pipeline, error) {
	cfg, err := repository.NewConfigRepository(configPath)
	if err != nil {
		return nil, err
	}

	webApi := slack.New(os.Getenv("SLACK_BOT_TOKEN"))
	if _, err := webApi.AuthTestContext(ctx); err != nil {
		return nil, fmt.Errorf("SLACK_BOT_TOKEN is invalid: %w", err)
	}
	slackRepository := repository.NewSlackRepository(webApi, cfg.Slack.IncidentChannel)

	dynamoRepository, err := repository.NewDynamoDBRepository()
	if err != nil {
		return nil, err
	}

	influxToken := cfg.Influx.Token
	if os.Getenv("INFLUX_TOKEN") != "" {
		influxToken = os.Getenv("INFLUX_TOKEN")
	}
	influxRepository := repository.NewInfluxDBRepository(cfg.Influx.URL, influxToken, cfg.Influx.Org)

	workflowRepository := repository.NewFileWorkflowRepository(cfg.Workflows.Directory)

	repo := repository.NewRepository(dynamoRepository, influxRepository, workflowRepository)

	aiRepository, err := repository.NewAIRepository()
	if err != nil {
		return nil, err
	}

	var exporter repository.ReportExporter
	if os.Getenv("CONFLUENCE_USERNAME") != "" && os.Getenv("CONFLUENCE_PASSWORD") != "" && cfg.Confluence.Domain != "" {
		r, err := repository.NewConfluenceRepository(
			cfg.Confluence.Domain,
			os.Getenv("CONFLUENCE_USERNAME"),
			os.Getenv("CONFLUENCE_PASSWORD"),
			cfg.Confluence.Space,
			cfg.Confluence.AncestorID,
		)
		if err != nil {
			return nil, err
		}
		exporter = r
	}

	kubernetesRepository, err := repository.NewKubernetesRepository()
	if err != nil {
		slog.Warn("kubernetes client unavailable, kubernetes actions will fail", slog.Any("error", err))
		kubernetesRepository = nil
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "production"
	}

	detector := NewDetector(repo, slackRepository, environment, cfg.Detection)

	var k8s repository.KubernetesRepositorier
	if kubernetesRepository != nil {
		k8s = kubernetesRepository
	}
	executor := NewExecutor(k8s, influxRepository, slackRepository)

	var generator repository.Generator
	if aiRepository != nil {
		generator = aiRepository
	}

	orchestrator := NewOrchestrator(
		repo,
		slackRepository,
		NewAnalyst(repo, generator),
		NewPlanner(workflowRepository),
		executor,
		NewDocumenter(generator, exporter),
		cfg.ApprovalTimeout(),
		cfg.Orchestrator.BatchSize,
	)

	return &Pipeline{
		Config:       cfg,
		Repo:         repo,
		Notifier:     slackRepository,
		Generator:    generator,
		Detector:     detector,
		Executor:     executor,
		Orchestrator: orchestrator,
		Workflows:    workflowRepository,
		influx:       influxRepository,
	}, nil
}

func (p *Pipeline) Close() {
	if p.influx != nil {
		p.influx.Close()
	}
}

// RunDetect runs detection cycles until the context is canceled, or a
// single cycle when once is set.
func (p *Pipeline) RunDetect(ctx context.Context, once bool, interval time.Duration) error {
	if interval <= 0 {
		interval = p.Config.DetectionInterval()
	}

	for {
		start := time.Now()
		opened, err := p.Detector.RunCycle(ctx)
		if err != nil {
			slog.Error("detection cycle failed", slog.Any("error", err))
		} else {
			slog.Info("detection cycle complete", slog.Int("opened", opened))
		}
		if once {
			return err
		}

		sleep := interval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		if err := sleepContext(ctx, sleep); err != nil {
			return err
		}
	}
}

// RunOrchestrate processes a single incident by id, or runs the monitor
// loop when incidentID is empty.
func (p *Pipeline) RunOrchestrate(ctx context.Context, incidentID string) error {
	if p.Generator == nil {
		return fmt.Errorf("OPENAI_API_KEY or AZURE_OPENAI_KEY is required for orchestration")
	}

	if incidentID == "" {
		return p.Orchestrator.Monitor(ctx, p.Config.OrchestratorInterval())
	}

	incident, err := p.Repo.FindIncidentByID(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("failed to load incident %s: %w", incidentID, err)
	}
	if incident == nil {
		return fmt.Errorf("incident %s not found", incidentID)
	}
	return p.Orchestrator.ProcessIncident(ctx, incident)
}

// RunWorkflow executes one workflow directly, outside the incident
// pipeline.
func (p *Pipeline) RunWorkflow(ctx context.Context, name string, params map[string]any) error {
	wf, err := p.Workflows.LoadWorkflow(name)
	if err != nil {
		return err
	}

	result := p.Executor.Execute(ctx, wf, params)
	if !result.Success {
		return fmt.Errorf("workflow %s failed after %d steps: %s", name, result.StepsExecuted, result.Message)
	}
	slog.Info("workflow complete",
		slog.String("workflow", name),
		slog.Int("steps", result.StepsExecuted),
		slog.Duration("duration", result.Duration))
	return nil
}

package handler

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"time"

	ttlcache "github.com/jellydator/ttlcache/v3"
	"github.com/sreops-dev/incidentpilot/domain/entity"
	"github.com/sreops-dev/incidentpilot/domain/repository"
)

// Detector polls the telemetry store for services deviating from their
// baseline and opens incident records for them.
type Detector struct {
	repo        repository.Repository
	notifier    repository.Notifier
	environment string
	window      string
	threshold   float64
	dedup       *ttlcache.Cache[string, struct{}]
}

func NewDetector(repo repository.Repository, notifier repository.Notifier, environment string, cfg repository.DetectionConfig) *Detector {
	dedup := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](time.Duration(cfg.DedupWindowSeconds) * time.Second),
	)
	go dedup.Start()

	return &Detector{
		repo:        repo,
		notifier:    notifier,
		environment: environment,
		window:      cfg.Window,
		threshold:   cfg.ThresholdSigma,
		dedup:       dedup,
	}
}

// RunCycle executes one detection pass and returns the number of
// incidents opened.
func (d *Detector) RunCycle(ctx context.Context) (int, error) {
	anomalies, err := d.repo.DetectAnomalies(ctx, d.window, d.threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to detect anomalies: %w", err)
	}

	opened := 0
	for _, anomaly := range anomalies {
		signature := errorSignature(anomaly.Service, anomaly.ErrorType)
		if d.dedup.Has(signature) {
			slog.Debug("suppressing duplicate anomaly",
				slog.String("service", anomaly.Service), slog.String("signature", signature))
			continue
		}

		incident, err := d.openIncident(ctx, anomaly, signature)
		if err != nil {
			slog.Error("failed to open incident",
				slog.String("service", anomaly.Service), slog.Any("error", err))
			continue
		}
		d.dedup.Set(signature, struct{}{}, ttlcache.DefaultTTL)
		opened++
		slog.Info("incident opened",
			slog.String("incident_id", incident.ID),
			slog.String("service", incident.Service),
			slog.String("severity", string(incident.Severity)),
			slog.String("error_type", incident.ErrorType))
	}
	return opened, nil
}

func (d *Detector) openIncident(ctx context.Context, anomaly entity.Anomaly, signature string) (*entity.Incident, error) {
	incident := &entity.Incident{
		ID:             d.nextIncidentID(ctx),
		Status:         entity.StatusActive,
		Severity:       entity.SeverityForScore(anomaly.MaxScore),
		Service:        anomaly.Service,
		Environment:    d.environment,
		ErrorType:      anomaly.ErrorType,
		ErrorSignature: signature,
		DetectedAt:     time.Now(),
		AnomalyScores: entity.AnomalyScores{
			Error:   anomaly.ErrorScore,
			Latency: anomaly.LatencyScore,
			CPU:     anomaly.CPUScore,
			Max:     anomaly.MaxScore,
		},
		CurrentMetrics: entity.MetricSnapshot{
			ErrorRate:  anomaly.CurrentErrorRate,
			LatencyP95: anomaly.CurrentLatencyP95,
			CPU:        anomaly.CurrentCPU,
		},
		BaselineMetrics: entity.MetricSnapshot{
			ErrorRate:  anomaly.BaselineErrorRate,
			LatencyP95: anomaly.BaselineLatency,
			CPU:        anomaly.BaselineCPU,
		},
	}

	threadTS, err := d.notifier.PostIncidentDetected(ctx, incident)
	if err != nil {
		slog.Warn("failed to announce incident, continuing without thread",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
	}
	incident.ThreadTS = threadTS

	if err := d.repo.SaveIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to save incident: %w", err)
	}
	return incident, nil
}

// nextIncidentID allocates the next INC-NNN identifier. If the store
// cannot be read or holds an unexpected format, a timestamp id keeps
// detection going.
func (d *Detector) nextIncidentID(ctx context.Context) string {
	highest, err := d.repo.HighestIncidentID(ctx)
	if err != nil {
		slog.Warn("failed to read highest incident id", slog.Any("error", err))
		return fmt.Sprintf("INC-%d", time.Now().Unix())
	}
	if highest == "" {
		return "INC-001"
	}

	var n int
	if _, err := fmt.Sscanf(highest, "INC-%d", &n); err != nil {
		slog.Warn("unexpected incident id format", slog.String("id", highest))
		return fmt.Sprintf("INC-%d", time.Now().Unix())
	}
	return fmt.Sprintf("INC-%03d", n+1)
}

func errorSignature(service, errorType string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s", service, errorType)))
	return fmt.Sprintf("%x", sum)[:16]
}

package repository

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sreops-dev/incidentpilot/domain/entity"
)

var telemetryBucket = "telemetry"

func init() {
	if os.Getenv("INFLUX_BUCKET") != "" {
		telemetryBucket = os.Getenv("INFLUX_BUCKET")
	}
}

type InfluxDBRepository struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
}

func NewInfluxDBRepository(url, token, org string) *InfluxDBRepository {
	client := influxdb2.NewClient(url, token)
	return &InfluxDBRepository{
		client:   client,
		queryAPI: client.QueryAPI(org),
	}
}

func (r *InfluxDBRepository) Close() {
	r.client.Close()
}

// serviceStats holds the baseline distribution and the current value of
// one metric for one service.
type serviceStats struct {
	current float64
	mean    float64
	stddev  float64
}

var anomalyFields = []string{"error_rate", "latency_p95", "cpu_usage"}

func (r *InfluxDBRepository) DetectAnomalies(ctx context.Context, window string, thresholdSigma float64) ([]entity.Anomaly, error) {
	byService := map[string]map[string]serviceStats{}

	for _, field := range anomalyFields {
		stats, err := r.fieldStats(ctx, field, window)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s stats: %w", field, err)
		}
		for service, s := range stats {
			if byService[service] == nil {
				byService[service] = map[string]serviceStats{}
			}
			byService[service][field] = s
		}
	}

	var anomalies []entity.Anomaly
	for service, fields := range byService {
		scores := entity.AnomalyScores{
			Error:   sigmaScore(fields["error_rate"]),
			Latency: sigmaScore(fields["latency_p95"]),
			CPU:     sigmaScore(fields["cpu_usage"]),
		}
		scores.Max = math.Max(scores.Error, math.Max(scores.Latency, scores.CPU))
		if scores.Max < thresholdSigma {
			continue
		}
		anomalies = append(anomalies, entity.Anomaly{
			Service:           service,
			ErrorType:         dominantErrorType(scores),
			ErrorScore:        scores.Error,
			LatencyScore:      scores.Latency,
			CPUScore:          scores.CPU,
			MaxScore:          scores.Max,
			CurrentErrorRate:  fields["error_rate"].current,
			CurrentLatencyP95: fields["latency_p95"].current,
			CurrentCPU:        fields["cpu_usage"].current,
			BaselineErrorRate: fields["error_rate"].mean,
			BaselineLatency:   fields["latency_p95"].mean,
			BaselineCPU:       fields["cpu_usage"].mean,
		})
	}
	return anomalies, nil
}

// fieldStats compares the most recent window against the trailing baseline
// for one field, keyed by service tag.
func (r *InfluxDBRepository) fieldStats(ctx context.Context, field, window string) (map[string]serviceStats, error) {
	current, err := r.aggregateByService(ctx, field, window, "mean")
	if err != nil {
		return nil, err
	}
	mean, err := r.aggregateByService(ctx, field, "24h", "mean")
	if err != nil {
		return nil, err
	}
	stddev, err := r.aggregateByService(ctx, field, "24h", "stddev")
	if err != nil {
		return nil, err
	}

	stats := map[string]serviceStats{}
	for service, value := range current {
		stats[service] = serviceStats{
			current: value,
			mean:    mean[service],
			stddev:  stddev[service],
		}
	}
	return stats, nil
}

func (r *InfluxDBRepository) aggregateByService(ctx context.Context, field, window, fn string) (map[string]float64, error) {
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == "service_metrics" and r._field == %q)
  |> group(columns: ["service"])
  |> %s()`, telemetryBucket, window, field, fn)

	result, err := r.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	values := map[string]float64{}
	for result.Next() {
		service, ok := result.Record().ValueByKey("service").(string)
		if !ok {
			continue
		}
		if v, ok := result.Record().Value().(float64); ok {
			values[service] = v
		}
	}
	if result.Err() != nil {
		return nil, result.Err()
	}
	return values, nil
}

func (r *InfluxDBRepository) CorrelationPatterns(ctx context.Context, service string, around time.Time) ([]map[string]any, error) {
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == "deploy_events" or r._measurement == "config_changes")
  |> filter(fn: (r) => r.service == %q)`,
		telemetryBucket,
		around.Add(-30*time.Minute).UTC().Format(time.RFC3339),
		around.Add(5*time.Minute).UTC().Format(time.RFC3339),
		service)
	return r.Query(ctx, flux)
}

func (r *InfluxDBRepository) Query(ctx context.Context, flux string) ([]map[string]any, error) {
	result, err := r.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for result.Next() {
		rows = append(rows, result.Record().Values())
	}
	if result.Err() != nil {
		return nil, result.Err()
	}
	return rows, nil
}

func sigmaScore(s serviceStats) float64 {
	if s.stddev == 0 {
		return 0
	}
	score := (s.current - s.mean) / s.stddev
	if score < 0 {
		return 0
	}
	return score
}

func dominantErrorType(scores entity.AnomalyScores) string {
	switch scores.Max {
	case scores.Error:
		return "error_rate_spike"
	case scores.Latency:
		return "latency_degradation"
	default:
		return "cpu_saturation"
	}
}

package repository_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreops-dev/incidentpilot/domain/repository"
)

func TestNewConfigRepository(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "incidentpilot.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[detection]
threshold_sigma = 3.0

[influx]
url = "http://localhost:8086"
org = "sreops"

[slack]
incident_channel = "#incidents"

[confluence]
domain = "sreops"
space = "OPS"
`), 0644))

	cfg, err := repository.NewConfigRepository(path)
	require.NoError(t, err)

	assert.Equal(t, 3.0, cfg.Detection.ThresholdSigma)
	// defaults fill what the file omits
	assert.Equal(t, time.Minute, cfg.DetectionInterval())
	assert.Equal(t, 5*time.Minute, cfg.DedupWindow())
	assert.Equal(t, 30*time.Second, cfg.OrchestratorInterval())
	assert.Equal(t, 5*time.Minute, cfg.ApprovalTimeout())
	assert.Equal(t, 10, cfg.Orchestrator.BatchSize)
	assert.Equal(t, "workflows", cfg.Workflows.Directory)
	assert.Equal(t, "#incidents", cfg.Slack.IncidentChannel)
	assert.Equal(t, "OPS", cfg.Confluence.Space)
}

func TestNewConfigRepositoryRejectsMissingRequired(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "incidentpilot.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[detection]
threshold_sigma = 3.0
`), 0644))

	_, err := repository.NewConfigRepository(path)
	require.Error(t, err)
}

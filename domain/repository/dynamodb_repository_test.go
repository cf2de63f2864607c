package repository

import (
	"testing"

	"github.com/sreops-dev/incidentpilot/domain/entity"
	"github.com/stretchr/testify/assert"
)

func incidentIDs(ids ...string) []entity.Incident {
	incidents := make([]entity.Incident, len(ids))
	for i, id := range ids {
		incidents[i].ID = id
	}
	return incidents
}

func TestHighestIncidentIDComparesNumerically(t *testing.T) {
	// INC-999はバイト列ではINC-1000より大きい
	highest := highestIncidentID(incidentIDs("INC-998", "INC-999", "INC-1000"))
	assert.Equal(t, "INC-1000", highest)
}

func TestHighestIncidentIDSkipsMalformedIDs(t *testing.T) {
	highest := highestIncidentID(incidentIDs("manual-fix", "INC-002", "INC-abc"))
	assert.Equal(t, "INC-002", highest)
}

func TestHighestIncidentIDEmptyStore(t *testing.T) {
	assert.Equal(t, "", highestIncidentID(nil))
}

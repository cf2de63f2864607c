package entity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sreops-dev/incidentpilot/domain/entity"
)

func TestSubstitutePlaceholders(t *testing.T) {
	ctx := map[string]any{
		"service":  "api-gateway",
		"replicas": 6,
	}

	assert.Equal(t, "restart api-gateway", entity.SubstitutePlaceholders("restart ${service}", ctx))
	assert.Equal(t, "scale to 6", entity.SubstitutePlaceholders("scale to ${replicas}", ctx))
	// unknown variables stay as-is
	assert.Equal(t, "keep ${unknown}", entity.SubstitutePlaceholders("keep ${unknown}", ctx))
	assert.Equal(t, "no markers", entity.SubstitutePlaceholders("no markers", ctx))
}

func TestStepDefaults(t *testing.T) {
	s := entity.Step{Name: "x", Type: entity.ActionTypeInternal, Action: "log"}
	assert.Equal(t, entity.OnFailureAbort, s.FailurePolicy())
	assert.Equal(t, 1, s.Attempts())
	assert.Equal(t, 5*time.Second, s.RetryDelay())

	s.OnFailure = entity.OnFailureContinue
	s.RetryAttempts = 4
	s.RetryDelaySeconds = 2
	assert.Equal(t, entity.OnFailureContinue, s.FailurePolicy())
	assert.Equal(t, 4, s.Attempts())
	assert.Equal(t, 2*time.Second, s.RetryDelay())
}

func TestActionTypeValid(t *testing.T) {
	assert.True(t, entity.ActionTypeKubernetes.Valid())
	assert.True(t, entity.ActionTypeTelemetry.Valid())
	assert.True(t, entity.ActionTypeChat.Valid())
	assert.True(t, entity.ActionTypeInternal.Valid())
	assert.False(t, entity.ActionType("shell").Valid())
}

func TestAllStepsCoversEveryPhase(t *testing.T) {
	wf := entity.Workflow{
		PreChecks:      []entity.Step{{Name: "a"}},
		Steps:          []entity.Step{{Name: "b"}, {Name: "c"}},
		Rollback:       []entity.Step{{Name: "d"}},
		SuccessActions: []entity.Step{{Name: "e"}},
	}
	names := []string{}
	for _, s := range wf.AllSteps() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names)
}

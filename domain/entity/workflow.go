package entity

import (
	"fmt"
	"regexp"
	"time"
)

// ActionType is the closed set of step executors a workflow may address.
type ActionType string

const (
	ActionTypeKubernetes ActionType = "kubernetes"
	ActionTypeTelemetry  ActionType = "telemetry"
	ActionTypeChat       ActionType = "chat"
	ActionTypeInternal   ActionType = "internal"
)

func (t ActionType) Valid() bool {
	switch t {
	case ActionTypeKubernetes, ActionTypeTelemetry, ActionTypeChat, ActionTypeInternal:
		return true
	}
	return false
}

// OnFailure is the per-step failure policy.
type OnFailure string

const (
	OnFailureAbort    OnFailure = "abort"
	OnFailureContinue OnFailure = "continue"
	OnFailureRollback OnFailure = "rollback"
)

// RiskLevel classifies a workflow for the approval gate.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Step is a single declarative action inside a workflow.
type Step struct {
	Name              string         `yaml:"name" validate:"required"`
	Type              ActionType     `yaml:"type" validate:"required,oneof=kubernetes telemetry chat internal"`
	Action            string         `yaml:"action" validate:"required"`
	Parameters        map[string]any `yaml:"parameters"`
	RetryAttempts     int            `yaml:"retry_attempts"`
	RetryDelaySeconds int            `yaml:"retry_delay_seconds"`
	OnFailure         OnFailure      `yaml:"on_failure" validate:"omitempty,oneof=abort continue rollback"`
	CaptureOutput     string         `yaml:"capture_output"`
}

// FailurePolicy returns the declared policy, defaulting to abort.
func (s *Step) FailurePolicy() OnFailure {
	if s.OnFailure == "" {
		return OnFailureAbort
	}
	return s.OnFailure
}

// Attempts returns the retry budget, at least one attempt.
func (s *Step) Attempts() int {
	if s.RetryAttempts < 1 {
		return 1
	}
	return s.RetryAttempts
}

func (s *Step) RetryDelay() time.Duration {
	if s.RetryDelaySeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// Workflow is a named, declarative remediation document loaded from the
// workflow directory. The engine's behavior is fully determined by this
// schema.
type Workflow struct {
	Name             string    `yaml:"name" validate:"required"`
	Description      string    `yaml:"description"`
	RiskLevel        RiskLevel `yaml:"risk_level" validate:"required,oneof=low medium high"`
	AutoApprove      bool      `yaml:"auto_approve"`
	EstimatedSeconds int       `yaml:"estimated_duration_seconds"`
	PreChecks        []Step    `yaml:"pre_checks"`
	Steps            []Step    `yaml:"steps" validate:"required,min=1,dive"`
	Rollback         []Step    `yaml:"rollback"`
	SuccessActions   []Step    `yaml:"success_actions"`
}

// AllSteps returns every step of every phase, for validation.
func (w *Workflow) AllSteps() []Step {
	steps := make([]Step, 0, len(w.PreChecks)+len(w.Steps)+len(w.Rollback)+len(w.SuccessActions))
	steps = append(steps, w.PreChecks...)
	steps = append(steps, w.Steps...)
	steps = append(steps, w.Rollback...)
	steps = append(steps, w.SuccessActions...)
	return steps
}

// ActionResult is the value an action handler returns. Failures are data,
// never panics.
type ActionResult struct {
	Success bool
	Data    map[string]any
	Error   string
}

// UnsupportedAction builds the typed failure for an action name outside
// the handler's set.
func UnsupportedAction(t ActionType, action string) ActionResult {
	return ActionResult{Error: fmt.Sprintf("unsupported %s action: %s", t, action)}
}

// StepRecord is the audit entry for one executed step.
type StepRecord struct {
	Name     string        `json:"name"`
	Type     ActionType    `json:"type"`
	Action   string        `json:"action"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// ExecutionResult is the structured outcome of one workflow run.
type ExecutionResult struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message"`
	Duration      time.Duration  `json:"duration"`
	StepsExecuted int            `json:"steps_executed"`
	Steps         []StepRecord   `json:"steps"`
	Context       map[string]any `json:"context"`
}

var placeholderRe = regexp.MustCompile(`\$\{(\w+)\}`)

// SubstitutePlaceholders replaces ${var} markers with values from the
// execution context. Unknown variables are left untouched.
func SubstitutePlaceholders(text string, ctx map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := ctx[name]; ok {
			return fmt.Sprint(v)
		}
		return match
	})
}

package entity

// OutcomeKind classifies a stage result so retry and escalation policy
// stay data instead of control flow.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeFatal
)

// Outcome is the explicit result of one orchestrator stage.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

func Retryable(reason string) Outcome {
	return Outcome{Kind: OutcomeRetryable, Reason: reason}
}

func Fatal(reason string) Outcome {
	return Outcome{Kind: OutcomeFatal, Reason: reason}
}

func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

package entity

// Anomaly is one row of the detection query: a service whose telemetry
// deviates from its baseline by more than the configured threshold.
type Anomaly struct {
	Service           string
	ErrorType         string
	ErrorScore        float64
	LatencyScore      float64
	CPUScore          float64
	MaxScore          float64
	CurrentErrorRate  float64
	CurrentLatencyP95 float64
	CurrentCPU        float64
	BaselineErrorRate float64
	BaselineLatency   float64
	BaselineCPU       float64
}

// ApprovalDecision is the tri-state result of a human approval request.
type ApprovalDecision int

const (
	ApprovalTimedOut ApprovalDecision = iota
	ApprovalGranted
	ApprovalDenied
)

func (d ApprovalDecision) String() string {
	switch d {
	case ApprovalGranted:
		return "approved"
	case ApprovalDenied:
		return "denied"
	default:
		return "timed out"
	}
}

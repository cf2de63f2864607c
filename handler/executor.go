package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sreops-dev/incidentpilot/domain/entity"
	"github.com/sreops-dev/incidentpilot/domain/repository"
)

const defaultWaitTimeout = 2 * time.Minute

// Executor runs declarative workflows phase by phase. Step failures are
// values, not errors: an error return from Execute means the engine
// itself broke, not that remediation failed.
type Executor struct {
	kubernetes repository.KubernetesRepositorier
	telemetry  repository.TelemetryRepository
	notifier   repository.Notifier

	sleep func(context.Context, time.Duration) error
}

func NewExecutor(kubernetes repository.KubernetesRepositorier, telemetry repository.TelemetryRepository, notifier repository.Notifier) *Executor {
	return &Executor{
		kubernetes: kubernetes,
		telemetry:  telemetry,
		notifier:   notifier,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) Execute(ctx context.Context, wf *entity.Workflow, params map[string]any) *entity.ExecutionResult {
	start := time.Now()
	execCtx := map[string]any{}
	for k, v := range params {
		execCtx[k] = v
	}

	result := &entity.ExecutionResult{Context: execCtx}
	defer func() {
		result.Duration = time.Since(start)
	}()

	slog.Info("workflow starting", slog.String("workflow", wf.Name))

	// Pre-checks gate the run. Any failure aborts before changes are
	// made, so there is nothing to roll back.
	for i := range wf.PreChecks {
		record := e.runStep(ctx, &wf.PreChecks[i], execCtx)
		result.Steps = append(result.Steps, record)
		result.StepsExecuted++
		if !record.Success {
			result.Message = fmt.Sprintf("pre-check %s failed: %s", record.Name, record.Error)
			return result
		}
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		record := e.runStep(ctx, step, execCtx)
		result.Steps = append(result.Steps, record)
		result.StepsExecuted++
		if record.Success {
			continue
		}

		switch step.FailurePolicy() {
		case entity.OnFailureContinue:
			slog.Warn("step failed, continuing",
				slog.String("workflow", wf.Name), slog.String("step", step.Name), slog.String("error", record.Error))
		case entity.OnFailureRollback:
			slog.Warn("step failed, rolling back",
				slog.String("workflow", wf.Name), slog.String("step", step.Name), slog.String("error", record.Error))
			e.runRollback(ctx, wf, execCtx, result)
			result.Message = fmt.Sprintf("step %s failed, rollback executed: %s", record.Name, record.Error)
			return result
		default:
			result.Message = fmt.Sprintf("step %s failed: %s", record.Name, record.Error)
			return result
		}
	}

	// Success actions are best effort and never fail the run.
	for i := range wf.SuccessActions {
		record := e.runStep(ctx, &wf.SuccessActions[i], execCtx)
		result.Steps = append(result.Steps, record)
		result.StepsExecuted++
		if !record.Success {
			slog.Warn("success action failed",
				slog.String("workflow", wf.Name), slog.String("step", record.Name), slog.String("error", record.Error))
		}
	}

	result.Success = true
	result.Message = "workflow completed"
	return result
}

func (e *Executor) runRollback(ctx context.Context, wf *entity.Workflow, execCtx map[string]any, result *entity.ExecutionResult) {
	for i := range wf.Rollback {
		record := e.runStep(ctx, &wf.Rollback[i], execCtx)
		result.Steps = append(result.Steps, record)
		result.StepsExecuted++
		if !record.Success {
			slog.Error("rollback step failed",
				slog.String("workflow", wf.Name), slog.String("step", record.Name), slog.String("error", record.Error))
		}
	}
}

func (e *Executor) runStep(ctx context.Context, step *entity.Step, execCtx map[string]any) entity.StepRecord {
	start := time.Now()
	record := entity.StepRecord{
		Name:   step.Name,
		Type:   step.Type,
		Action: step.Action,
	}

	params := resolveParameters(step.Parameters, execCtx)

	var last entity.ActionResult
	for attempt := 1; attempt <= step.Attempts(); attempt++ {
		record.Attempts = attempt
		last = e.dispatch(ctx, step.Type, step.Action, params)
		if last.Success {
			break
		}
		if attempt < step.Attempts() {
			slog.Warn("step attempt failed, retrying",
				slog.String("step", step.Name),
				slog.Int("attempt", attempt),
				slog.String("error", last.Error))
			if err := e.sleep(ctx, step.RetryDelay()); err != nil {
				last = entity.ActionResult{Error: err.Error()}
				break
			}
		}
	}

	record.Duration = time.Since(start)
	record.Success = last.Success
	record.Error = last.Error
	if last.Success && step.CaptureOutput != "" {
		execCtx[step.CaptureOutput] = last.Data
	}
	return record
}

// dispatch routes a step to its action handler. The type set is closed:
// anything else fails validation at load time, and an unknown action
// name inside a known type produces a typed failure here.
func (e *Executor) dispatch(ctx context.Context, t entity.ActionType, action string, params map[string]any) entity.ActionResult {
	switch t {
	case entity.ActionTypeKubernetes:
		return e.kubernetesAction(ctx, action, params)
	case entity.ActionTypeTelemetry:
		return e.telemetryAction(ctx, action, params)
	case entity.ActionTypeChat:
		return e.chatAction(action, params)
	case entity.ActionTypeInternal:
		return e.internalAction(ctx, action, params)
	default:
		return entity.ActionResult{Error: fmt.Sprintf("unknown action type: %s", t)}
	}
}

func (e *Executor) kubernetesAction(ctx context.Context, action string, params map[string]any) entity.ActionResult {
	if e.kubernetes == nil {
		return entity.ActionResult{Error: "kubernetes client is not configured"}
	}
	namespace := stringParam(params, "namespace", "default")
	name := stringParam(params, "deployment", "")

	switch action {
	case "get_deployment":
		status, err := e.kubernetes.GetDeployment(ctx, namespace, name)
		if err != nil {
			return entity.ActionResult{Error: err.Error()}
		}
		return entity.ActionResult{Success: true, Data: map[string]any{
			"replicas":       status.Replicas,
			"ready_replicas": status.ReadyReplicas,
		}}
	case "rollout_restart":
		if err := e.kubernetes.RolloutRestart(ctx, namespace, name); err != nil {
			return entity.ActionResult{Error: err.Error()}
		}
		return entity.ActionResult{Success: true}
	case "scale":
		replicas := intParam(params, "replicas", -1)
		if replicas < 0 {
			return entity.ActionResult{Error: "scale requires a replicas parameter"}
		}
		if err := e.kubernetes.Scale(ctx, namespace, name, int32(replicas)); err != nil {
			return entity.ActionResult{Error: err.Error()}
		}
		return entity.ActionResult{Success: true}
	case "wait_for_ready":
		timeout := durationParam(params, "timeout_seconds", defaultWaitTimeout)
		if err := e.kubernetes.WaitForDeploymentReady(ctx, namespace, name, timeout); err != nil {
			return entity.ActionResult{Error: err.Error()}
		}
		return entity.ActionResult{Success: true}
	case "wait_for_replicas":
		timeout := durationParam(params, "timeout_seconds", defaultWaitTimeout)
		target := intParam(params, "replicas", -1)
		if target < 0 {
			return entity.ActionResult{Error: "wait_for_replicas requires a replicas parameter"}
		}
		if err := e.kubernetes.WaitForReplicas(ctx, namespace, name, int32(target), timeout); err != nil {
			return entity.ActionResult{Error: err.Error()}
		}
		return entity.ActionResult{Success: true}
	case "check_pod_health":
		app := stringParam(params, "app", name)
		health, err := e.kubernetes.CheckPodHealth(ctx, namespace, app)
		if err != nil {
			return entity.ActionResult{Error: err.Error()}
		}
		if health.Ready < health.Total {
			return entity.ActionResult{Error: fmt.Sprintf("%d/%d pods ready, unhealthy: %v", health.Ready, health.Total, health.Unhealthy)}
		}
		return entity.ActionResult{Success: true, Data: map[string]any{
			"total": health.Total,
			"ready": health.Ready,
		}}
	case "capture_state":
		state, err := e.kubernetes.CaptureDeploymentState(ctx, namespace, name)
		if err != nil {
			return entity.ActionResult{Error: err.Error()}
		}
		return entity.ActionResult{Success: true, Data: map[string]any{
			"replicas": state.Replicas,
			"image":    state.Image,
		}}
	case "rollout_undo":
		revision := int64(intParam(params, "revision", 0))
		if err := e.kubernetes.RolloutUndo(ctx, namespace, name, revision); err != nil {
			return entity.ActionResult{Error: err.Error()}
		}
		return entity.ActionResult{Success: true}
	default:
		return entity.UnsupportedAction(entity.ActionTypeKubernetes, action)
	}
}

func (e *Executor) telemetryAction(ctx context.Context, action string, params map[string]any) entity.ActionResult {
	if e.telemetry == nil {
		return entity.ActionResult{Error: "telemetry client is not configured"}
	}

	switch action {
	case "check_error_rate":
		service := stringParam(params, "service", "")
		threshold := floatParam(params, "threshold", 0.05)
		window := stringParam(params, "window", "5m")
		anomalies, err := e.telemetry.DetectAnomalies(ctx, window, 0)
		if err != nil {
			return entity.ActionResult{Error: err.Error()}
		}
		for _, anomaly := range anomalies {
			if anomaly.Service != service {
				continue
			}
			if anomaly.CurrentErrorRate > threshold {
				return entity.ActionResult{Error: fmt.Sprintf("error rate %.4f exceeds threshold %.4f", anomaly.CurrentErrorRate, threshold)}
			}
			return entity.ActionResult{Success: true, Data: map[string]any{"error_rate": anomaly.CurrentErrorRate}}
		}
		return entity.ActionResult{Success: true, Data: map[string]any{"error_rate": 0.0}}
	case "query":
		flux := stringParam(params, "flux", "")
		if flux == "" {
			return entity.ActionResult{Error: "query requires a flux parameter"}
		}
		rows, err := e.telemetry.Query(ctx, flux)
		if err != nil {
			return entity.ActionResult{Error: err.Error()}
		}
		return entity.ActionResult{Success: true, Data: map[string]any{"rows": len(rows)}}
	default:
		return entity.UnsupportedAction(entity.ActionTypeTelemetry, action)
	}
}

func (e *Executor) chatAction(action string, params map[string]any) entity.ActionResult {
	if e.notifier == nil {
		return entity.ActionResult{Error: "notifier is not configured"}
	}

	switch action {
	case "post_update":
		message := stringParam(params, "message", "")
		if message == "" {
			return entity.ActionResult{Error: "post_update requires a message parameter"}
		}
		e.notifier.PostUpdate(message, stringParam(params, "thread_ts", ""))
		return entity.ActionResult{Success: true}
	default:
		return entity.UnsupportedAction(entity.ActionTypeChat, action)
	}
}

func (e *Executor) internalAction(ctx context.Context, action string, params map[string]any) entity.ActionResult {
	switch action {
	case "wait":
		seconds := intParam(params, "seconds", 0)
		if seconds <= 0 {
			return entity.ActionResult{Error: "wait requires a positive seconds parameter"}
		}
		if err := e.sleep(ctx, time.Duration(seconds)*time.Second); err != nil {
			return entity.ActionResult{Error: err.Error()}
		}
		return entity.ActionResult{Success: true}
	case "log":
		slog.Info("workflow log step", slog.String("message", stringParam(params, "message", "")))
		return entity.ActionResult{Success: true}
	default:
		return entity.UnsupportedAction(entity.ActionTypeInternal, action)
	}
}

// resolveParameters substitutes ${var} placeholders against the
// execution context in every string parameter.
func resolveParameters(params map[string]any, execCtx map[string]any) map[string]any {
	resolved := make(map[string]any, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			resolved[k] = entity.SubstitutePlaceholders(s, execCtx)
			continue
		}
		resolved[k] = v
	}
	return resolved
}

func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f
		}
	}
	return fallback
}

func durationParam(params map[string]any, key string, fallback time.Duration) time.Duration {
	if seconds := intParam(params, key, 0); seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

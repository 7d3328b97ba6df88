// Package policy implements the Policy Engine: readiness computation,
// escalation-ladder advancement, quota-cooldown activation,
// dependency-block propagation, and retry-vs-block decisions.
//
// Grounded on the teacher's control_plane/scheduler/circuit_breaker.go for
// the shape of a small stateful admission-control component (closed/open
// style gating plus a cooldown timestamp), generalized here from a
// queue-depth/saturation trigger to the spec's quota-failure trigger with a
// strict never-shortens invariant on the cooldown bound.
package policy

import (
	"fmt"
	"time"

	"github.com/packetsched/packetsched/internal/eventlog"
	"github.com/packetsched/packetsched/internal/obs"
	"github.com/packetsched/packetsched/internal/runtimestate"
	"github.com/packetsched/packetsched/internal/taskmodel"
)

// Config holds the operator-tunable thresholds of the Policy Engine.
type Config struct {
	EscalateAfterCompile    int
	EscalateAfterRuntime    int
	MaxAttempts             int
	QuotaCooldownSeconds    int64
	QuotaMaxFailuresPerTask int
	QuotaFailFast           bool
}

// Engine is the stateless-per-call Policy Engine: all mutation lands on the
// *runtimestate.TaskRuntime / *runtimestate.QuotaRuntime passed in, never on
// Engine itself, so one Engine instance is safely reused across the whole
// dispatch loop lifetime.
type Engine struct {
	cfg     Config
	events  *eventlog.Sink
	metrics *obs.Metrics
	clock   func() time.Time
}

// New builds a Policy Engine. clock defaults to time.Now when nil.
func New(cfg Config, events *eventlog.Sink, metrics *obs.Metrics, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{cfg: cfg, events: events, metrics: metrics, clock: clock}
}

// Ready implements §4.4.1: a task is ready iff pending, its eligibility
// timer has elapsed, and every dependency is completed.
func (e *Engine) Ready(spec *taskmodel.TaskSpec, rt *runtimestate.TaskRuntime, runtimes map[string]*runtimestate.TaskRuntime) bool {
	if rt.Status != runtimestate.StatusPending {
		return false
	}
	now := e.clock().Unix()
	if rt.NextEligibleAt != 0 && now < rt.NextEligibleAt {
		return false
	}
	for _, dep := range spec.DependsOn {
		depRT, ok := runtimes[dep]
		if !ok || depRT.Status != runtimestate.StatusCompleted {
			return false
		}
	}
	return true
}

// PropagateDependencyBlocks implements §4.4.2: iterate to fixpoint, blocking
// any pending task whose dependency is blocked.
func (e *Engine) PropagateDependencyBlocks(taskSet *taskmodel.TaskSet, runtimes map[string]*runtimestate.TaskRuntime) {
	for changed := true; changed; {
		changed = false
		for _, id := range taskSet.IDs() {
			spec, _ := taskSet.Get(id)
			rt := runtimes[id]
			if rt.Status != runtimestate.StatusPending {
				continue
			}
			for _, dep := range spec.DependsOn {
				if depRT := runtimes[dep]; depRT != nil && depRT.Status == runtimestate.StatusBlocked {
					rt.Status = runtimestate.StatusBlocked
					rt.BlockReason = fmt.Sprintf("dependency %s is blocked", dep)
					if e.metrics != nil {
						e.metrics.TasksBlocked.Inc()
					}
					changed = true
					break
				}
			}
		}
	}
}

// OnQuotaFailure implements §4.4.4 for a task whose worker exit was
// classified as a quota failure. runtimes must contain every task in the
// run (fail-fast blocks every other pending task).
func (e *Engine) OnQuotaFailure(taskID string, diagnostic string, runtimes map[string]*runtimestate.TaskRuntime, quota *runtimestate.QuotaRuntime) {
	rt := runtimes[taskID]
	now := e.clock()
	nowUnix := now.Unix()

	rt.QuotaFailuresTotal++
	quota.TotalFailures++
	quota.LastDetectedAt = nowUnix
	rt.CompileFailuresLevel = 0
	rt.RuntimeFailuresLevel = 0
	rt.LastFailureKind = runtimestate.KindQuota
	rt.LastError = diagnostic

	quota.ExtendCooldown(nowUnix + e.cfg.QuotaCooldownSeconds)
	if e.metrics != nil {
		e.metrics.QuotaCooldowns.Inc()
	}
	e.events.Emit("quota_cooldown", fmt.Sprintf("quota failure on %s, cooldown until %d", taskID, quota.CooldownUntil), map[string]any{
		"task_id":        taskID,
		"cooldown_until": quota.CooldownUntil,
	})

	if e.cfg.QuotaFailFast {
		reason := "quota fail-fast: global cooldown in effect"
		rt.Status = runtimestate.StatusBlocked
		rt.BlockReason = reason
		blocked := []string{taskID}
		for id, other := range runtimes {
			if id == taskID {
				continue
			}
			if other.Status == runtimestate.StatusPending {
				other.Status = runtimestate.StatusBlocked
				other.BlockReason = reason
				blocked = append(blocked, id)
			}
		}
		if e.metrics != nil {
			e.metrics.TasksBlocked.Add(float64(len(blocked)))
		}
		e.events.Emit("quota_fail_fast", "quota fail-fast: blocking all pending tasks", map[string]any{
			"task_id": taskID,
			"blocked": blocked,
		})
		return
	}

	if rt.QuotaFailuresTotal >= e.cfg.QuotaMaxFailuresPerTask {
		rt.Status = runtimestate.StatusBlocked
		rt.BlockReason = fmt.Sprintf("quota failures threshold reached (%d)", e.cfg.QuotaMaxFailuresPerTask)
		if e.metrics != nil {
			e.metrics.TasksBlocked.Inc()
		}
		e.events.Emit("task_blocked", fmt.Sprintf("%s blocked: %s", taskID, rt.BlockReason), map[string]any{"task_id": taskID})
		return
	}

	rt.Status = runtimestate.StatusPending
	rt.NextEligibleAt = quota.CooldownUntil
}

// OnNonQuotaFailure implements §4.4.3 (escalation) and §4.4.5 (retry vs
// block) for compile/runtime/test/infra/unknown failures.
func (e *Engine) OnNonQuotaFailure(taskID string, kind runtimestate.FailureKind, diagnostic string, runtimes map[string]*runtimestate.TaskRuntime, ladder taskmodel.Ladder) {
	rt := runtimes[taskID]
	rt.LastFailureKind = kind
	rt.LastError = diagnostic

	switch kind {
	case runtimestate.KindCompile:
		rt.CompileFailuresTotal++
		rt.CompileFailuresLevel++
		rt.RuntimeFailuresLevel = 0
	case runtimestate.KindRuntime:
		rt.RuntimeFailuresTotal++
		rt.RuntimeFailuresLevel++
		rt.CompileFailuresLevel = 0
	default:
		rt.OtherFailuresTotal++
		rt.CompileFailuresLevel = 0
		rt.RuntimeFailuresLevel = 0
	}

	e.maybeEscalate(taskID, rt, ladder)

	if rt.Attempts >= e.cfg.MaxAttempts {
		rt.Status = runtimestate.StatusBlocked
		rt.BlockReason = fmt.Sprintf("max attempts reached (%d). Last failure kind=%s", e.cfg.MaxAttempts, kind)
		if e.metrics != nil {
			e.metrics.TasksBlocked.Inc()
		}
		e.events.Emit("task_blocked", fmt.Sprintf("%s blocked: %s", taskID, rt.BlockReason), map[string]any{"task_id": taskID})
		return
	}

	rt.Status = runtimestate.StatusPending
	rt.NextEligibleAt = 0
	if e.metrics != nil {
		e.metrics.TasksRetried.Inc()
	}
	e.events.Emit("task_retry", fmt.Sprintf("%s retrying after %s failure", taskID, kind), map[string]any{"task_id": taskID, "kind": string(kind)})
}

func (e *Engine) maybeEscalate(taskID string, rt *runtimestate.TaskRuntime, ladder taskmodel.Ladder) {
	threshold, level := 0, 0
	switch {
	case rt.CompileFailuresLevel > 0:
		threshold, level = e.cfg.EscalateAfterCompile, rt.CompileFailuresLevel
	case rt.RuntimeFailuresLevel > 0:
		threshold, level = e.cfg.EscalateAfterRuntime, rt.RuntimeFailuresLevel
	default:
		return
	}
	if level < threshold {
		return
	}
	if rt.ProfileIndex >= len(ladder)-1 {
		return // already at the top rung; nothing to advance to
	}
	rt.ProfileIndex++
	rt.CompileFailuresLevel = 0
	rt.RuntimeFailuresLevel = 0
	if e.metrics != nil {
		e.metrics.Escalations.Inc()
	}
	prof := ladder.At(rt.ProfileIndex)
	e.events.Emit("escalation", fmt.Sprintf("%s escalated to %s:%s", taskID, prof.Model, prof.Reasoning), map[string]any{
		"task_id":       taskID,
		"profile_index": rt.ProfileIndex,
	})
}

// OnSuccess implements the successful-validation tail of §4.5 reap: mark
// completed, clear error fields and level counters.
func (e *Engine) OnSuccess(taskID string, runtimes map[string]*runtimestate.TaskRuntime) {
	rt := runtimes[taskID]
	rt.Status = runtimestate.StatusCompleted
	rt.LastFailureKind = ""
	rt.LastError = ""
	rt.CompileFailuresLevel = 0
	rt.RuntimeFailuresLevel = 0
	if e.metrics != nil {
		e.metrics.TasksCompleted.Inc()
	}
	e.events.Emit("task_completed", fmt.Sprintf("%s completed", taskID), map[string]any{"task_id": taskID})
}

// OnScopeViolation implements the terminal scope-gate-violation path of
// §4.5 reap: blocked, no retry.
func (e *Engine) OnScopeViolation(taskID string, violations []string, runtimes map[string]*runtimestate.TaskRuntime) {
	rt := runtimes[taskID]
	rt.Status = runtimestate.StatusBlocked
	rt.BlockReason = fmt.Sprintf("scope gate failed (disallowed files): %v", violations)
	if e.metrics != nil {
		e.metrics.TasksBlocked.Inc()
		e.metrics.ScopeViolations.Inc()
	}
	e.events.Emit("task_blocked", fmt.Sprintf("%s blocked: %s", taskID, rt.BlockReason), map[string]any{"task_id": taskID})
}

// MaybeClearCooldown implements the cooldown-expiry half of §4.7 step 4.
func (e *Engine) MaybeClearCooldown(quota *runtimestate.QuotaRuntime) bool {
	now := e.clock().Unix()
	if quota.CooldownUntil > 0 && now >= quota.CooldownUntil {
		quota.CooldownUntil = 0
		e.events.Emit("quota_resume", "quota cooldown expired", nil)
		return true
	}
	return false
}

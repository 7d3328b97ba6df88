// Package scheduler implements the Dispatch Loop: the top-level control
// loop that reaps finished workers, propagates blocks, honors cooldowns,
// computes capacity, launches ready tasks, persists state, and checks for
// termination.
//
// Grounded on control_plane/scheduler/scheduler.go's worker()/
// processNextTask() ticker-driven loop and its admission-control ordering
// (check backpressure, then mode, then dispatch), adapted from the
// teacher's distributed multi-tenant admission control to this spec's
// single global capacity/cooldown gate.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/packetsched/packetsched/internal/eventlog"
	"github.com/packetsched/packetsched/internal/obs"
	"github.com/packetsched/packetsched/internal/policy"
	"github.com/packetsched/packetsched/internal/runtimestate"
	"github.com/packetsched/packetsched/internal/statestore"
	"github.com/packetsched/packetsched/internal/supervisor"
	"github.com/packetsched/packetsched/internal/taskmodel"
	"go.uber.org/zap"
)

// Config holds the operator-tunable dispatch-loop parameters.
type Config struct {
	MaxParallel   int
	PollInterval  time.Duration
	StateFilePath string
}

// Engine is the single dispatch-thread owner of all TaskRuntime and
// QuotaRuntime mutation. Exactly one goroutine calls RunOnce/Run at a
// time, per the single-writer invariant of spec.md §5.
type Engine struct {
	cfg      Config
	taskSet  *taskmodel.TaskSet
	ladder   taskmodel.Ladder
	runtimes map[string]*runtimestate.TaskRuntime
	quotaRT  *runtimestate.QuotaRuntime

	supervisor *supervisor.Supervisor
	policy     *policy.Engine
	events     *eventlog.Sink
	metrics    *obs.Metrics
	log        *zap.SugaredLogger
	clock      func() time.Time

	lastWaitCooldownUntil int64
}

// New builds a dispatch-loop Engine.
func New(
	cfg Config,
	taskSet *taskmodel.TaskSet,
	ladder taskmodel.Ladder,
	runtimes map[string]*runtimestate.TaskRuntime,
	quotaRT *runtimestate.QuotaRuntime,
	sup *supervisor.Supervisor,
	pol *policy.Engine,
	events *eventlog.Sink,
	metrics *obs.Metrics,
	log *zap.SugaredLogger,
	clock func() time.Time,
) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		cfg: cfg, taskSet: taskSet, ladder: ladder, runtimes: runtimes, quotaRT: quotaRT,
		supervisor: sup, policy: pol, events: events, metrics: metrics, log: log, clock: clock,
	}
}

// RunOnce executes exactly one dispatch-loop iteration (spec.md §4.7
// steps 1-8, minus the final sleep) and reports whether the run has
// terminated.
func (e *Engine) RunOnce(ctx context.Context) (terminated bool, err error) {
	start := e.clock()

	e.reapRunning(ctx)
	e.policy.PropagateDependencyBlocks(e.taskSet, e.runtimes)

	if e.policy.MaybeClearCooldown(e.quotaRT) {
		e.lastWaitCooldownUntil = 0
	}

	capacity := e.computeCapacity()

	if capacity > 0 {
		e.launchReady(ctx, capacity)
	}

	if err := e.persist(); err != nil {
		return false, err
	}

	if e.metrics != nil {
		e.metrics.IterationDuration.Observe(e.clock().Sub(start).Seconds())
	}

	return e.isTerminal(), nil
}

func (e *Engine) reapRunning(ctx context.Context) {
	now := e.clock()
	for _, id := range e.taskSet.IDs() {
		rt := e.runtimes[id]
		if rt.Status != runtimestate.StatusRunning {
			continue
		}
		if e.supervisor.TimedOut(id) {
			e.supervisor.Terminate(id, e.runtimes, e.ladder)
			continue
		}
		if e.supervisor.Finished(id) {
			spec, _ := e.taskSet.Get(id)
			e.supervisor.Reap(ctx, spec, rt, e.runtimes, e.quotaRT, e.ladder)
		}
		_ = now
	}
}

func (e *Engine) computeCapacity() int {
	running := 0
	for _, rt := range e.runtimes {
		if rt.Status == runtimestate.StatusRunning {
			running++
		}
	}
	if e.metrics != nil {
		e.metrics.RunningGauge.Set(float64(running))
	}

	capacity := e.cfg.MaxParallel - running
	if capacity < 0 {
		capacity = 0
	}

	now := e.clock().Unix()
	if e.quotaRT.CooldownUntil > now {
		if e.metrics != nil {
			e.metrics.QuotaWaitIters.Inc()
		}
		if e.lastWaitCooldownUntil != e.quotaRT.CooldownUntil {
			e.lastWaitCooldownUntil = e.quotaRT.CooldownUntil
			e.events.Emit("quota_wait", fmt.Sprintf("capacity suppressed until %d", e.quotaRT.CooldownUntil), nil)
		}
		return 0
	}
	return capacity
}

func (e *Engine) launchReady(ctx context.Context, capacity int) {
	var ready []string
	for _, id := range e.taskSet.IDs() {
		spec, _ := e.taskSet.Get(id)
		rt := e.runtimes[id]
		if e.policy.Ready(spec, rt, e.runtimes) {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	if e.metrics != nil {
		e.metrics.ReadyGauge.Set(float64(len(ready)))
	}

	for i, id := range ready {
		if i >= capacity {
			break
		}
		spec, _ := e.taskSet.Get(id)
		rt := e.runtimes[id]
		if err := e.supervisor.Launch(ctx, spec, rt, e.ladder, e.runtimes); err != nil {
			e.log.Warnw("launch failed, routing as infra", "task_id", id, "error", err)
			e.policy.OnNonQuotaFailure(id, runtimestate.KindInfra, fmt.Sprintf("launch failed: %v", err), e.runtimes, e.ladder)
		}
	}
}

func (e *Engine) persist() error {
	tasks := make(map[string]*taskmodel.TaskSpec, e.taskSet.Len())
	for _, id := range e.taskSet.IDs() {
		spec, _ := e.taskSet.Get(id)
		tasks[id] = spec
	}
	doc := statestore.Build(e.ladder, tasks, e.runtimes, e.quotaRT, e.clock())
	if err := statestore.Save(e.cfg.StateFilePath, doc); err != nil {
		return fmt.Errorf("scheduler: persist state: %w", err)
	}
	return nil
}

// StateFilePathForTest exposes the configured state file path for tests
// that need to re-read what RunOnce persisted.
func (e *Engine) StateFilePathForTest() string { return e.cfg.StateFilePath }

func (e *Engine) isTerminal() bool {
	for _, rt := range e.runtimes {
		switch rt.Status {
		case runtimestate.StatusCompleted, runtimestate.StatusBlocked:
			continue
		default:
			return false
		}
	}
	return true
}

// HasBlockedTasks reports whether any task ended in status=blocked, used
// to select the process exit code.
func (e *Engine) HasBlockedTasks() bool {
	for _, rt := range e.runtimes {
		if rt.Status == runtimestate.StatusBlocked {
			return true
		}
	}
	return false
}

// InterruptAll implements the shutdown-signal path of §4.7: terminate all
// running workers, mark their tasks blocked, and persist.
func (e *Engine) InterruptAll() error {
	for _, id := range e.taskSet.IDs() {
		rt := e.runtimes[id]
		if rt.Status != runtimestate.StatusRunning {
			continue
		}
		e.supervisor.Kill(id)
		rt.Status = runtimestate.StatusBlocked
		rt.BlockReason = "orchestrator interrupted by operator"
	}
	e.events.Emit("interrupt", "orchestrator interrupted by operator", nil)
	return e.persist()
}

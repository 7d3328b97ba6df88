package scheduler_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/packetsched/packetsched/internal/eventlog"
	"github.com/packetsched/packetsched/internal/obs"
	"github.com/packetsched/packetsched/internal/policy"
	"github.com/packetsched/packetsched/internal/runtimestate"
	"github.com/packetsched/packetsched/internal/scheduler"
	"github.com/packetsched/packetsched/internal/statestore"
	"github.com/packetsched/packetsched/internal/supervisor"
	"github.com/packetsched/packetsched/internal/taskmodel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct{}

func (stubProvider) Provide(ctx context.Context, taskID, ref, existingPath, existingBranch string) (string, string, error) {
	if existingPath != "" {
		return existingPath, existingBranch, nil
	}
	return "/tmp/" + taskID, "task/" + taskID, nil
}

func (stubProvider) ChangedFiles(ctx context.Context, path string) ([]string, error) {
	return nil, nil
}

func newEngine(t *testing.T, specs []*taskmodel.TaskSpec) *scheduler.Engine {
	t.Helper()
	taskSet, err := taskmodel.NewTaskSet(specs)
	require.NoError(t, err)

	ladder := taskmodel.Ladder{{Model: "gpt-5", Reasoning: taskmodel.ReasoningLow}}
	runtimes := make(map[string]*runtimestate.TaskRuntime)
	for _, id := range taskSet.IDs() {
		runtimes[id] = runtimestate.NewTaskRuntime(id)
	}
	quotaRT := &runtimestate.QuotaRuntime{}

	log := zap.NewNop().Sugar()
	events := eventlog.NewInMemory(new(noopWriter), log)
	metrics := obs.NewMetrics(prometheus.NewRegistry())

	pol := policy.New(policy.Config{
		EscalateAfterCompile:    2,
		EscalateAfterRuntime:    2,
		MaxAttempts:             3,
		QuotaCooldownSeconds:    60,
		QuotaMaxFailuresPerTask: 3,
	}, events, metrics, nil)

	dir := t.TempDir()
	sup := supervisor.New(supervisor.Config{
		RuntimeDir: dir,
		DryRun:     true,
	}, stubProvider{}, pol, events, metrics, log, nil)

	return scheduler.New(scheduler.Config{
		MaxParallel:   3,
		PollInterval:  time.Millisecond,
		StateFilePath: filepath.Join(dir, "state.json"),
	}, taskSet, ladder, runtimes, quotaRT, sup, pol, events, metrics, log, nil)
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestScenario1_SingleTaskDryRun(t *testing.T) {
	e := newEngine(t, []*taskmodel.TaskSpec{
		{TaskID: "W101", AllowedFiles: []string{"src/example.py"}, ValidationCommands: []string{"echo ok"}},
	})

	code, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, scheduler.ExitSuccess, code)
}

func TestScenario2_DependencyOrdering(t *testing.T) {
	e := newEngine(t, []*taskmodel.TaskSpec{
		{TaskID: "W101"},
		{TaskID: "W102"},
		{TaskID: "W103", DependsOn: []string{"W101", "W102"}},
	})

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	doc, err := statestore.Load(e.StateFilePathForTest())
	require.NoError(t, err)
	for _, td := range doc.Tasks {
		require.Equal(t, "completed", td.Status)
	}
}

// execProvider is a worktree.Provider that materializes a real temp
// directory per task, so a worker command can actually run with cmd.Dir
// set to it, and reports a fixed ChangedFiles answer for scope-gate tests.
type execProvider struct {
	root    string
	changed []string
}

func (p execProvider) Provide(ctx context.Context, taskID, ref, existingPath, existingBranch string) (string, string, error) {
	if existingPath != "" {
		return existingPath, existingBranch, nil
	}
	path := filepath.Join(p.root, taskID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", "", err
	}
	return path, "task/" + taskID, nil
}

func (p execProvider) ChangedFiles(ctx context.Context, path string) ([]string, error) {
	return p.changed, nil
}

// newRealEngine builds a non-dry-run Engine whose workers actually spawn
// commandTemplate via sh -c, for scenarios that depend on classifying real
// process output (quota fail-fast, escalation, scope violation).
func newRealEngine(t *testing.T, specs []*taskmodel.TaskSpec, polCfg policy.Config, ladder taskmodel.Ladder, commandTemplate string, provider execProvider) (*scheduler.Engine, string) {
	t.Helper()
	taskSet, err := taskmodel.NewTaskSet(specs)
	require.NoError(t, err)

	runtimes := make(map[string]*runtimestate.TaskRuntime)
	for _, id := range taskSet.IDs() {
		runtimes[id] = runtimestate.NewTaskRuntime(id)
	}
	quotaRT := &runtimestate.QuotaRuntime{}

	log := zap.NewNop().Sugar()
	events := eventlog.NewInMemory(new(noopWriter), log)
	metrics := obs.NewMetrics(prometheus.NewRegistry())

	pol := policy.New(polCfg, events, metrics, nil)

	dir := t.TempDir()
	provider.root = filepath.Join(dir, "worktrees")
	sup := supervisor.New(supervisor.Config{
		RuntimeDir:      dir,
		CommandTemplate: commandTemplate,
		CommandTimeout:  5 * time.Second,
	}, provider, pol, events, metrics, log, nil)

	eng := scheduler.New(scheduler.Config{
		MaxParallel:   1,
		PollInterval:  5 * time.Millisecond,
		StateFilePath: filepath.Join(dir, "state.json"),
	}, taskSet, ladder, runtimes, quotaRT, sup, pol, events, metrics, log, nil)
	return eng, dir
}

func TestScenario3_QuotaFailFastBlocksAllPending(t *testing.T) {
	ladder := taskmodel.Ladder{{Model: "gpt-5", Reasoning: taskmodel.ReasoningLow}}
	e, _ := newRealEngine(t,
		[]*taskmodel.TaskSpec{
			{TaskID: "W101"},
			{TaskID: "W102"},
		},
		policy.Config{
			EscalateAfterCompile:    5,
			EscalateAfterRuntime:    5,
			MaxAttempts:             5,
			QuotaCooldownSeconds:    60,
			QuotaMaxFailuresPerTask: 5,
			QuotaFailFast:           true,
		},
		ladder,
		"echo 'rate limit reached' 1>&2; exit 1",
		execProvider{},
	)

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	require.True(t, e.HasBlockedTasks())

	doc, err := statestore.Load(e.StateFilePathForTest())
	require.NoError(t, err)
	for _, td := range doc.Tasks {
		require.Equal(t, "blocked", td.Status)
		require.Contains(t, td.BlockReason, "quota fail-fast")
	}
}

func TestScenario4_EscalationOnCompileFailures(t *testing.T) {
	ladder := taskmodel.Ladder{
		{Model: "gpt-5", Reasoning: taskmodel.ReasoningLow},
		{Model: "gpt-5", Reasoning: taskmodel.ReasoningHigh},
	}
	e, _ := newRealEngine(t,
		[]*taskmodel.TaskSpec{{TaskID: "W101"}},
		policy.Config{
			EscalateAfterCompile:    1,
			EscalateAfterRuntime:    1,
			MaxAttempts:             3,
			QuotaCooldownSeconds:    60,
			QuotaMaxFailuresPerTask: 5,
		},
		ladder,
		"echo 'error[E0001]: mismatched types' 1>&2; exit 1",
		execProvider{},
	)

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	doc, err := statestore.Load(e.StateFilePathForTest())
	require.NoError(t, err)
	require.Len(t, doc.Tasks, 1)
	td := doc.Tasks[0]
	require.Equal(t, "blocked", td.Status)
	require.Contains(t, td.BlockReason, "max attempts reached (3)")
	require.Equal(t, 1, td.ProfileIndex)
	require.Equal(t, 3, td.Attempts)
}

func TestScenario5_ScopeGateViolationBlocksWithoutRetry(t *testing.T) {
	ladder := taskmodel.Ladder{{Model: "gpt-5", Reasoning: taskmodel.ReasoningLow}}
	e, _ := newRealEngine(t,
		[]*taskmodel.TaskSpec{
			{TaskID: "W101", AllowedFiles: []string{"src/allowed.go"}},
		},
		policy.Config{
			EscalateAfterCompile:    5,
			EscalateAfterRuntime:    5,
			MaxAttempts:             5,
			QuotaCooldownSeconds:    60,
			QuotaMaxFailuresPerTask: 5,
		},
		ladder,
		"true",
		execProvider{changed: []string{"src/forbidden.go"}},
	)

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	doc, err := statestore.Load(e.StateFilePathForTest())
	require.NoError(t, err)
	require.Len(t, doc.Tasks, 1)
	td := doc.Tasks[0]
	require.Equal(t, "blocked", td.Status)
	require.Equal(t, 1, td.Attempts, "a scope violation must not retry")
	require.Contains(t, td.BlockReason, "scope gate failed")
}

func TestScenario6_ResumeDemotesStaleRunningTask(t *testing.T) {
	specs := []*taskmodel.TaskSpec{{TaskID: "W101"}}
	taskSet, err := taskmodel.NewTaskSet(specs)
	require.NoError(t, err)
	ladder := taskmodel.Ladder{{Model: "gpt-5", Reasoning: taskmodel.ReasoningLow}}

	doc := statestore.Document{
		Tasks: []statestore.TaskDoc{{ID: "W101", Status: "running", Attempts: 1}},
	}
	runtimes, quotaRT := statestore.Restore(doc, taskSet, ladder)
	require.Equal(t, runtimestate.StatusPending, runtimes["W101"].Status)
	require.Contains(t, runtimes["W101"].LastError, "stale 'running' state")

	log := zap.NewNop().Sugar()
	events := eventlog.NewInMemory(new(noopWriter), log)
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	pol := policy.New(policy.Config{
		EscalateAfterCompile:    2,
		EscalateAfterRuntime:    2,
		MaxAttempts:             3,
		QuotaCooldownSeconds:    60,
		QuotaMaxFailuresPerTask: 3,
	}, events, metrics, nil)

	dir := t.TempDir()
	sup := supervisor.New(supervisor.Config{
		RuntimeDir: dir,
		DryRun:     true,
	}, stubProvider{}, pol, events, metrics, log, nil)

	eng := scheduler.New(scheduler.Config{
		MaxParallel:   1,
		PollInterval:  time.Millisecond,
		StateFilePath: filepath.Join(dir, "state.json"),
	}, taskSet, ladder, runtimes, quotaRT, sup, pol, events, metrics, log, nil)

	_, err = eng.Run(context.Background())
	require.NoError(t, err)

	loaded, err := statestore.Load(eng.StateFilePathForTest())
	require.NoError(t, err)
	require.Len(t, loaded.Tasks, 1)
	require.Equal(t, "completed", loaded.Tasks[0].Status)
	require.Equal(t, 2, loaded.Tasks[0].Attempts, "the resumed attempt must not reuse the stale attempts count")
}

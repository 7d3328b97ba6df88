package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/packetsched/packetsched/internal/eventlog"
	"github.com/packetsched/packetsched/internal/manifest"
	"github.com/packetsched/packetsched/internal/obs"
	"github.com/packetsched/packetsched/internal/policy"
	"github.com/packetsched/packetsched/internal/quota"
	"github.com/packetsched/packetsched/internal/report"
	"github.com/packetsched/packetsched/internal/runtimestate"
	"github.com/packetsched/packetsched/internal/scheduler"
	"github.com/packetsched/packetsched/internal/statestore"
	"github.com/packetsched/packetsched/internal/supervisor"
	"github.com/packetsched/packetsched/internal/taskmodel"
	"github.com/packetsched/packetsched/internal/worktree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultCommandTemplate = "echo running {task_id_q} with {model_q} ({reasoning_q})"

type flags struct {
	manifestPath         string
	repoRoot             string
	runtimeDir           string
	worktreeRoot         string
	stateFile            string
	maxParallel          int
	pollInterval         int
	maxAttempts          int
	commandTimeout       int
	workerTimeout        int
	cooldownSeconds      int
	maxQuotaPerTask      int
	quotaFailFast        bool
	escalateCompile      int
	escalateRuntime      int
	profiles             string
	dryRun               bool
	noResume             bool
	reportMode           bool
	allowEmptyFiles      bool
	probeModels          bool
	probeTimeout         int
	probeCommandTemplate string
	commandTemplate      string
}

// finalExitCode carries the process exit code out of RunE without calling
// os.Exit before main has flushed the logger.
var finalExitCode int

func newRootCommand(log *zap.SugaredLogger) *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:           "packetsched",
		Short:         "Live task orchestrator scheduler engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFlags(f)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := run(cmd.Context(), f, log)
			finalExitCode = int(code)
			return err
		},
	}

	bindFlags(cmd, f)
	return cmd
}

func bindFlags(cmd *cobra.Command, f *flags) {
	fl := cmd.Flags()
	fl.StringVar(&f.manifestPath, "manifest", "manifest.json", "path to the manifest file")
	fl.StringVar(&f.repoRoot, "repo-root", ".", "repository root packets are resolved against")
	fl.StringVar(&f.runtimeDir, "runtime-dir", ".packetsched", "directory for state, prompts, and logs")
	fl.StringVar(&f.worktreeRoot, "worktree-root", "", "directory worktrees are created under (defaults under runtime-dir)")
	fl.StringVar(&f.stateFile, "state-file", "", "state file path (defaults under runtime-dir)")
	fl.IntVar(&f.maxParallel, "max-parallel", 1, "maximum concurrent workers (>=1)")
	fl.IntVar(&f.pollInterval, "poll-interval", 2, "dispatch loop poll interval, seconds (>=0)")
	fl.IntVar(&f.maxAttempts, "max-attempts", 3, "maximum attempts per task before blocking (>=1)")
	fl.IntVar(&f.commandTimeout, "command-timeout-seconds", 120, "per-validation-command timeout, seconds (>=1)")
	fl.IntVar(&f.workerTimeout, "worker-timeout-seconds", 0, "per-worker timeout, seconds (0 disables)")
	fl.IntVar(&f.cooldownSeconds, "quota-cooldown-seconds", 60, "quota cooldown window, seconds (>=1)")
	fl.IntVar(&f.maxQuotaPerTask, "quota-max-failures-per-task", 3, "quota failures before a task blocks (>=1)")
	fl.BoolVar(&f.quotaFailFast, "quota-fail-fast", false, "block every pending task on the first quota failure")
	fl.IntVar(&f.escalateCompile, "escalate-after-compile", 2, "compile failures at one profile before escalating (>=1)")
	fl.IntVar(&f.escalateRuntime, "escalate-after-runtime", 2, "runtime failures at one profile before escalating (>=1)")
	fl.StringVar(&f.profiles, "executor-profiles", "", "semicolon-separated model:reasoning ladder, e.g. gpt-5:low;gpt-5:high")
	fl.BoolVar(&f.dryRun, "dry-run", false, "do not spawn workers; mark every launched task completed immediately")
	fl.BoolVar(&f.noResume, "no-resume", false, "ignore any existing state file on startup")
	fl.BoolVar(&f.reportMode, "report", false, "print a compact report from the state file and exit")
	fl.BoolVar(&f.allowEmptyFiles, "allow-empty-allowed-files", false, "permit packets with an empty allowed_files set")
	fl.BoolVar(&f.probeModels, "probe-models", false, "probe each unique model in the executor ladder once at startup and drop unsupported ones")
	fl.IntVar(&f.probeTimeout, "probe-model-timeout-seconds", 30, "timeout per model probe request, seconds (>=1)")
	fl.StringVar(&f.probeCommandTemplate, "probe-model-command-template", quota.DefaultProbeCommandTemplate, "command template used to probe one model ({model}, {repo_root} placeholders)")
	fl.StringVar(&f.commandTemplate, "worker-command-template", defaultCommandTemplate, "worker command template")
}

// validateFlags mirrors the flag-validation behavior of
// original_source/scripts/orchestrator/scheduler_args.py: reject
// out-of-range capacity/timing values before anything is loaded.
func validateFlags(f *flags) error {
	type bound struct {
		name string
		val  int
		min  int
	}
	bounds := []bound{
		{"--max-parallel", f.maxParallel, 1},
		{"--poll-interval", f.pollInterval, 0},
		{"--max-attempts", f.maxAttempts, 1},
		{"--command-timeout-seconds", f.commandTimeout, 1},
		{"--worker-timeout-seconds", f.workerTimeout, 0},
		{"--quota-cooldown-seconds", f.cooldownSeconds, 1},
		{"--quota-max-failures-per-task", f.maxQuotaPerTask, 1},
		{"--escalate-after-compile", f.escalateCompile, 1},
		{"--escalate-after-runtime", f.escalateRuntime, 1},
		{"--probe-model-timeout-seconds", f.probeTimeout, 1},
	}
	for _, b := range bounds {
		if b.val < b.min {
			return fmt.Errorf("%s must be >= %d, got %d", b.name, b.min, b.val)
		}
	}
	return nil
}

func run(ctx context.Context, f *flags, log *zap.SugaredLogger) (scheduler.ExitCode, error) {
	stateFile := f.stateFile
	if stateFile == "" {
		stateFile = filepath.Join(f.runtimeDir, "state.json")
	}
	worktreeRoot := f.worktreeRoot
	if worktreeRoot == "" {
		worktreeRoot = filepath.Join(f.runtimeDir, "worktrees")
	}
	eventLogPath := filepath.Join(f.runtimeDir, "events.jsonl")

	if f.reportMode {
		if err := report.Render(os.Stdout, stateFile, eventLogPath); err != nil {
			return scheduler.ExitConfigError, err
		}
		return scheduler.ExitSuccess, nil
	}

	ladder, err := parseLadder(f.profiles)
	if err != nil {
		return scheduler.ExitConfigError, err
	}

	taskSet, err := manifest.Load(f.manifestPath, f.repoRoot, f.allowEmptyFiles)
	if err != nil {
		return scheduler.ExitConfigError, err
	}

	if err := os.MkdirAll(f.runtimeDir, 0o755); err != nil {
		return scheduler.ExitConfigError, fmt.Errorf("create runtime dir: %w", err)
	}

	events, err := eventlog.Open(eventLogPath, log)
	if err != nil {
		return scheduler.ExitConfigError, err
	}
	defer events.Close()

	metrics := obs.NewMetrics(prometheus.NewRegistry())

	if f.probeModels {
		prober := quota.NewCommandProber(f.repoRoot, f.probeCommandTemplate, time.Duration(f.probeTimeout)*time.Second)
		pace := quota.NewLimiter(time.Duration(f.probeTimeout) * time.Second / 4)
		filtered, probeErr := quota.FilterByProbe(ctx, prober, pace, ladder, events, metrics)
		if probeErr != nil {
			return scheduler.ExitConfigError, fmt.Errorf("model probe error: %w", probeErr)
		}
		ladder = filtered
	}

	runtimes := make(map[string]*runtimestate.TaskRuntime, taskSet.Len())
	for _, id := range taskSet.IDs() {
		runtimes[id] = runtimestate.NewTaskRuntime(id)
	}
	quotaRT := &runtimestate.QuotaRuntime{}

	if !f.noResume {
		if _, statErr := os.Stat(stateFile); statErr == nil {
			doc, loadErr := statestore.Load(stateFile)
			if loadErr != nil {
				return scheduler.ExitConfigError, fmt.Errorf("resume: %w", loadErr)
			}
			runtimes, quotaRT = statestore.Restore(doc, taskSet, ladder)
			events.Emit("resume_loaded", "restored runtime from state file", nil)
		} else {
			events.Emit("resume_skip", "no existing state file found", nil)
		}
	} else {
		events.Emit("resume_skip", "resume explicitly disabled", nil)
	}

	polEngine := policy.New(policy.Config{
		EscalateAfterCompile:    f.escalateCompile,
		EscalateAfterRuntime:    f.escalateRuntime,
		MaxAttempts:             f.maxAttempts,
		QuotaCooldownSeconds:    int64(f.cooldownSeconds),
		QuotaMaxFailuresPerTask: f.maxQuotaPerTask,
		QuotaFailFast:           f.quotaFailFast,
	}, events, metrics, nil)

	wt := worktree.NewGitProvider(f.repoRoot, worktreeRoot, "")

	sup := supervisor.New(supervisor.Config{
		RuntimeDir:      f.runtimeDir,
		CommandTemplate: f.commandTemplate,
		CommandTimeout:  time.Duration(f.commandTimeout) * time.Second,
		WorkerTimeout:   time.Duration(f.workerTimeout) * time.Second,
		DryRun:          f.dryRun,
	}, wt, polEngine, events, metrics, log, nil)

	eng := scheduler.New(scheduler.Config{
		MaxParallel:   f.maxParallel,
		PollInterval:  time.Duration(f.pollInterval) * time.Second,
		StateFilePath: stateFile,
	}, taskSet, ladder, runtimes, quotaRT, sup, polEngine, events, metrics, log, nil)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return eng.Run(runCtx)
}

func parseLadder(raw string) (taskmodel.Ladder, error) {
	if strings.TrimSpace(raw) == "" {
		return taskmodel.Ladder{{Model: "default", Reasoning: taskmodel.ReasoningMedium}}, nil
	}
	var ladder taskmodel.Ladder
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pieces := strings.SplitN(part, ":", 2)
		if len(pieces) != 2 {
			return nil, fmt.Errorf("--executor-profiles: malformed entry %q, expected model:reasoning", part)
		}
		ladder = append(ladder, taskmodel.ModelProfile{
			Model:     strings.TrimSpace(pieces[0]),
			Reasoning: taskmodel.NormalizeReasoning(strings.TrimSpace(pieces[1])),
		})
	}
	if len(ladder) == 0 {
		return nil, fmt.Errorf("--executor-profiles: no profiles parsed from %q", raw)
	}
	return ladder, nil
}

func exitCodeForError(err error) scheduler.ExitCode {
	if err == nil {
		return scheduler.ExitCode(finalExitCode)
	}
	return scheduler.ExitConfigError
}


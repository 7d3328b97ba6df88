// Package supervisor implements the Worker Supervisor: launches a worker
// subprocess for a ready task, monitors it without blocking the dispatch
// loop, and on exit runs the Scope Gate and Validation Runner before
// routing the outcome through the Policy Engine.
//
// Grounded on fluxforge/agent/executor.go for subprocess launch/capture and
// on control_plane/reconciler.go's context.WithTimeout "hard kill-switch"
// pattern for per-worker timeout enforcement, adapted from context
// cancellation to an explicit SIGTERM-then-SIGKILL sequence per spec.md
// §4.5 (a context cancellation alone only stops waiting on the process, it
// does not signal it). Because exec.Cmd has no non-blocking
// poll/wait_nohang, each launch spawns a single reaper goroutine that
// signals completion over a channel; the dispatch loop drains it with a
// non-blocking channel receive, preserving the single-dispatch-thread
// ownership of TaskRuntime mutation described in spec.md §5.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/packetsched/packetsched/internal/classify"
	"github.com/packetsched/packetsched/internal/eventlog"
	"github.com/packetsched/packetsched/internal/obs"
	"github.com/packetsched/packetsched/internal/policy"
	"github.com/packetsched/packetsched/internal/promptgen"
	"github.com/packetsched/packetsched/internal/runtimestate"
	"github.com/packetsched/packetsched/internal/scopegate"
	"github.com/packetsched/packetsched/internal/taskmodel"
	"github.com/packetsched/packetsched/internal/validate"
	"github.com/packetsched/packetsched/internal/worktree"
	"go.uber.org/zap"
)

// Config holds the operator-tunable launch/timeout parameters.
type Config struct {
	RuntimeDir      string
	CommandTemplate string
	CommandTimeout  time.Duration
	WorkerTimeout   time.Duration // 0 disables
	DryRun          bool
	DefaultRef      string
}

type procHandle struct {
	cmd       *exec.Cmd
	startedAt time.Time
	logPath   string
	done      chan struct{}
	exitErr   error
	mu        sync.Mutex
	reaped    bool
}

// Supervisor owns the set of in-flight worker processes.
type Supervisor struct {
	cfg       Config
	worktrees worktree.Provider
	policy    *policy.Engine
	events    *eventlog.Sink
	metrics   *obs.Metrics
	log       *zap.SugaredLogger
	clock     func() time.Time

	mu      sync.Mutex
	running map[string]*procHandle
}

// New builds a Supervisor.
func New(cfg Config, wt worktree.Provider, pol *policy.Engine, events *eventlog.Sink, metrics *obs.Metrics, log *zap.SugaredLogger, clock func() time.Time) *Supervisor {
	if clock == nil {
		clock = time.Now
	}
	return &Supervisor{
		cfg: cfg, worktrees: wt, policy: pol, events: events, metrics: metrics, log: log, clock: clock,
		running: make(map[string]*procHandle),
	}
}

// Launch implements §4.5 Launch: worktree provisioning, prompt/command
// rendering, and process spawn (or the dry-run immediate-completion path).
func (s *Supervisor) Launch(ctx context.Context, spec *taskmodel.TaskSpec, rt *runtimestate.TaskRuntime, ladder taskmodel.Ladder, runtimes map[string]*runtimestate.TaskRuntime) error {
	path, branch, err := s.worktrees.Provide(ctx, spec.TaskID, s.cfg.DefaultRef, rt.WorktreePath, rt.BranchName)
	if err != nil {
		return fmt.Errorf("supervisor: provision worktree: %w", err)
	}
	rt.WorktreePath = path
	rt.BranchName = branch

	rt.Attempts++
	if s.metrics != nil {
		s.metrics.TasksLaunched.Inc()
	}

	prof := ladder.At(rt.ProfileIndex)
	promptPath := s.attemptPath("prompts", spec.TaskID, rt.Attempts, "txt")
	logPath := s.attemptPath("logs", spec.TaskID, rt.Attempts, "log")
	rt.PromptFile = promptPath
	rt.LogFile = logPath

	satisfied := make([]string, 0, len(spec.DependsOn))
	satisfied = append(satisfied, spec.DependsOn...)

	allowed := append([]string(nil), spec.AllowedFiles...)
	sort.Strings(allowed)

	promptText := promptgen.RenderPrompt(promptgen.PromptInput{
		TaskID:             spec.TaskID,
		PacketPath:         spec.PacketPath,
		SatisfiedDeps:      satisfied,
		Profile:            prof,
		Attempts:           rt.Attempts,
		LastError:          rt.LastError,
		AllowedFiles:       allowed,
		ValidationCommands: spec.ValidationCommands,
	})
	if err := s.writeFile(promptPath, promptText); err != nil {
		return fmt.Errorf("supervisor: write prompt: %w", err)
	}

	s.events.Emit("task_launched", fmt.Sprintf("%s launched (attempt %d, profile %s:%s)", spec.TaskID, rt.Attempts, prof.Model, prof.Reasoning), map[string]any{
		"task_id": spec.TaskID, "attempt": rt.Attempts,
	})

	if s.cfg.DryRun {
		s.policy.OnSuccess(spec.TaskID, runtimes)
		return nil
	}

	commandLine, err := promptgen.RenderCommand(s.cfg.CommandTemplate, promptgen.CommandFields{
		TaskID:     spec.TaskID,
		Model:      prof.Model,
		Reasoning:  string(prof.Reasoning),
		Worktree:   path,
		PromptFile: promptPath,
		LogFile:    logPath,
		PacketPath: spec.PacketPath,
	})
	if err != nil {
		return fmt.Errorf("supervisor: render command: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("supervisor: create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("supervisor: open log file: %w", err)
	}

	cmd := exec.Command("sh", "-c", commandLine)
	cmd.Dir = path
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("supervisor: start worker: %w", err)
	}

	handle := &procHandle{cmd: cmd, startedAt: s.clock(), logPath: logPath, done: make(chan struct{})}
	s.mu.Lock()
	s.running[spec.TaskID] = handle
	s.mu.Unlock()

	rt.Status = runtimestate.StatusRunning
	rt.PID = cmd.Process.Pid

	go func() {
		err := cmd.Wait()
		logFile.Close()
		handle.mu.Lock()
		handle.exitErr = err
		handle.mu.Unlock()
		close(handle.done)
	}()

	return nil
}

// Finished reports whether the task's worker process has exited, without
// blocking.
func (s *Supervisor) Finished(taskID string) bool {
	s.mu.Lock()
	h, ok := s.running[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// TimedOut reports whether taskID's worker has exceeded the configured
// per-worker timeout.
func (s *Supervisor) TimedOut(taskID string) bool {
	if s.cfg.WorkerTimeout <= 0 {
		return false
	}
	s.mu.Lock()
	h, ok := s.running[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.clock().Sub(h.startedAt) > s.cfg.WorkerTimeout
}

// Terminate sends SIGTERM, waits a short grace period, then SIGKILL, and
// routes the task through the Policy Engine as an infra failure.
func (s *Supervisor) Terminate(taskID string, runtimes map[string]*runtimestate.TaskRuntime, ladder taskmodel.Ladder) {
	if !s.kill(taskID) {
		return
	}
	s.policy.OnNonQuotaFailure(taskID, runtimestate.KindInfra, "worker timeout: terminated (SIGTERM/SIGKILL)", runtimes, ladder)
}

// Kill sends SIGTERM, waits a short grace period, then SIGKILL, without
// routing through the Policy Engine — used by the operator-interrupt path,
// which assigns its own block reason directly.
func (s *Supervisor) Kill(taskID string) {
	s.kill(taskID)
}

// kill performs the signal-and-wait sequence and reports whether a running
// process for taskID was found.
func (s *Supervisor) kill(taskID string) bool {
	s.mu.Lock()
	h, ok := s.running[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	if h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Signal(syscall.SIGKILL)
		}
		<-h.done
	}

	s.mu.Lock()
	delete(s.running, taskID)
	s.mu.Unlock()
	return true
}

// Reap implements the rest of §4.5: on non-zero exit, classify and route
// through the Policy Engine; on zero exit, scope gate then validation.
func (s *Supervisor) Reap(ctx context.Context, spec *taskmodel.TaskSpec, rt *runtimestate.TaskRuntime, runtimes map[string]*runtimestate.TaskRuntime, quota *runtimestate.QuotaRuntime, ladder taskmodel.Ladder) {
	s.mu.Lock()
	h, ok := s.running[spec.TaskID]
	if ok {
		delete(s.running, spec.TaskID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			// Exception containment: a per-task fault must never take down
			// the dispatch loop.
			s.policy.OnNonQuotaFailure(spec.TaskID, runtimestate.KindInfra, fmt.Sprintf("internal error during reap: %v", r), runtimes, ladder)
		}
	}()

	h.mu.Lock()
	exitErr := h.exitErr
	h.mu.Unlock()

	if exitErr != nil {
		tail := tailFile(h.logPath, 120)
		kind := classify.Classify(tail)
		if kind == runtimestate.KindQuota {
			s.policy.OnQuotaFailure(spec.TaskID, tail, runtimes, quota)
		} else {
			s.policy.OnNonQuotaFailure(spec.TaskID, kind, tail, runtimes, ladder)
		}
		return
	}

	changed, err := s.worktrees.ChangedFiles(ctx, rt.WorktreePath)
	if err != nil {
		s.policy.OnNonQuotaFailure(spec.TaskID, runtimestate.KindInfra, fmt.Sprintf("querying changed files: %v", err), runtimes, ladder)
		return
	}
	rt.LastChangedFiles = changed

	if !scopegate.Within(changed, spec.AllowedFiles) {
		violations := scopegate.Violations(changed, spec.AllowedFiles)
		s.policy.OnScopeViolation(spec.TaskID, violations, runtimes)
		return
	}

	res := validate.Run(ctx, rt.WorktreePath, spec.ValidationCommands, s.cfg.CommandTimeout)
	if !res.OK {
		if s.metrics != nil {
			s.metrics.ValidationFailed.Inc()
		}
		kind := classify.Classify(res.Diagnostic)
		if kind == runtimestate.KindQuota {
			s.policy.OnQuotaFailure(spec.TaskID, res.Diagnostic, runtimes, quota)
		} else {
			s.policy.OnNonQuotaFailure(spec.TaskID, kind, res.Diagnostic, runtimes, ladder)
		}
		return
	}

	s.policy.OnSuccess(spec.TaskID, runtimes)
}

func (s *Supervisor) attemptPath(kind, taskID string, attempt int, ext string) string {
	return filepath.Join(s.cfg.RuntimeDir, kind, fmt.Sprintf("%s_attempt_%02d.%s", taskID, attempt, ext))
}

func (s *Supervisor) writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func tailFile(path string, maxLines int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

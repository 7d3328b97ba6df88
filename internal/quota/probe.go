// Package quota implements the --probe-models startup ladder filter: a
// one-shot check, run once per unique model in the executor-profiles
// ladder before the dispatch loop starts, that drops models the current
// account/deployment cannot use.
//
// Grounded directly on original_source/scripts/orchestrator/
// scheduler_probe.go's probe_model_support / filter_profiles_by_model_probe
// (invoked once at startup, gated on --probe-models, before resume-state
// loading, in both scheduler_engine.py and the consolidated scheduler.py).
// This has nothing to do with the quota cooldown window; it is a one-time
// ladder-filtering step, not a per-iteration capacity gate.
package quota

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/packetsched/packetsched/internal/classify"
	"github.com/packetsched/packetsched/internal/eventlog"
	"github.com/packetsched/packetsched/internal/obs"
	"github.com/packetsched/packetsched/internal/runtimestate"
	"github.com/packetsched/packetsched/internal/taskmodel"
	"golang.org/x/time/rate"
)

// DefaultProbeCommandTemplate mirrors scheduler_probe.py's codex invocation:
// a cheap, side-effect-free "are you there" call against one model.
const DefaultProbeCommandTemplate = `codex exec -m {model} -c model_reasoning_effort=low --cd {repo_root} --skip-git-repo-check --json "Reply with OK"`

// ProbeResult is the outcome of probing a single model.
type ProbeResult struct {
	Supported bool
	Reason    string
}

// Prober checks whether a model is currently usable. The default
// implementation shells out to CommandProber's template; tests substitute
// a stub.
type Prober interface {
	ProbeModel(ctx context.Context, model string) ProbeResult
}

// CommandProber runs a templated shell command per model and classifies
// the captured output, following probe_model_support's decision order:
// an explicit "model unsupported" marker drops the model; everything
// else (success, quota/rate-limit hit, timeout, inconclusive failure) is
// treated as supported, leaving transient problems to runtime
// retries/escalation rather than startup filtering.
type CommandProber struct {
	RepoRoot        string
	CommandTemplate string // {model} and {repo_root} placeholders; defaults to DefaultProbeCommandTemplate
	Timeout         time.Duration
}

// NewCommandProber builds a CommandProber, applying the default template
// and a 30s timeout when left zero.
func NewCommandProber(repoRoot, commandTemplate string, timeout time.Duration) *CommandProber {
	if commandTemplate == "" {
		commandTemplate = DefaultProbeCommandTemplate
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CommandProber{RepoRoot: repoRoot, CommandTemplate: commandTemplate, Timeout: timeout}
}

func (p *CommandProber) ProbeModel(ctx context.Context, model string) ProbeResult {
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	line := strings.NewReplacer("{model}", model, "{repo_root}", p.RepoRoot).Replace(p.CommandTemplate)
	cmd := exec.CommandContext(cctx, "sh", "-c", line)
	cmd.Dir = p.RepoRoot
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()

	if cctx.Err() == context.DeadlineExceeded {
		return ProbeResult{Supported: true, Reason: fmt.Sprintf("probe timed out after %s; treating as supported", p.Timeout)}
	}

	output := buf.String()
	if err == nil && strings.Contains(output, `"turn.completed"`) {
		return ProbeResult{Supported: true, Reason: "supported"}
	}
	if isModelUnsupported(output) {
		return ProbeResult{Supported: false, Reason: "unsupported by current account"}
	}
	if classify.Classify(output) == runtimestate.KindQuota {
		return ProbeResult{Supported: true, Reason: "probe hit quota/rate limit; treating model as supported"}
	}
	return ProbeResult{Supported: true, Reason: "probe inconclusive; treating as supported"}
}

func isModelUnsupported(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "is not supported when using codex with a chatgpt account") ||
		strings.Contains(lower, "model is not supported")
}

// Limiter paces consecutive probes so that filtering a long executor
// ladder does not itself look like a burst of requests against whatever
// is being probed.
//
// Grounded on control_plane/scheduler/limiter.go's TokenBucketLimiter,
// which wraps golang.org/x/time/rate; collapsed here to a single global
// limiter since probing has one caller (startup ladder filtering), not
// one bucket per key.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter builds a limiter allowing one probe every interval, with a
// burst of 1 so the first probe never waits.
func NewLimiter(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = 1 * time.Second
	}
	return &Limiter{rl: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next probe may be attempted, or ctx is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// FilterByProbe implements filter_profiles_by_model_probe: probe each
// unique model appearing in ladder exactly once, drop every profile
// whose model was found unsupported, and error out if nothing survives.
func FilterByProbe(ctx context.Context, prober Prober, pace *Limiter, ladder taskmodel.Ladder, events *eventlog.Sink, metrics *obs.Metrics) (taskmodel.Ladder, error) {
	status := make(map[string]bool, len(ladder))
	for _, prof := range ladder {
		if _, done := status[prof.Model]; done {
			continue
		}
		if pace != nil {
			if err := pace.Wait(ctx); err != nil {
				return nil, fmt.Errorf("quota: probe pacing: %w", err)
			}
		}
		res := prober.ProbeModel(ctx, prof.Model)
		status[prof.Model] = res.Supported

		eventName := "model_probe_ok"
		if !res.Supported {
			eventName = "model_probe_drop"
		}
		if metrics != nil {
			if res.Supported {
				metrics.ModelProbesOK.Inc()
			} else {
				metrics.ModelProbesDrop.Inc()
			}
		}
		events.Emit(eventName, fmt.Sprintf("model probe %s: %s", prof.Model, res.Reason), map[string]any{
			"model":     prof.Model,
			"supported": res.Supported,
			"reason":    res.Reason,
		})
	}

	filtered := make(taskmodel.Ladder, 0, len(ladder))
	for _, prof := range ladder {
		if status[prof.Model] {
			filtered = append(filtered, prof)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("quota: all models were removed by --probe-models; adjust --executor-profiles or authentication")
	}
	return filtered, nil
}

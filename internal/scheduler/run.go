package scheduler

import (
	"context"
	"time"
)

// ExitCode mirrors spec.md §6's process exit codes.
type ExitCode int

const (
	ExitSuccess          ExitCode = 0
	ExitSuccessBlocked   ExitCode = 1
	ExitConfigError      ExitCode = 2
	ExitOperatorInterrupt ExitCode = 130
)

// Run drives RunOnce to termination or until ctx is cancelled (operator
// interrupt), sleeping the configured poll interval between iterations.
func (e *Engine) Run(ctx context.Context) (ExitCode, error) {
	e.events.Emit("start", "dispatch loop starting", nil)

	for {
		select {
		case <-ctx.Done():
			if err := e.InterruptAll(); err != nil {
				return ExitConfigError, err
			}
			return ExitOperatorInterrupt, nil
		default:
		}

		terminated, err := e.RunOnce(ctx)
		if err != nil {
			return ExitConfigError, err
		}
		if terminated {
			e.events.Emit("finish", "all tasks completed or blocked", nil)
			if e.HasBlockedTasks() {
				return ExitSuccessBlocked, nil
			}
			return ExitSuccess, nil
		}

		select {
		case <-ctx.Done():
			if err := e.InterruptAll(); err != nil {
				return ExitConfigError, err
			}
			return ExitOperatorInterrupt, nil
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// Package validate implements the Validation Runner: an ordered list of
// shell commands executed in a task's working copy under a per-command
// timeout, stopping at the first failure.
//
// Grounded directly on fluxforge/agent/executor.go's
// exec.Command("sh", "-c", command) + syscall.WaitStatus exit-code
// extraction — the only os/exec usage anywhere in the teacher's tree.
package validate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Result is the outcome of running one task's validation commands.
type Result struct {
	OK         bool
	Diagnostic string // empty when OK
}

// Run executes commands in order inside workdir, each under timeout. It
// stops at the first failing command (non-zero exit or timeout) and
// returns a diagnostic naming the 1-based index, the command text, the
// exit status, and the trimmed combined stdout+stderr. No commands
// trivially succeeds.
func Run(ctx context.Context, workdir string, commands []string, timeout time.Duration) Result {
	for i, command := range commands {
		ok, status, output := runOne(ctx, workdir, command, timeout)
		if ok {
			continue
		}
		diag := fmt.Sprintf("validation command %d failed: %s\n%s\n%s", i+1, command, status, strings.TrimSpace(output))
		return Result{OK: false, Diagnostic: diag}
	}
	return Result{OK: true}
}

func runOne(ctx context.Context, workdir, command string, timeout time.Duration) (ok bool, status string, output string) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = workdir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return false, fmt.Sprintf("timed out after %s", timeout), buf.String()
	}
	if err == nil {
		return true, "exit code 0", buf.String()
	}

	exitCode := 1
	if exitErr, isExit := err.(*exec.ExitError); isExit {
		if ws, isWS := exitErr.Sys().(syscall.WaitStatus); isWS {
			exitCode = ws.ExitStatus()
		}
	}
	return false, fmt.Sprintf("exit code %d", exitCode), buf.String()
}

// Package worktree is the external collaborator the Worker Supervisor asks
// for "an isolated working copy at ref X for task T" (spec.md §1); how
// version control creates it is opaque to the core. This package supplies
// the default git-based implementation.
//
// Grounded on fluxforge/agent/executor.go's exec.Command("sh", "-c", …)
// subprocess style for the git invocations, and on
// control_plane/store/types.go's branch/worktree-path field shapes for
// what gets recorded back onto the task.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Provider requests and inspects per-task working copies.
type Provider interface {
	// Provide returns the worktree path and branch name for taskID,
	// creating them on first call and reusing them on subsequent calls
	// (idempotent given the same existingPath/existingBranch).
	Provide(ctx context.Context, taskID, ref, existingPath, existingBranch string) (path, branch string, err error)
	// ChangedFiles returns the set of repository-relative paths touched in
	// path: tracked-modified, indexed, and untracked-respecting-ignore.
	ChangedFiles(ctx context.Context, path string) ([]string, error)
}

// GitProvider is the default Provider, backed by `git worktree`.
type GitProvider struct {
	RepoRoot      string
	WorktreeRoot  string
	DefaultBranch string
}

// NewGitProvider builds a GitProvider rooted at repoRoot, creating
// worktrees under worktreeRoot.
func NewGitProvider(repoRoot, worktreeRoot, defaultBranch string) *GitProvider {
	if defaultBranch == "" {
		defaultBranch = "HEAD"
	}
	return &GitProvider{RepoRoot: repoRoot, WorktreeRoot: worktreeRoot, DefaultBranch: defaultBranch}
}

// Provide runs `git worktree add -b <branch> <path> <ref>` for the task.
// GitProvider keeps no record of it: when the caller passes back a
// non-empty existing path and branch, those are returned unchanged and
// git is not invoked.
func (g *GitProvider) Provide(ctx context.Context, taskID, ref, existingPath, existingBranch string) (string, string, error) {
	if existingPath != "" && existingBranch != "" {
		return existingPath, existingBranch, nil
	}

	if ref == "" {
		ref = g.DefaultBranch
	}
	lower := strings.ToLower(taskID)
	path := filepath.Join(g.WorktreeRoot, lower)
	branch := fmt.Sprintf("task/%s/%s", lower, uuid.NewString()[:8])

	if _, _, err := g.run(ctx, g.RepoRoot, "worktree", "add", "-b", branch, path, ref); err != nil {
		return "", "", fmt.Errorf("worktree: provision %s: %w", taskID, err)
	}
	return path, branch, nil
}

// ChangedFiles lists modified, indexed, and untracked (non-ignored) paths
// relative to path, via `git status --porcelain`.
func (g *GitProvider) ChangedFiles(ctx context.Context, path string) ([]string, error) {
	stdout, _, err := g.run(ctx, path, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("worktree: status %s: %w", path, err)
	}

	var files []string
	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) < 4 {
			continue
		}
		// Porcelain format: "XY path" or "XY orig -> new" for renames.
		rest := line[3:]
		if idx := strings.Index(rest, " -> "); idx >= 0 {
			rest = rest[idx+4:]
		}
		files = append(files, strings.TrimSpace(rest))
	}
	return files, nil
}

func (g *GitProvider) run(ctx context.Context, dir string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return out.String(), errBuf.String(), err
}

package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0o644))
	run("add", "README.md")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestGitProvider_ProvideAndChangedFiles(t *testing.T) {
	repo := initRepo(t)
	worktreeRoot := filepath.Join(repo, "..", "worktrees")
	p := NewGitProvider(repo, worktreeRoot, "")

	path, branch, err := p.Provide(context.Background(), "W101", "", "", "")
	require.NoError(t, err)
	require.DirExists(t, path)
	require.Contains(t, branch, "task/w101/")

	require.NoError(t, os.WriteFile(filepath.Join(path, "new.txt"), []byte("x"), 0o644))

	changed, err := p.ChangedFiles(context.Background(), path)
	require.NoError(t, err)
	require.Contains(t, changed, "new.txt")
}

func TestGitProvider_ProvideReusesExisting(t *testing.T) {
	p := NewGitProvider("/repo", "/worktrees", "")
	path, branch, err := p.Provide(context.Background(), "W101", "", "/existing/path", "existing-branch")
	require.NoError(t, err)
	require.Equal(t, "/existing/path", path)
	require.Equal(t, "existing-branch", branch)
}

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_ParsesManifestAndPackets(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "packets", "w101.md"), "---\nallowed_files:\n  - src/example.py\nvalidation_commands:\n  - echo ok\n---\nDo the thing.\n")
	manifestPath := filepath.Join(repo, "manifest.json")
	writeFile(t, manifestPath, `{"tasks":[{"id":"W101","packet":"packets/w101.md"}]}`)

	ts, err := Load(manifestPath, repo, false)
	require.NoError(t, err)
	spec, ok := ts.Get("W101")
	require.True(t, ok)
	require.Equal(t, []string{"src/example.py"}, spec.AllowedFiles)
	require.Equal(t, []string{"echo ok"}, spec.ValidationCommands)
}

func TestLoad_RejectsEmptyAllowedFilesWithoutFlag(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "packets", "w101.md"), "---\nallowed_files: []\nvalidation_commands: []\n---\nbody\n")
	manifestPath := filepath.Join(repo, "manifest.json")
	writeFile(t, manifestPath, `{"tasks":[{"id":"W101","packet":"packets/w101.md"}]}`)

	_, err := Load(manifestPath, repo, false)
	require.Error(t, err)

	_, err = Load(manifestPath, repo, true)
	require.NoError(t, err)
}

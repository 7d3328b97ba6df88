package promptgen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderCommand_SubstitutesPlaceholders(t *testing.T) {
	out, err := RenderCommand("run --task {task_id} --model {model_q} --log {log_file_q}", CommandFields{
		TaskID:  "W101",
		Model:   "gpt-5 turbo",
		LogFile: "/tmp/w101.log",
	})
	require.NoError(t, err)
	require.Equal(t, "run --task W101 --model 'gpt-5 turbo' --log '/tmp/w101.log'", out)
}

func TestRenderCommand_UnknownPlaceholderFails(t *testing.T) {
	_, err := RenderCommand("run {bogus}", CommandFields{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bogus")
}

func TestShellQuote_EscapesEmbeddedQuote(t *testing.T) {
	require.Equal(t, `'it'\''s'`, shellQuote("it's"))
	require.Equal(t, "''", shellQuote(""))
}

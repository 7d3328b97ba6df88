package validate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_EmptyTriviallySucceeds(t *testing.T) {
	res := Run(context.Background(), t.TempDir(), nil, time.Second)
	require.True(t, res.OK)
}

func TestRun_SucceedsInOrder(t *testing.T) {
	res := Run(context.Background(), t.TempDir(), []string{"echo ok", "true"}, time.Second)
	require.True(t, res.OK)
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	res := Run(context.Background(), t.TempDir(), []string{"exit 3", "echo never"}, time.Second)
	require.False(t, res.OK)
	require.Contains(t, res.Diagnostic, "validation command 1 failed")
	require.Contains(t, res.Diagnostic, "exit code 3")
}

func TestRun_Timeout(t *testing.T) {
	res := Run(context.Background(), t.TempDir(), []string{"sleep 5"}, 50*time.Millisecond)
	require.False(t, res.OK)
	require.Contains(t, res.Diagnostic, "timed out")
}

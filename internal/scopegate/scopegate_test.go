package scopegate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithin_EmptyAllowedIsUnconstrained(t *testing.T) {
	require.True(t, Within([]string{"src/anything.py"}, nil))
}

func TestWithin_ExactMatch(t *testing.T) {
	require.True(t, Within([]string{"src/a.py"}, []string{"src/a.py"}))
	require.False(t, Within([]string{"src/a.py", "src/evil.py"}, []string{"src/a.py"}))
}

func TestWithin_Glob(t *testing.T) {
	require.True(t, Within([]string{"src/pkg/thing.go"}, []string{"src/**/*.go"}))
	require.False(t, Within([]string{"src/pkg/thing.py"}, []string{"src/**/*.go"}))
}

func TestViolations_ListsOnlyDisallowed(t *testing.T) {
	got := Violations([]string{"src/a.py", "src/evil.py"}, []string{"src/a.py"})
	require.Equal(t, []string{"src/evil.py"}, got)
}

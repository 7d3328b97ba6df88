package classify

import (
	"testing"

	"github.com/packetsched/packetsched/internal/runtimestate"
	"github.com/stretchr/testify/require"
)

func TestClassify_QuotaPrecedence(t *testing.T) {
	// Quota precedence invariant: co-occurring compile/runtime markers must
	// not win.
	text := "failed to compile: thread 'main' panicked, also 429 too many requests"
	require.Equal(t, runtimestate.KindQuota, Classify(text))
}

func TestClassify_CaseInsensitive(t *testing.T) {
	require.Equal(t, runtimestate.KindQuota, Classify("QUOTA EXCEEDED for this key"))
}

func TestClassify_Table(t *testing.T) {
	cases := []struct {
		text string
		want runtimestate.FailureKind
	}{
		{"Compilation failed at line 10", runtimestate.KindCompile},
		{"thread 'main' panicked at 'oops'", runtimestate.KindRuntime},
		{"3 examples, 1 failures:", runtimestate.KindTest},
		{"connection timed out", runtimestate.KindInfra},
		{"something unexpected happened", runtimestate.KindUnknown},
	}
	for _, c := range cases {
		require.Equal(t, c.want, Classify(c.text), c.text)
	}
}

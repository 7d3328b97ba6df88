package taskmodel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTaskSet_RejectsUnknownDependency(t *testing.T) {
	_, err := NewTaskSet([]*TaskSpec{
		{TaskID: "A", DependsOn: []string{"ghost"}},
	})
	require.Error(t, err)
}

func TestNewTaskSet_RejectsCycle(t *testing.T) {
	_, err := NewTaskSet([]*TaskSpec{
		{TaskID: "A", DependsOn: []string{"B"}},
		{TaskID: "B", DependsOn: []string{"A"}},
	})
	require.Error(t, err)
}

func TestNewTaskSet_RejectsDuplicateID(t *testing.T) {
	_, err := NewTaskSet([]*TaskSpec{
		{TaskID: "A"},
		{TaskID: "A"},
	})
	require.Error(t, err)
}

func TestLadder_ClampAndIndexOf(t *testing.T) {
	ladder := Ladder{
		{Model: "m1", Reasoning: ReasoningLow},
		{Model: "m1", Reasoning: ReasoningHigh},
	}
	require.Equal(t, 1, ladder.IndexOf("m1", ReasoningHigh))
	require.Equal(t, -1, ladder.IndexOf("m1", ReasoningMedium))
	require.Equal(t, 1, ladder.Clamp(5))
	require.Equal(t, 0, ladder.Clamp(-1))
}

func TestNormalizeReasoning_Aliases(t *testing.T) {
	require.Equal(t, ReasoningXHigh, NormalizeReasoning("extrahigh"))
	require.Equal(t, ReasoningXHigh, NormalizeReasoning("extra-high"))
	require.Equal(t, ReasoningXHigh, NormalizeReasoning("extra_high"))
	require.Equal(t, Reasoning("medium"), NormalizeReasoning("medium"))
}

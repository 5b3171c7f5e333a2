package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	p := Default()
	tests := []struct {
		name string
		step Step
		want Decision
	}{
		{"no tool call", Step{Iteration: 1}, Decision{Stop: true, Reason: ReasonNoAction}},
		{"decision", Step{Tool: "decide_compliance", Succeeded: true, Iteration: 1}, Decision{Stop: true, Reason: ReasonDecided}},
		{"escalation", Step{Tool: "escalate_to_human", Succeeded: true, Iteration: 3}, Decision{Stop: true, Reason: ReasonEscalated}},
		{"failed decision continues", Step{Tool: "decide_compliance", Iteration: 2}, Continue},
		{"analysis continues", Step{Tool: "analyze_reply", Succeeded: true, Iteration: 1}, Continue},
		{"unknown tool continues", Step{Tool: "send_email", Iteration: 1}, Continue},
		{"cap", Step{Tool: "analyze_reply", Succeeded: true, Iteration: 5}, Decision{Stop: true, Reason: ReasonMaxIterations}},
		{"terminal beats cap", Step{Tool: "decide_compliance", Succeeded: true, Iteration: 5}, Decision{Stop: true, Reason: ReasonDecided}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(p, tt.step))
		})
	}
}

func TestEvaluateCustomTerminalSet(t *testing.T) {
	p := Policy{MaxIterations: 2, TerminalTools: map[string]Reason{"escalate_to_human": ReasonEscalated}}
	assert.Equal(t, Continue, Evaluate(p, Step{Tool: "decide_compliance", Succeeded: true, Iteration: 1}))
	assert.Equal(t, Decision{Stop: true, Reason: ReasonMaxIterations}, Evaluate(p, Step{Tool: "decide_compliance", Succeeded: true, Iteration: 2}))
}

func TestFirstToolCall(t *testing.T) {
	first, ignored, ok := FirstToolCall([]string{"a", "b", "c"})
	require.True(t, ok)
	assert.Equal(t, "a", first)
	assert.Equal(t, []string{"b", "c"}, ignored)

	_, ignored, ok = FirstToolCall([]string(nil))
	assert.False(t, ok)
	assert.Empty(t, ignored)

	firstInt, ignoredInt, ok := FirstToolCall([]int{7})
	assert.True(t, ok)
	assert.Equal(t, 7, firstInt)
	assert.Empty(t, ignoredInt)
}

func TestRequiresHumanReview(t *testing.T) {
	p := Default()
	assert.True(t, RequiresHumanReview(p, 0.69))
	assert.False(t, RequiresHumanReview(p, 0.7))
	assert.False(t, RequiresHumanReview(p, 0.95))
}

func TestPrecedence(t *testing.T) {
	assert.Equal(t, OutcomeEscalation, Precedence(Observed{Escalated: true, Decided: true, Clarification: true}))
	assert.Equal(t, OutcomeDecision, Precedence(Observed{Decided: true, Clarification: true}))
	assert.Equal(t, OutcomeClarification, Precedence(Observed{Clarification: true}))
	assert.Equal(t, OutcomeFallback, Precedence(Observed{}))
	assert.Equal(t, "escalation", OutcomeEscalation.String())
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	p := Default()
	p.MaxIterations = 0
	assert.Error(t, p.Validate())

	p = Default()
	p.ConfidenceThreshold = 1.5
	assert.Error(t, p.Validate())

	p = Default()
	p.TerminalTools["analyze_reply"] = ReasonNoAction
	assert.Error(t, p.Validate())
}

func TestLoad(t *testing.T) {
	data := []byte("max_iterations: 3\nconfidence_threshold: 0.8\n")
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Policy.MaxIterations)
	assert.Equal(t, 0.8, loaded.Policy.ConfidenceThreshold)
	assert.Equal(t, Default().TerminalTools, loaded.Policy.TerminalTools)
	assert.Equal(t, Digest(data), loaded.Hash)
	assert.Contains(t, loaded.Hash, "sha256:")
}

func TestParseTerminalTools(t *testing.T) {
	loaded, err := Parse([]byte("terminal_tools:\n  escalate_to_human: escalated\n"))
	require.NoError(t, err)
	assert.Len(t, loaded.Policy.TerminalTools, 1)
	assert.Equal(t, DefaultMaxIterations, loaded.Policy.MaxIterations)
}

func TestParseEmptyIsDefault(t *testing.T) {
	loaded, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), loaded.Policy)
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{
		"max_iterations: 0\n",
		"confidence_threshold: -1\n",
		"unknown_field: 1\n",
		"max_iterations: [\n",
	} {
		_, err := Parse([]byte(in))
		assert.Error(t, err, in)
	}
}

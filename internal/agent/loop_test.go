package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcheck/agentcheck/internal/audit"
	"github.com/agentcheck/agentcheck/internal/compliance"
	"github.com/agentcheck/agentcheck/internal/core"
	"github.com/agentcheck/agentcheck/internal/llm"
	"github.com/agentcheck/agentcheck/internal/policy"
	"github.com/agentcheck/agentcheck/internal/tools"
)

type callerFunc func(ctx context.Context, msgs []core.Message, defs []core.ToolDefinition) (string, []core.ToolCall, error)

func (f callerFunc) ChatCompletionWithTools(ctx context.Context, msgs []core.Message, defs []core.ToolDefinition) (string, []core.ToolCall, error) {
	return f(ctx, msgs, defs)
}

func call(name string, args map[string]any) llm.ScriptCall {
	return llm.ScriptCall{Name: name, Arguments: args}
}

func step(calls ...llm.ScriptCall) llm.ScriptStep {
	return llm.ScriptStep{ToolCalls: calls}
}

func decide(status string, conf float64) llm.ScriptCall {
	return call("decide_compliance", map[string]any{
		"status":           status,
		"confidence_score": conf,
		"explanation":      "the registrar answered",
		"evidence_summary": "reply text",
	})
}

func analyze() llm.ScriptCall {
	return call("analyze_reply", map[string]any{"focus_areas": []any{"sender_legitimacy"}})
}

func confirmSeed() core.Seed {
	return core.Seed{
		Certificate: core.Certificate{
			CandidateName: "Ada Lovelace",
			University:    "Example University",
			Degree:        "BSc Computer Science",
			CertificateID: "CS-2023-1234",
		},
		Authority: &core.Authority{Name: "Registrar", Email: "registrar@example.edu"},
		Reply: &core.Reply{
			SenderEmail: "registrar@example.edu",
			Subject:     "Re: verification",
			Body:        "We hereby confirm graduation, certificate CS-2023-1234.",
		},
	}
}

func mismatchSeed() core.Seed {
	s := confirmSeed()
	s.Reply.SenderEmail = "registrar@examp1e-verify.com"
	return s
}

func newController(t *testing.T, client core.ToolCaller) *Controller {
	t.Helper()
	reg, err := tools.NewCatalogue(nil)
	require.NoError(t, err)
	return &Controller{Registry: reg, Client: client, Policy: policy.Default()}
}

func steps(log []audit.Record) []string {
	out := make([]string, len(log))
	for i, r := range log {
		out[i] = r.Step
	}
	return out
}

func assertContiguous(t *testing.T, log []audit.Record) {
	t.Helper()
	for i, r := range log {
		assert.Equal(t, i+1, r.Seq, "record %d", i)
	}
}

func TestRun_ConfirmationDecidedInOneStep(t *testing.T) {
	client := llm.NewScriptedClient(step(decide("COMPLIANT", 0.95)))
	c := newController(t, client)

	v, log, err := c.Run(context.Background(), confirmSeed())
	require.NoError(t, err)

	assert.Equal(t, StatusCompliant, v.Status)
	assert.Equal(t, []string{"decide_compliance"}, v.Trace)
	require.NotNil(t, v.Confidence)
	assert.Equal(t, 0.95, *v.Confidence)
	assert.False(t, v.ReviewRequired)
	assert.Equal(t, StateTerminatedDecided, v.State)
	assert.Equal(t, policy.ReasonDecided, v.TerminationReason)
	assert.Equal(t, compliance.Verified, v.VerificationStatus)
	assert.True(t, strings.HasPrefix(v.Explanation, "COMPLIANT: "))
	assert.Equal(t, 1, v.Iterations)
	assert.Equal(t, 1, client.Calls())

	assert.Equal(t, []string{audit.StepIterationStart, audit.StepToolDispatch, audit.StepTermination}, steps(log))
	assertContiguous(t, log)
	assert.True(t, log[1].Success)
	assert.Equal(t, "COMPLIANT", log[1].Output["compliance_result"])
}

func TestRun_SeedConversation(t *testing.T) {
	client := llm.NewScriptedClient(step(decide("COMPLIANT", 0.95)))
	s, err := newController(t, client).NewSession(confirmSeed())
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	sent := client.Received()[0]
	require.Len(t, sent, 2)
	assert.Equal(t, core.RoleSystem, sent[0].Role)
	assert.Contains(t, sent[0].Content, "decide_compliance")
	assert.Equal(t, core.RoleUser, sent[1].Role)
	assert.Contains(t, sent[1].Content, "CS-2023-1234")
	assert.Contains(t, sent[1].Content, "We hereby confirm graduation")

	conv := s.Conversation()
	require.Len(t, conv, 4)
	assert.Equal(t, core.RoleAssistant, conv[2].Role)
	require.Len(t, conv[2].ToolCalls, 1)
	assert.Equal(t, core.RoleTool, conv[3].Role)
	assert.Equal(t, conv[2].ToolCalls[0].ID, conv[3].ToolCallID)
}

func TestRun_DomainMismatchEscalated(t *testing.T) {
	client := llm.NewScriptedClient(
		step(analyze()),
		step(call("escalate_to_human", map[string]any{
			"reason":          "sender domain does not match the university",
			"priority":        "HIGH",
			"risk_indicators": []any{"domain_mismatch"},
		})),
	)
	s, err := newController(t, client).NewSession(mismatchSeed())
	require.NoError(t, err)
	v, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusEscalated, v.Status)
	assert.Nil(t, v.Confidence)
	assert.Empty(t, v.VerificationStatus)
	assert.Equal(t, []string{"analyze_reply", "escalate_to_human"}, v.Trace)
	assert.Equal(t, StateTerminatedEscalated, v.State)
	require.NotNil(t, v.Escalation)
	assert.Equal(t, "HIGH", v.Escalation.Priority)
	assert.Equal(t, []string{"domain_mismatch"}, v.Escalation.RiskIndicators)
	assert.True(t, v.ReviewRequired)

	// the analysis observation told the model about the mismatch
	conv := s.Conversation()
	assert.Contains(t, conv[3].Content, `"domain_match":false`)

	log := s.SessionLog()
	assert.Len(t, log, 2+2+1)
	assertContiguous(t, log)
}

func TestRun_NoToolCall(t *testing.T) {
	client := llm.NewScriptedClient(llm.ScriptStep{Content: "I am not sure what to do."})
	v, log, err := newController(t, client).Run(context.Background(), confirmSeed())
	require.NoError(t, err)

	assert.Equal(t, StatusInconclusive, v.Status)
	assert.Equal(t, []string{}, v.Trace)
	assert.Equal(t, StateTerminatedNoAction, v.State)
	require.NotNil(t, v.Confidence)
	assert.Equal(t, 0.0, *v.Confidence)
	assert.Contains(t, v.Explanation, "declined to act")
	assert.Contains(t, v.Explanation, "not sure")
	assert.True(t, v.ReviewRequired)
	assert.Equal(t, []string{audit.StepIterationStart, audit.StepTermination}, steps(log))
}

func TestRun_UnknownToolSurvives(t *testing.T) {
	client := llm.NewScriptedClient(
		step(call("send_email", map[string]any{"to": "x"})),
		step(decide("NOT_COMPLIANT", 0.9)),
	)
	s, err := newController(t, client).NewSession(confirmSeed())
	require.NoError(t, err)
	v, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusNotCompliant, v.Status)
	assert.Equal(t, compliance.NotVerified, v.VerificationStatus)
	assert.Equal(t, 2, v.Iterations)
	assert.Equal(t, []string{"send_email", "decide_compliance"}, v.Trace)

	conv := s.Conversation()
	assert.Equal(t, core.RoleTool, conv[3].Role)
	assert.Contains(t, conv[3].Content, "unknown tool")

	log := s.SessionLog()
	assert.False(t, log[1].Success)
	assert.Contains(t, log[1].Error, "send_email")
	// the second model call saw the failure observation
	assert.Len(t, client.Received()[1], 4)
}

func TestRun_IterationCap(t *testing.T) {
	var script []llm.ScriptStep
	for i := 0; i < 10; i++ {
		script = append(script, step(analyze()))
	}
	client := llm.NewScriptedClient(script...)
	v, log, err := newController(t, client).Run(context.Background(), confirmSeed())
	require.NoError(t, err)

	assert.Equal(t, StatusInconclusive, v.Status)
	assert.Equal(t, StateTerminatedMaxIterations, v.State)
	assert.Len(t, v.Trace, policy.DefaultMaxIterations)
	assert.Equal(t, policy.DefaultMaxIterations, client.Calls())
	assert.Contains(t, v.Explanation, "iteration cap of 5")
	assert.Len(t, log, 5+5+1)
	assertContiguous(t, log)
}

func TestRun_CustomCap(t *testing.T) {
	client := llm.NewScriptedClient(step(analyze()), step(analyze()), step(analyze()))
	c := newController(t, client)
	c.Policy.MaxIterations = 2
	v, _, err := c.Run(context.Background(), confirmSeed())
	require.NoError(t, err)
	assert.Equal(t, StateTerminatedMaxIterations, v.State)
	assert.Len(t, v.Trace, 2)
}

func TestRun_FirstToolCallWins(t *testing.T) {
	client := llm.NewScriptedClient(llm.ScriptStep{
		Content: "Looks COMPLIANT but the sender is odd.",
		ToolCalls: []llm.ScriptCall{
			call("escalate_to_human", map[string]any{"reason": "odd sender", "priority": "MEDIUM"}),
			decide("COMPLIANT", 0.99),
		},
	})
	v, log, err := newController(t, client).Run(context.Background(), confirmSeed())
	require.NoError(t, err)

	assert.Equal(t, StatusEscalated, v.Status)
	assert.Nil(t, v.Confidence)
	assert.Equal(t, []string{"escalate_to_human"}, v.Trace)
	assert.Equal(t, []string{
		audit.StepIterationStart,
		audit.StepToolCallIgnored,
		audit.StepToolDispatch,
		audit.StepTermination,
	}, steps(log))
	assert.Equal(t, "decide_compliance", log[1].Tool)
	assert.False(t, log[1].Success)
}

func TestRun_EscalationOverridesEarlierDecisionIntent(t *testing.T) {
	client := llm.NewScriptedClient(
		// decision attempt with an out-of-range score fails validation
		step(decide("COMPLIANT", 1.5)),
		step(call("escalate_to_human", map[string]any{"reason": "unsure", "priority": "LOW"})),
	)
	v, _, err := newController(t, client).Run(context.Background(), confirmSeed())
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, v.Status)
	assert.Nil(t, v.Confidence)
	assert.Empty(t, v.EvidenceSummary)
}

func TestRun_LowConfidenceKeepsStatus(t *testing.T) {
	client := llm.NewScriptedClient(step(decide("COMPLIANT", 0.6)))
	v, _, err := newController(t, client).Run(context.Background(), confirmSeed())
	require.NoError(t, err)
	assert.Equal(t, StatusCompliant, v.Status)
	assert.True(t, v.ReviewRequired)
	assert.Equal(t, 0.6, *v.Confidence)
}

func TestRun_InvalidDecisionRetried(t *testing.T) {
	client := llm.NewScriptedClient(
		step(call("decide_compliance", map[string]any{"status": "COMPLIANT", "explanation": "x"})),
		step(decide("COMPLIANT", 0.8)),
	)
	s, err := newController(t, client).NewSession(confirmSeed())
	require.NoError(t, err)
	v, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusCompliant, v.Status)
	assert.Equal(t, []string{"decide_compliance", "decide_compliance"}, v.Trace)
	log := s.SessionLog()
	assert.False(t, log[1].Success)
	assert.Contains(t, log[1].Error, `field "confidence_score" is required`)
	assert.Contains(t, s.Conversation()[3].Content, `"error"`)
}

func TestRun_HandlerFailureIsObservation(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.AnalyzeReplyDef, func(ctx context.Context, args tools.Args) (tools.Result, error) {
		panic("analysis backend exploded")
	}))
	require.NoError(t, reg.Register(tools.DecideComplianceDef, func(ctx context.Context, args tools.Args) (tools.Result, error) {
		return tools.Result{"ok": true}, nil
	}))
	reg.Freeze()

	client := llm.NewScriptedClient(step(analyze()), step(decide("INCONCLUSIVE", 0.5)))
	c := &Controller{Registry: reg, Client: client, Policy: policy.Default()}
	s, err := c.NewSession(confirmSeed())
	require.NoError(t, err)
	v, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusInconclusive, v.Status)
	assert.Equal(t, StateTerminatedDecided, v.State)
	log := s.SessionLog()
	assert.False(t, log[1].Success)
	assert.Contains(t, log[1].Error, "analysis backend exploded")
	assert.Contains(t, s.Conversation()[3].Content, "analysis backend exploded")
}

func TestRun_ModelFailure(t *testing.T) {
	client := llm.NewScriptedClient(step(analyze()), llm.ScriptStep{Error: "connection reset by peer"})
	s, err := newController(t, client).NewSession(confirmSeed())
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelFailure))
	assert.Contains(t, err.Error(), "connection reset by peer")

	log := s.SessionLog()
	assert.Equal(t, []string{
		audit.StepIterationStart,
		audit.StepToolDispatch,
		audit.StepIterationStart,
		audit.StepModelFailure,
	}, steps(log))
	assertContiguous(t, log)
	_, ok := s.Verdict()
	assert.False(t, ok)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	client := llm.NewScriptedClient(step(decide("COMPLIANT", 0.9)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, log, err := newController(t, client).Run(ctx, confirmSeed())
	require.NoError(t, err)

	assert.Equal(t, StatusInconclusive, v.Status)
	assert.Equal(t, StateTerminatedCancelled, v.State)
	assert.Equal(t, policy.ReasonCancelled, v.TerminationReason)
	assert.Equal(t, 0, client.Calls())
	assert.Equal(t, []string{audit.StepTermination}, steps(log))
}

func TestRun_CancelDoesNotAbortDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handlerCtxErr error
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.AnalyzeReplyDef, func(hctx context.Context, args tools.Args) (tools.Result, error) {
		handlerCtxErr = hctx.Err()
		return tools.Result{"verification_status": "VERIFIED"}, nil
	}))
	reg.Freeze()

	calls := 0
	client := callerFunc(func(_ context.Context, _ []core.Message, _ []core.ToolDefinition) (string, []core.ToolCall, error) {
		calls++
		cancel() // caller times out while the model is answering
		return "", []core.ToolCall{{ID: "c1", Function: core.FunctionCall{Name: "analyze_reply", Arguments: "{}"}}}, nil
	})
	c := &Controller{Registry: reg, Client: client, Policy: policy.Default()}
	v, log, err := c.Run(ctx, confirmSeed())
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.NoError(t, handlerCtxErr)
	assert.Equal(t, StateTerminatedCancelled, v.State)
	assert.Equal(t, []string{"analyze_reply"}, v.Trace)
	assert.Equal(t, []string{audit.StepIterationStart, audit.StepToolDispatch, audit.StepTermination}, steps(log))
	assert.True(t, log[1].Success)
}

func TestRun_NoContact(t *testing.T) {
	client := llm.NewScriptedClient(step(decide("COMPLIANT", 0.9)))
	seed := confirmSeed()
	seed.Authority = nil
	seed.Reply = nil
	v, log, err := newController(t, client).Run(context.Background(), seed)
	require.NoError(t, err)

	assert.Equal(t, StatusInconclusive, v.Status)
	assert.Equal(t, StateTerminatedNoContact, v.State)
	assert.Contains(t, v.Explanation, "manual verification")
	assert.Equal(t, []string{}, v.Trace)
	assert.Equal(t, 0, client.Calls())
	assert.Len(t, log, 1)
}

func TestRun_UnresolvedClarification(t *testing.T) {
	client := llm.NewScriptedClient(
		step(call("request_clarification", map[string]any{
			"reason":              "reply does not mention the degree",
			"missing_information": []any{"degree"},
		})),
		llm.ScriptStep{Content: "Waiting for the registrar."},
	)
	v, _, err := newController(t, client).Run(context.Background(), confirmSeed())
	require.NoError(t, err)

	assert.Equal(t, StatusInconclusive, v.Status)
	assert.Equal(t, StateTerminatedNoAction, v.State)
	assert.True(t, strings.HasPrefix(v.Explanation, "CLARIFICATION NEEDED: reply does not mention the degree"))
	require.NotNil(t, v.Clarification)
	assert.Equal(t, []string{"degree"}, v.Clarification.MissingInformation)
}

func TestRun_ClarificationResolvedByDecision(t *testing.T) {
	client := llm.NewScriptedClient(
		step(call("request_clarification", map[string]any{"reason": "ambiguous"})),
		step(decide("COMPLIANT", 0.85)),
	)
	v, _, err := newController(t, client).Run(context.Background(), confirmSeed())
	require.NoError(t, err)
	assert.Equal(t, StatusCompliant, v.Status)
	assert.Nil(t, v.Clarification)
}

func TestRun_AuditRedactsArguments(t *testing.T) {
	client := llm.NewScriptedClient(step(call("decide_compliance", map[string]any{
		"status":           "COMPLIANT",
		"confidence_score": 0.9,
		"explanation":      "ok",
		"api_key":          "sk-live-123",
	})))
	_, log, err := newController(t, client).Run(context.Background(), confirmSeed())
	require.NoError(t, err)
	assert.Equal(t, audit.Redacted, log[1].Input["api_key"])
	assert.Equal(t, "COMPLIANT", log[1].Input["status"])
}

func TestRun_ObservationTruncated(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.AnalyzeReplyDef, func(ctx context.Context, args tools.Args) (tools.Result, error) {
		return tools.Result{"explanation": strings.Repeat("x", 5000)}, nil
	}))
	reg.Freeze()
	client := llm.NewScriptedClient(step(analyze()))
	c := &Controller{Registry: reg, Client: client, Policy: policy.Default(), ToolOutputMaxRunes: 200}
	s, err := c.NewSession(confirmSeed())
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	obs := s.Conversation()[3].Content
	assert.Contains(t, obs, "observation truncated")
	assert.Less(t, len([]rune(obs)), 300)
}

func TestRun_Twice(t *testing.T) {
	s, err := newController(t, llm.NewScriptedClient(step(decide("COMPLIANT", 0.9)))).NewSession(confirmSeed())
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrSessionFinished)
}

func TestRun_PolicyHashRecorded(t *testing.T) {
	c := newController(t, llm.NewScriptedClient(step(decide("COMPLIANT", 0.9))))
	c.PolicyHash = policy.Digest([]byte("max_iterations: 5\n"))
	_, log, err := c.Run(context.Background(), confirmSeed())
	require.NoError(t, err)
	last := log[len(log)-1]
	assert.Equal(t, audit.StepTermination, last.Step)
	assert.Equal(t, c.PolicyHash, last.Output["policy_hash"])
}

func TestRun_ConcurrentSessionsIsolated(t *testing.T) {
	// stateless model: analyze first, decide once an observation is present
	client := callerFunc(func(_ context.Context, msgs []core.Message, _ []core.ToolDefinition) (string, []core.ToolCall, error) {
		if len(msgs) == 2 {
			return "", []core.ToolCall{{ID: "a", Function: core.FunctionCall{Name: "analyze_reply", Arguments: "{}"}}}, nil
		}
		return "", []core.ToolCall{{ID: "d", Function: core.FunctionCall{
			Name:      "decide_compliance",
			Arguments: `{"status":"COMPLIANT","confidence_score":0.9,"explanation":"confirmed"}`,
		}}}, nil
	})
	c := newController(t, client)

	const n = 16
	var wg sync.WaitGroup
	verdicts := make([]Verdict, n)
	logs := make([][]audit.Record, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seed := confirmSeed()
			seed.Certificate.CertificateID = fmt.Sprintf("CS-%d", i)
			verdicts[i], logs[i], errs[i] = c.Run(context.Background(), seed)
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, StatusCompliant, verdicts[i].Status)
		assert.Equal(t, []string{"analyze_reply", "decide_compliance"}, verdicts[i].Trace)
		assert.Len(t, logs[i], 5)
		assertContiguous(t, logs[i])
		ids[verdicts[i].SessionID] = true
	}
	assert.Len(t, ids, n)
}

func TestRun_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newController(t, llm.NewScriptedClient(step(analyze()), step(decide("COMPLIANT", 0.5))))
	c.Metrics = NewMetrics(reg)
	_, _, err := c.Run(context.Background(), confirmSeed())
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	counters := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "," + l.GetValue()
			}
			counters[key] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, counters["agentcheck_sessions_total,TERMINATED_DECIDED"])
	assert.Equal(t, 1.0, counters["agentcheck_tool_dispatches_total,ok,analyze_reply"])
	assert.Equal(t, 1.0, counters["agentcheck_review_required_total"])
}

func TestNewSessionRequiresCollaborators(t *testing.T) {
	_, err := (&Controller{Policy: policy.Default()}).NewSession(confirmSeed())
	assert.Error(t, err)

	reg, _ := tools.NewCatalogue(nil)
	_, err = (&Controller{Registry: reg, Policy: policy.Default()}).NewSession(confirmSeed())
	assert.Error(t, err)

	_, err = (&Controller{Registry: reg, Client: llm.NewScriptedClient(), Policy: policy.Policy{}}).NewSession(confirmSeed())
	assert.Error(t, err)
}

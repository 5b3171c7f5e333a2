package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentcheck/agentcheck/internal/audit"
	"github.com/agentcheck/agentcheck/internal/compliance"
	"github.com/agentcheck/agentcheck/internal/core"
	"github.com/agentcheck/agentcheck/internal/policy"
	"github.com/agentcheck/agentcheck/internal/store"
	"github.com/agentcheck/agentcheck/internal/tools"
)

// ErrModelFailure wraps errors from the model capability. The controller does
// not retry them; audit records written before the failure are kept.
var ErrModelFailure = errors.New("model call failed")

// ErrSessionFinished is returned by Run on a session that already ran.
var ErrSessionFinished = errors.New("session already ran")

const ignoredCallReason = "only the first tool call of a response is executed"

// Controller holds the configuration shared by all sessions. It is read-only
// once sessions start; every session owns its own conversation and audit sink.
type Controller struct {
	Registry *tools.Registry
	Client   core.ToolCaller
	Policy   policy.Policy
	// PolicyHash is written into each termination record.
	PolicyHash string
	Prompts    PromptRenderer
	Metrics    *Metrics
	LogStore   *store.LogStore
	Mirror     audit.Mirror
	// ToolOutputMaxRunes caps each observation fed back to the model; 0 = unlimited.
	ToolOutputMaxRunes int
	Now                func() time.Time
}

// Session is one verification run. It is driven by a single goroutine.
type Session struct {
	id      string
	c       *Controller
	seed    core.Seed
	conv    *Conversation
	sink    *audit.Sink
	trace   []string
	state   State
	iter    int
	verdict *Verdict
	ran     bool

	clarification *tools.ClarificationArgs
}

// NewSession seeds a session with the system framing and the case context.
func (c *Controller) NewSession(seed core.Seed) (*Session, error) {
	if c.Registry == nil {
		return nil, fmt.Errorf("controller has no tool registry")
	}
	if c.Client == nil {
		return nil, fmt.Errorf("controller has no model client")
	}
	if err := c.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	prompts := c.Prompts
	if prompts == nil {
		r, err := NewTemplateRenderer("")
		if err != nil {
			return nil, err
		}
		prompts = r
	}
	vars := PromptVars{
		Certificate:         seed.Certificate,
		Authority:           seed.Authority,
		Correspondence:      seed.Correspondence,
		Reply:               seed.Reply,
		Tools:               c.Registry.Names(),
		MaxIterations:       c.Policy.MaxIterations,
		ConfidenceThreshold: c.Policy.ConfidenceThreshold,
	}
	system, err := prompts.Render(PromptSystem, vars)
	if err != nil {
		return nil, err
	}
	caseCtx, err := prompts.Render(PromptCase, vars)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return &Session{
		id:   id,
		c:    c,
		seed: seed,
		conv: NewConversation(
			core.Message{Role: core.RoleSystem, Content: system},
			core.Message{Role: core.RoleUser, Content: caseCtx},
		),
		sink:  audit.NewSink(id, audit.Options{Mirror: c.Mirror, Now: c.Now}),
		state: StateRunning,
	}, nil
}

// Run creates a session for seed and runs it.
func (c *Controller) Run(ctx context.Context, seed core.Seed) (Verdict, []audit.Record, error) {
	s, err := c.NewSession(seed)
	if err != nil {
		return Verdict{}, nil, err
	}
	v, err := s.Run(ctx)
	return v, s.SessionLog(), err
}

// ID is the session identifier used in audit records.
func (s *Session) ID() string { return s.id }

// State is the current lifecycle state.
func (s *Session) State() State { return s.state }

// Verdict returns the verdict once the session has terminated.
func (s *Session) Verdict() (Verdict, bool) {
	if s.verdict == nil {
		return Verdict{}, false
	}
	return *s.verdict, true
}

// SessionLog returns a copy of the audit records written so far.
func (s *Session) SessionLog() []audit.Record { return s.sink.SessionLog() }

// Conversation returns a copy of the message history.
func (s *Session) Conversation() []core.Message { return s.conv.Messages() }

// Run drives the loop to a terminal state and returns the verdict. Modeled
// stops (cap, no action, cancellation) return a verdict and a nil error; only
// a model failure returns an error, wrapping ErrModelFailure.
func (s *Session) Run(ctx context.Context) (Verdict, error) {
	if s.ran {
		return Verdict{}, ErrSessionFinished
	}
	s.ran = true
	s.logf("started for certificate %q", s.seed.Certificate.CertificateID)

	if s.seed.Reply == nil {
		return s.finish(policy.ReasonNoContact, nil, ""), nil
	}

	ctx = tools.WithSeed(ctx, s.seed)
	defs := s.c.Registry.ToolDefinitions()
	p := s.c.Policy

	for iter := 1; ; iter++ {
		if err := ctx.Err(); err != nil {
			return s.finish(policy.ReasonCancelled, nil, err.Error()), nil
		}
		s.iter = iter
		s.sink.Record(audit.Entry{
			Step:    audit.StepIterationStart,
			Actor:   audit.ActorController,
			Input:   map[string]any{"iteration": iter, "messages": s.conv.Len()},
			Success: true,
		})

		start := time.Now()
		content, calls, err := s.c.Client.ChatCompletionWithTools(ctx, s.conv.Messages(), defs)
		s.c.Metrics.observeModel(time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				return s.finish(policy.ReasonCancelled, nil, ctx.Err().Error()), nil
			}
			return Verdict{}, s.modelFailure(err)
		}

		first, ignored, ok := policy.FirstToolCall(calls)
		if !ok {
			s.conv.Append(core.Message{Role: core.RoleAssistant, Content: content})
			d := policy.Evaluate(p, policy.Step{Iteration: iter})
			return s.finish(d.Reason, nil, content), nil
		}
		if first.ID == "" {
			first.ID = fmt.Sprintf("call_%d", iter)
		}
		s.conv.Append(core.Message{Role: core.RoleAssistant, Content: content, ToolCalls: []core.ToolCall{first}})
		for _, tc := range ignored {
			s.sink.Record(audit.Entry{
				Step:  audit.StepToolCallIgnored,
				Actor: audit.ActorModel,
				Tool:  tc.Function.Name,
				Input: argumentsForAudit(tc.Function.Arguments),
				Error: ignoredCallReason,
			})
			log.Printf("[DECISION] session %s: ignoring extra tool call %s", s.id, tc.Function.Name)
		}

		inv, ok := s.dispatch(ctx, first)
		d := policy.Evaluate(p, policy.Step{Tool: first.Function.Name, Succeeded: ok, Iteration: iter})
		if d.Stop {
			return s.finish(d.Reason, inv, ""), nil
		}
	}
}

// dispatch validates and executes one tool call, appends the observation and
// the audit record, and reports whether the call succeeded. Handlers run
// detached from ctx's cancellation so a started dispatch always completes.
func (s *Session) dispatch(ctx context.Context, tc core.ToolCall) (tools.Invocation, bool) {
	name := tc.Function.Name
	s.trace = append(s.trace, name)

	var inv tools.Invocation
	var res tools.Result
	call, err := s.c.Registry.Prepare(name, tc.Function.Arguments)
	if err == nil {
		inv, err = tools.Decode(call)
	}
	if err == nil {
		res, err = s.c.Registry.Execute(context.WithoutCancel(ctx), call)
	}

	var observation string
	entry := audit.Entry{
		Step:  audit.StepToolDispatch,
		Actor: audit.ActorTool,
		Tool:  name,
		Input: argumentsForAudit(tc.Function.Arguments),
	}
	if err != nil {
		observation = tools.ErrJSON(err)
		entry.Error = err.Error()
		log.Printf("[DECISION] session %s: %s failed: %v", s.id, name, err)
	} else {
		b, mErr := json.Marshal(res)
		if mErr != nil {
			b = []byte(tools.ErrJSON(mErr))
		}
		observation = string(b)
		entry.Output = res
		entry.Success = true
	}
	s.conv.Append(core.Message{
		Role:       core.RoleTool,
		Content:    tools.TruncateToolOutput(observation, s.c.ToolOutputMaxRunes),
		ToolCallID: tc.ID,
	})
	s.sink.Record(entry)
	s.c.Metrics.observeDispatch(metricToolLabel(s.c.Registry, name), dispatchResult(err))

	if err != nil {
		return nil, false
	}
	if c, ok := inv.(tools.ClarificationArgs); ok {
		s.clarification = &c
	}
	return inv, true
}

func (s *Session) modelFailure(err error) error {
	s.sink.Record(audit.Entry{
		Step:  audit.StepModelFailure,
		Actor: audit.ActorModel,
		Input: map[string]any{"iteration": s.iter},
		Error: err.Error(),
	})
	s.c.Metrics.observeModelFailure()
	s.logf("model failure at iteration %d: %v", s.iter, err)
	if s.c.LogStore != nil {
		_ = s.c.LogStore.LogError("decision", fmt.Sprintf("session %s model failure: %v", s.id, err))
	}
	return fmt.Errorf("session %s: %w: %w", s.id, ErrModelFailure, err)
}

// finish builds the verdict for reason, writes the termination record and
// moves the session to its final state. last is the invocation of the final
// step when it succeeded; detail carries the model's text or the cancel cause.
func (s *Session) finish(reason policy.Reason, last tools.Invocation, detail string) Verdict {
	s.state = stateFor(reason)
	v := s.buildVerdict(reason, last, detail)
	s.verdict = &v

	out := map[string]any{
		"state":           string(v.State),
		"reason":          string(reason),
		"status":          string(v.Status),
		"iterations":      v.Iterations,
		"trace":           append([]string(nil), v.Trace...),
		"review_required": v.ReviewRequired,
	}
	if v.Confidence != nil {
		out["confidence"] = *v.Confidence
	}
	if s.c.PolicyHash != "" {
		out["policy_hash"] = s.c.PolicyHash
	}
	s.sink.Record(audit.Entry{
		Step:    audit.StepTermination,
		Actor:   audit.ActorController,
		Output:  out,
		Success: true,
	})
	s.c.Metrics.observeVerdict(v)
	s.logf("finished state=%s status=%s iterations=%d trace=%v", v.State, v.Status, v.Iterations, v.Trace)
	if s.c.LogStore != nil {
		_ = s.c.LogStore.LogInfo("decision", fmt.Sprintf("session %s finished state=%s status=%s", s.id, v.State, v.Status))
	}
	return v
}

func (s *Session) buildVerdict(reason policy.Reason, last tools.Invocation, detail string) Verdict {
	p := s.c.Policy
	v := Verdict{
		SessionID:         s.id,
		Trace:             append([]string{}, s.trace...),
		State:             s.state,
		TerminationReason: reason,
		Iterations:        s.iter,
	}

	terminal := reason == policy.ReasonDecided || reason == policy.ReasonEscalated
	esc, isEsc := last.(tools.EscalationArgs)
	dec, isDec := last.(tools.DecisionArgs)
	switch policy.Precedence(policy.Observed{
		Escalated:     terminal && isEsc,
		Decided:       terminal && isDec,
		Clarification: s.clarification != nil,
	}) {
	case policy.OutcomeEscalation:
		v.Status = StatusEscalated
		v.Explanation = fmt.Sprintf("ESCALATED (%s priority): %s", esc.Priority, esc.Reason)
		v.Escalation = &Escalation{Reason: esc.Reason, Priority: string(esc.Priority), RiskIndicators: esc.RiskIndicators}
		v.ReviewRequired = true
		return v

	case policy.OutcomeDecision:
		f := compliance.Map(compliance.Decision{
			Status:      dec.Status,
			Confidence:  dec.ConfidenceScore,
			Explanation: dec.Explanation,
			Evidence:    dec.EvidenceSummary,
		})
		v.Status = Status(f.Result)
		v.Confidence = confidence(f.Confidence)
		v.Explanation = f.Explanation
		v.EvidenceSummary = f.EvidenceSummary
		v.VerificationStatus = f.VerificationStatus
		v.ReviewRequired = policy.RequiresHumanReview(p, f.Confidence)
		return v

	case policy.OutcomeClarification:
		c := s.clarification
		v.Clarification = &Clarification{
			Reason:             c.Reason,
			MissingInformation: c.MissingInformation,
			SuggestedFollowUp:  c.SuggestedFollowUp,
		}
	}

	v.Status = StatusInconclusive
	v.Confidence = confidence(0)
	v.VerificationStatus = compliance.VerificationUnclear
	v.ReviewRequired = policy.RequiresHumanReview(p, 0)
	v.Explanation = s.fallbackExplanation(reason, detail)
	if v.Clarification != nil && reason != policy.ReasonCancelled {
		v.Explanation = "CLARIFICATION NEEDED: " + v.Clarification.Reason + ". " + v.Explanation
	}
	return v
}

func (s *Session) fallbackExplanation(reason policy.Reason, detail string) string {
	switch reason {
	case policy.ReasonNoContact:
		return "INCONCLUSIVE: the issuing authority could not be identified or has not replied; manual verification is required"
	case policy.ReasonNoAction:
		msg := "INCONCLUSIVE: the model declined to act and returned no tool call"
		if d := strings.TrimSpace(detail); d != "" {
			msg += fmt.Sprintf("; it said: %q", tools.TruncateToolOutput(d, 300))
		}
		return msg
	case policy.ReasonMaxIterations:
		return fmt.Sprintf("INCONCLUSIVE: iteration cap of %d reached without a decision; tools called: %s",
			s.c.Policy.MaxIterations, strings.Join(s.trace, ", "))
	case policy.ReasonCancelled:
		msg := "INCONCLUSIVE: session cancelled before a decision"
		if detail != "" {
			msg += " (" + detail + ")"
		}
		return msg
	}
	// A terminal tool outside the decision catalogue ended the loop.
	return fmt.Sprintf("INCONCLUSIVE: session ended (%s) without a compliance decision", reason)
}

func (s *Session) logf(format string, args ...any) {
	log.Printf("[DECISION] session %s: "+format, append([]any{s.id}, args...)...)
}

// argumentsForAudit keeps the model's arguments as a map when they parse,
// so redaction can see the keys.
func argumentsForAudit(raw string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err == nil && m != nil {
		return m
	}
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return map[string]any{"raw_arguments": raw}
}

func dispatchResult(err error) string {
	var unknown *tools.UnknownToolError
	var invalid *tools.InvalidArgumentsError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &unknown):
		return "unknown_tool"
	case errors.As(err, &invalid):
		return "invalid_arguments"
	}
	return "handler_error"
}

// metricToolLabel bounds label cardinality: names the model invents share one label.
func metricToolLabel(r *tools.Registry, name string) string {
	if _, ok := r.Definition(name); ok {
		return name
	}
	return "unknown"
}

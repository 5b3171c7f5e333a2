package policy

// FirstToolCall keeps the first call of a model response and returns the rest
// as ignored. ok is false when calls is empty.
func FirstToolCall[T any](calls []T) (first T, ignored []T, ok bool) {
	if len(calls) == 0 {
		return first, nil, false
	}
	return calls[0], calls[1:], true
}

// RequiresHumanReview reports whether a decision's confidence is under the
// threshold. It never changes the decision's status.
func RequiresHumanReview(p Policy, confidence float64) bool {
	return confidence < p.ConfidenceThreshold
}

// Outcome is the kind of verdict a finished session produces.
type Outcome int

const (
	OutcomeFallback Outcome = iota
	OutcomeClarification
	OutcomeDecision
	OutcomeEscalation
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEscalation:
		return "escalation"
	case OutcomeDecision:
		return "decision"
	case OutcomeClarification:
		return "clarification"
	}
	return "fallback"
}

// Observed lists what a session saw succeed.
type Observed struct {
	Escalated     bool
	Decided       bool
	Clarification bool
}

// Precedence picks the outcome: escalation over decision over an unresolved
// clarification over the fallback. An escalation is never overridden.
func Precedence(o Observed) Outcome {
	switch {
	case o.Escalated:
		return OutcomeEscalation
	case o.Decided:
		return OutcomeDecision
	case o.Clarification:
		return OutcomeClarification
	}
	return OutcomeFallback
}

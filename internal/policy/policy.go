// Package policy holds the termination and escalation rules of the decision
// loop. Everything here is a pure function of its arguments.
package policy

import (
	"fmt"
)

// Reason explains why a session stopped.
type Reason string

const (
	ReasonDecided       Reason = "decided"
	ReasonEscalated     Reason = "escalated"
	ReasonMaxIterations Reason = "max_iterations"
	ReasonNoAction      Reason = "no_action"
	ReasonCancelled     Reason = "cancelled"
	ReasonNoContact     Reason = "no_contact"
)

const (
	DefaultMaxIterations       = 5
	DefaultConfidenceThreshold = 0.7
)

// Policy is the configured rule set. TerminalTools maps a tool name to the
// reason its successful invocation ends the loop.
type Policy struct {
	MaxIterations       int               `yaml:"max_iterations"`
	ConfidenceThreshold float64           `yaml:"confidence_threshold"`
	TerminalTools       map[string]Reason `yaml:"terminal_tools"`
}

// Default returns the stock policy: decide_compliance and escalate_to_human
// are terminal, five iterations, 0.7 review threshold.
func Default() Policy {
	return Policy{
		MaxIterations:       DefaultMaxIterations,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		TerminalTools: map[string]Reason{
			"decide_compliance": ReasonDecided,
			"escalate_to_human": ReasonEscalated,
		},
	}
}

// Validate rejects policies the controller cannot run.
func (p Policy) Validate() error {
	if p.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", p.MaxIterations)
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within [0, 1], got %g", p.ConfidenceThreshold)
	}
	for name, reason := range p.TerminalTools {
		if reason != ReasonDecided && reason != ReasonEscalated {
			return fmt.Errorf("terminal tool %s: reason must be %q or %q, got %q", name, ReasonDecided, ReasonEscalated, reason)
		}
	}
	return nil
}

// Terminal reports whether a successful call to tool ends the loop.
func (p Policy) Terminal(tool string) (Reason, bool) {
	r, ok := p.TerminalTools[tool]
	return r, ok
}

// Step is what happened in one iteration.
type Step struct {
	// Tool is the dispatched tool name; empty when the model did not call one.
	Tool      string
	Succeeded bool
	// Iteration is 1-based.
	Iteration int
}

// Decision is continue (Stop false) or stop with a reason.
type Decision struct {
	Stop   bool
	Reason Reason
}

// Continue is the zero Decision.
var Continue = Decision{}

// Evaluate decides whether the loop stops after step. A failed call to a
// terminal tool does not end the loop; the cap still applies.
func Evaluate(p Policy, step Step) Decision {
	if step.Tool == "" {
		return Decision{Stop: true, Reason: ReasonNoAction}
	}
	if step.Succeeded {
		if r, ok := p.Terminal(step.Tool); ok {
			return Decision{Stop: true, Reason: r}
		}
	}
	if step.Iteration >= p.MaxIterations {
		return Decision{Stop: true, Reason: ReasonMaxIterations}
	}
	return Continue
}

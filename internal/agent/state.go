package agent

import "github.com/agentcheck/agentcheck/internal/policy"

// State is the lifecycle state of a session.
type State string

const (
	StateRunning                 State = "RUNNING"
	StateTerminatedDecided       State = "TERMINATED_DECIDED"
	StateTerminatedEscalated     State = "TERMINATED_ESCALATED"
	StateTerminatedMaxIterations State = "TERMINATED_MAX_ITERATIONS"
	StateTerminatedNoAction      State = "TERMINATED_NO_ACTION"
	StateTerminatedCancelled     State = "TERMINATED_CANCELLED"
	StateTerminatedNoContact     State = "TERMINATED_NO_CONTACT"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool { return s != StateRunning && s != "" }

func stateFor(r policy.Reason) State {
	switch r {
	case policy.ReasonDecided:
		return StateTerminatedDecided
	case policy.ReasonEscalated:
		return StateTerminatedEscalated
	case policy.ReasonMaxIterations:
		return StateTerminatedMaxIterations
	case policy.ReasonNoAction:
		return StateTerminatedNoAction
	case policy.ReasonCancelled:
		return StateTerminatedCancelled
	case policy.ReasonNoContact:
		return StateTerminatedNoContact
	}
	return StateRunning
}

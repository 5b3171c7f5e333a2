package agent

import (
	"github.com/agentcheck/agentcheck/internal/compliance"
	"github.com/agentcheck/agentcheck/internal/policy"
)

// Status is the outcome recorded on a Verdict.
type Status string

const (
	StatusCompliant    Status = "COMPLIANT"
	StatusNotCompliant Status = "NOT_COMPLIANT"
	StatusInconclusive Status = "INCONCLUSIVE"
	StatusEscalated    Status = "ESCALATED"
)

// Escalation describes why a case went to a human officer.
type Escalation struct {
	Reason         string   `json:"reason"`
	Priority       string   `json:"priority"`
	RiskIndicators []string `json:"risk_indicators,omitempty"`
}

// Clarification is an unresolved request for more information.
type Clarification struct {
	Reason             string   `json:"reason"`
	MissingInformation []string `json:"missing_information,omitempty"`
	SuggestedFollowUp  string   `json:"suggested_follow_up,omitempty"`
}

// Verdict is the single outcome of a session. Confidence is nil exactly when
// Status is ESCALATED. ReviewRequired is set when confidence falls under the
// policy threshold; it never alters Status.
type Verdict struct {
	SessionID          string                        `json:"session_id"`
	Status             Status                        `json:"status"`
	Confidence         *float64                      `json:"confidence,omitempty"`
	Explanation        string                        `json:"explanation"`
	EvidenceSummary    string                        `json:"evidence_summary,omitempty"`
	VerificationStatus compliance.VerificationStatus `json:"verification_status,omitempty"`
	Escalation         *Escalation                   `json:"escalation,omitempty"`
	Clarification      *Clarification                `json:"clarification,omitempty"`
	Trace              []string                      `json:"trace"`
	ReviewRequired     bool                          `json:"review_required"`
	State              State                         `json:"state"`
	TerminationReason  policy.Reason                 `json:"termination_reason"`
	Iterations         int                           `json:"iterations"`
}

func confidence(v float64) *float64 { return &v }

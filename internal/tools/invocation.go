package tools

import (
	"fmt"
	"strings"
)

// Name is one of the four tools in the decision catalogue.
type Name string

const (
	AnalyzeReply         Name = "analyze_reply"
	RequestClarification Name = "request_clarification"
	EscalateToHuman      Name = "escalate_to_human"
	DecideCompliance     Name = "decide_compliance"
)

// Priority is the urgency of an escalation.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Invocation is the closed set of validated tool calls the controller acts on.
// Only the types in this file implement it.
type Invocation interface {
	Tool() Name
	invocation()
}

// AnalyzeReplyArgs are the arguments of analyze_reply.
type AnalyzeReplyArgs struct {
	FocusAreas []string
}

// ClarificationArgs are the arguments of request_clarification.
type ClarificationArgs struct {
	Reason             string
	MissingInformation []string
	SuggestedFollowUp  string
}

// EscalationArgs are the arguments of escalate_to_human.
type EscalationArgs struct {
	Reason         string
	Priority       Priority
	RiskIndicators []string
}

// DecisionArgs are the arguments of decide_compliance.
type DecisionArgs struct {
	Status          string
	ConfidenceScore float64
	Explanation     string
	EvidenceSummary string
}

func (AnalyzeReplyArgs) Tool() Name  { return AnalyzeReply }
func (ClarificationArgs) Tool() Name { return RequestClarification }
func (EscalationArgs) Tool() Name    { return EscalateToHuman }
func (DecisionArgs) Tool() Name      { return DecideCompliance }

func (AnalyzeReplyArgs) invocation()  {}
func (ClarificationArgs) invocation() {}
func (EscalationArgs) invocation()    {}
func (DecisionArgs) invocation()      {}

// Decode turns a validated call into its typed invocation.
func Decode(call Call) (Invocation, error) {
	a := call.Args
	switch Name(call.Name) {
	case AnalyzeReply:
		return AnalyzeReplyArgs{FocusAreas: a.list("focus_areas")}, nil
	case RequestClarification:
		return ClarificationArgs{
			Reason:             a.str("reason"),
			MissingInformation: a.list("missing_information"),
			SuggestedFollowUp:  a.str("suggested_follow_up"),
		}, nil
	case EscalateToHuman:
		return EscalationArgs{
			Reason:         a.str("reason"),
			Priority:       Priority(strings.ToUpper(a.str("priority"))),
			RiskIndicators: a.list("risk_indicators"),
		}, nil
	case DecideCompliance:
		return DecisionArgs{
			Status:          a.str("status"),
			ConfidenceScore: a.num("confidence_score"),
			Explanation:     a.str("explanation"),
			EvidenceSummary: a.str("evidence_summary"),
		}, nil
	}
	return nil, fmt.Errorf("tool %q is not part of the decision catalogue", call.Name)
}

func (a Args) str(key string) string {
	s, _ := a[key].(string)
	return strings.TrimSpace(s)
}

func (a Args) num(key string) float64 {
	f, _ := a[key].(float64)
	return f
}

func (a Args) list(key string) []string {
	items, _ := a[key].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

package tools

import (
	"context"
	"fmt"

	"github.com/agentcheck/agentcheck/internal/compliance"
)

var priorities = []string{string(PriorityLow), string(PriorityMedium), string(PriorityHigh), string(PriorityCritical)}

var statuses = []string{string(compliance.Compliant), string(compliance.NotCompliant), string(compliance.Inconclusive)}

// AnalyzeReplyDef inspects the reply; it never ends the loop.
var AnalyzeReplyDef = Definition{
	Name: string(AnalyzeReply),
	Description: "Analyze the issuing authority's reply to extract verification status, tone and key phrases, " +
		"and check whether the sender domain matches the authority. Use it when the reply needs interpretation " +
		"before a decision.",
	Params: []Param{
		{
			Name:        "focus_areas",
			Type:        TypeArray,
			Items:       TypeString,
			ItemEnum:    compliance.FocusAreas,
			Description: "Aspects to analyze; all when omitted",
		},
	},
}

// RequestClarificationDef flags missing information; it never ends the loop.
var RequestClarificationDef = Definition{
	Name: string(RequestClarification),
	Description: "Flag that the reply is unclear or incomplete and more information is needed from the authority " +
		"before a confident decision can be made. Does not end the session.",
	Params: []Param{
		{Name: "reason", Type: TypeString, Required: true, Description: "Why clarification is needed"},
		{Name: "missing_information", Type: TypeArray, Items: TypeString, Description: "Information that is missing or unclear"},
		{Name: "suggested_follow_up", Type: TypeString, Description: "Recommended follow-up question or action"},
	},
}

// EscalateToHumanDef routes the case to a compliance officer and ends the loop.
var EscalateToHumanDef = Definition{
	Name: string(EscalateToHuman),
	Description: "Escalate the case to a human compliance officer. Use it for suspected fraud, a sender domain " +
		"that does not match the authority, or cases too complex for an automated decision. Ends the session " +
		"without a compliance status.",
	Params: []Param{
		{Name: "reason", Type: TypeString, Required: true, Description: "Why human review is required"},
		{Name: "priority", Type: TypeString, Required: true, Enum: priorities, Description: "Urgency of the review"},
		{Name: "risk_indicators", Type: TypeArray, Items: TypeString, Description: "Risk concerns, e.g. domain_mismatch, potential_fraud"},
	},
}

// DecideComplianceDef records the final compliance decision and ends the loop.
var DecideComplianceDef = Definition{
	Name: string(DecideCompliance),
	Description: "Make the final compliance decision from the available evidence. Clear confirmations or denials " +
		"may be decided directly. Ends the session.",
	Params: []Param{
		{Name: "status", Type: TypeString, Required: true, Enum: statuses, Description: "Final compliance status"},
		{Name: "confidence_score", Type: TypeNumber, Required: true, Minimum: Bound(0), Maximum: Bound(1), Description: "Confidence from 0.0 to 1.0"},
		{Name: "explanation", Type: TypeString, Required: true, Description: "Reasoning for the decision"},
		{Name: "evidence_summary", Type: TypeString, Description: "Key evidence from the reply"},
	},
}

// NewCatalogue builds a frozen registry holding the four decision tools.
// analyzer may be nil, in which case replies are analyzed by keyword only.
func NewCatalogue(analyzer *compliance.Analyzer) (*Registry, error) {
	r := NewRegistry()
	for _, t := range []struct {
		def Definition
		h   Handler
	}{
		{AnalyzeReplyDef, analyzeReplyHandler(analyzer)},
		{RequestClarificationDef, requestClarification},
		{EscalateToHumanDef, escalateToHuman},
		{DecideComplianceDef, decideCompliance},
	} {
		if err := r.Register(t.def, t.h); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}

func analyzeReplyHandler(analyzer *compliance.Analyzer) Handler {
	return func(ctx context.Context, args Args) (Result, error) {
		seed, ok := SeedFrom(ctx)
		if !ok {
			return nil, fmt.Errorf("no case attached to the session")
		}
		analysis, err := analyzer.Analyze(ctx, seed, args.list("focus_areas"))
		if err != nil {
			return nil, err
		}
		res := Result{
			"verification_status":  string(analysis.VerificationStatus),
			"confidence_score":     analysis.Confidence,
			"key_phrases":          analysis.KeyPhrases,
			"explanation":          analysis.Explanation,
			"method":               analysis.Method,
			"focus_areas_analyzed": analysis.FocusAreas,
		}
		if analysis.SenderDomain != "" {
			res["sender_domain"] = analysis.SenderDomain
		}
		if analysis.ExpectedDomain != "" {
			res["expected_domain"] = analysis.ExpectedDomain
		}
		if analysis.DomainMatch != nil {
			res["domain_match"] = *analysis.DomainMatch
		}
		if len(analysis.RedFlags) > 0 {
			res["red_flags"] = analysis.RedFlags
		}
		return res, nil
	}
}

func requestClarification(_ context.Context, args Args) (Result, error) {
	return Result{
		"status":              "clarification_requested",
		"reason":              args.str("reason"),
		"missing_information": args.list("missing_information"),
		"suggested_follow_up": args.str("suggested_follow_up"),
	}, nil
}

func escalateToHuman(_ context.Context, args Args) (Result, error) {
	return Result{
		"status":          "escalated",
		"reason":          args.str("reason"),
		"priority":        args.str("priority"),
		"risk_indicators": args.list("risk_indicators"),
	}, nil
}

func decideCompliance(_ context.Context, args Args) (Result, error) {
	f := compliance.Map(compliance.Decision{
		Status:      args.str("status"),
		Confidence:  args.num("confidence_score"),
		Explanation: args.str("explanation"),
		Evidence:    args.str("evidence_summary"),
	})
	return Result{
		"compliance_result":   string(f.Result),
		"verification_status": string(f.VerificationStatus),
		"confidence_score":    f.Confidence,
		"explanation":         f.Explanation,
		"evidence_summary":    f.EvidenceSummary,
	}, nil
}

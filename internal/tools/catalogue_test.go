package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcheck/agentcheck/internal/core"
)

func caseSeed(sender string) core.Seed {
	return core.Seed{
		Certificate: core.Certificate{CandidateName: "Ada Lovelace", Degree: "BSc", University: "Example University"},
		Authority:   &core.Authority{Name: "Registrar", Email: "registrar@example.edu"},
		Reply:       &core.Reply{SenderEmail: sender, Body: "We confirm the certificate is authentic and our records match."},
	}
}

func TestNewCatalogue(t *testing.T) {
	r, err := NewCatalogue(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"analyze_reply", "request_clarification", "escalate_to_human", "decide_compliance"}, r.Names())
	assert.ErrorIs(t, r.Register(Definition{Name: "extra"}, echo), ErrRegistryFrozen)
}

func TestCatalogueAnalyzeReply(t *testing.T) {
	r, err := NewCatalogue(nil)
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), "analyze_reply", `{}`)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr, "analysis needs a case in the context")

	ctx := WithSeed(context.Background(), caseSeed("registrar@example.edu"))
	res, err := r.Dispatch(ctx, "analyze_reply", `{"focus_areas":["verification_status"]}`)
	require.NoError(t, err)
	assert.Equal(t, "VERIFIED", res["verification_status"])
	assert.Equal(t, "keyword", res["method"])
	assert.Equal(t, true, res["domain_match"])
	assert.Equal(t, []string{"verification_status"}, res["focus_areas_analyzed"])
	assert.NotContains(t, res, "red_flags")

	ctx = WithSeed(context.Background(), caseSeed("registrar@examp1e-edu.com"))
	res, err = r.Dispatch(ctx, "analyze_reply", `{}`)
	require.NoError(t, err)
	assert.Equal(t, false, res["domain_match"])
	assert.Equal(t, []string{"domain_mismatch"}, res["red_flags"])

	_, err = r.Dispatch(ctx, "analyze_reply", `{"focus_areas":["vibes"]}`)
	var invalid *InvalidArgumentsError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "focus_areas", invalid.Field)
}

func TestCatalogueDecideCompliance(t *testing.T) {
	r, err := NewCatalogue(nil)
	require.NoError(t, err)

	res, err := r.Dispatch(context.Background(), "decide_compliance",
		`{"status":"COMPLIANT","confidence_score":0.95,"explanation":"registrar confirmed"}`)
	require.NoError(t, err)
	assert.Equal(t, "COMPLIANT", res["compliance_result"])
	assert.Equal(t, "VERIFIED", res["verification_status"])
	assert.Equal(t, 0.95, res["confidence_score"])

	for _, args := range []string{
		`{"status":"MAYBE","confidence_score":0.5,"explanation":"x"}`,
		`{"status":"COMPLIANT","confidence_score":1.5,"explanation":"x"}`,
		`{"status":"COMPLIANT","confidence_score":"high","explanation":"x"}`,
		`{"status":"COMPLIANT","confidence_score":0.9}`,
	} {
		_, err := r.Dispatch(context.Background(), "decide_compliance", args)
		var invalid *InvalidArgumentsError
		assert.ErrorAs(t, err, &invalid, args)
	}
}

func TestCatalogueEscalateAndClarify(t *testing.T) {
	r, err := NewCatalogue(nil)
	require.NoError(t, err)

	res, err := r.Dispatch(context.Background(), "escalate_to_human",
		`{"reason":"sender domain mismatch","priority":"HIGH","risk_indicators":["domain_mismatch"]}`)
	require.NoError(t, err)
	assert.Equal(t, "escalated", res["status"])
	assert.Equal(t, []string{"domain_mismatch"}, res["risk_indicators"])

	_, err = r.Dispatch(context.Background(), "escalate_to_human", `{"reason":"x","priority":"URGENT"}`)
	assert.Error(t, err)

	res, err = r.Dispatch(context.Background(), "request_clarification",
		`{"reason":"degree not mentioned","missing_information":["degree"]}`)
	require.NoError(t, err)
	assert.Equal(t, "clarification_requested", res["status"])
	assert.Equal(t, "", res["suggested_follow_up"])
}

func TestDecode(t *testing.T) {
	tests := []struct {
		call Call
		want Invocation
	}{
		{Call{Name: "analyze_reply", Args: Args{}}, AnalyzeReplyArgs{FocusAreas: []string{}}},
		{
			Call{Name: "request_clarification", Args: Args{"reason": " unclear ", "missing_information": []any{"degree", 3}}},
			ClarificationArgs{Reason: "unclear", MissingInformation: []string{"degree"}},
		},
		{
			Call{Name: "escalate_to_human", Args: Args{"reason": "fraud", "priority": "critical"}},
			EscalationArgs{Reason: "fraud", Priority: PriorityCritical, RiskIndicators: []string{}},
		},
		{
			Call{Name: "decide_compliance", Args: Args{"status": "NOT_COMPLIANT", "confidence_score": 0.8, "explanation": "denied"}},
			DecisionArgs{Status: "NOT_COMPLIANT", ConfidenceScore: 0.8, Explanation: "denied"},
		},
	}
	for _, tt := range tests {
		got, err := Decode(tt.call)
		require.NoError(t, err, tt.call.Name)
		assert.Equal(t, tt.want, got, tt.call.Name)
		assert.Equal(t, Name(tt.call.Name), got.Tool())
	}

	_, err := Decode(Call{Name: "ping"})
	assert.Error(t, err)
}

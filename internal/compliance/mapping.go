// Package compliance holds the deterministic business rules behind the
// decision tools: status mapping, explanations and reply analysis.
package compliance

import (
	"fmt"
	"strings"
)

// Result is the compliance outcome of a verification.
type Result string

const (
	Compliant    Result = "COMPLIANT"
	NotCompliant Result = "NOT_COMPLIANT"
	Inconclusive Result = "INCONCLUSIVE"
)

// VerificationStatus is what the issuing authority's reply established.
type VerificationStatus string

const (
	Verified            VerificationStatus = "VERIFIED"
	NotVerified         VerificationStatus = "NOT_VERIFIED"
	VerificationUnclear VerificationStatus = "INCONCLUSIVE"
)

// Confidence levels used when no model-supplied score exists.
const (
	ConfidenceHigh   = 0.9
	ConfidenceMedium = 0.7
	ConfidenceLow    = 0.5
)

// ParseResult maps a raw status string onto a Result. Unknown values are Inconclusive.
func ParseResult(s string) (Result, bool) {
	switch Result(strings.ToUpper(strings.TrimSpace(s))) {
	case Compliant:
		return Compliant, true
	case NotCompliant:
		return NotCompliant, true
	case Inconclusive:
		return Inconclusive, true
	}
	return Inconclusive, false
}

// VerificationFor maps a compliance result to the verification status it implies.
func VerificationFor(r Result) VerificationStatus {
	switch r {
	case Compliant:
		return Verified
	case NotCompliant:
		return NotVerified
	default:
		return VerificationUnclear
	}
}

// ResultFor maps a verification status back to a compliance result.
func ResultFor(v VerificationStatus) Result {
	switch v {
	case Verified:
		return Compliant
	case NotVerified:
		return NotCompliant
	default:
		return Inconclusive
	}
}

// Decision is the raw input of the decide_compliance tool.
type Decision struct {
	Status      string
	Confidence  float64
	Explanation string
	Evidence    string
}

// Fields are the verdict fields derived from a Decision.
type Fields struct {
	Result             Result             `json:"compliance_result"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	Confidence         float64            `json:"confidence_score"`
	Explanation        string             `json:"explanation"`
	EvidenceSummary    string             `json:"evidence_summary,omitempty"`
}

// Map is the compliance mapping rule invoked by the decision tool.
func Map(d Decision) Fields {
	result, _ := ParseResult(d.Status)
	conf := d.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return Fields{
		Result:             result,
		VerificationStatus: VerificationFor(result),
		Confidence:         conf,
		Explanation:        Explain(result, d.Explanation),
		EvidenceSummary:    strings.TrimSpace(d.Evidence),
	}
}

// Explain prefixes detail with the result label, adding the standard guidance
// for the result when detail is empty.
func Explain(r Result, detail string) string {
	detail = strings.TrimSpace(detail)
	label := strings.ReplaceAll(string(r), "_", " ")
	if strings.HasPrefix(strings.ToUpper(detail), label) || strings.HasPrefix(strings.ToUpper(detail), string(r)) {
		return detail
	}
	if detail == "" {
		switch r {
		case Compliant:
			detail = "The certificate has been verified as authentic by the issuing authority."
		case NotCompliant:
			detail = "The issuing authority was unable to verify the certificate. Further investigation is recommended."
		default:
			detail = "The verification process could not reach a definitive conclusion. Additional information may be required."
		}
	}
	return fmt.Sprintf("%s: %s", label, detail)
}

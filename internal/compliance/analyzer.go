package compliance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/agentcheck/agentcheck/internal/core"
)

// Focus areas the analyze_reply tool accepts.
const (
	FocusVerificationStatus = "verification_status"
	FocusSenderLegitimacy   = "sender_legitimacy"
	FocusCompleteness       = "completeness"
	FocusTone               = "tone"
	FocusRedFlags           = "red_flags"
)

// FocusAreas lists every accepted focus area.
var FocusAreas = []string{FocusVerificationStatus, FocusSenderLegitimacy, FocusCompleteness, FocusTone, FocusRedFlags}

// Analysis is the interpretation of an authority reply.
type Analysis struct {
	VerificationStatus VerificationStatus `json:"verification_status"`
	Confidence         float64            `json:"confidence_score"`
	KeyPhrases         []string           `json:"key_phrases"`
	Explanation        string             `json:"explanation"`
	Method             string             `json:"method"`
	SenderDomain       string             `json:"sender_domain,omitempty"`
	ExpectedDomain     string             `json:"expected_domain,omitempty"`
	DomainMatch        *bool              `json:"domain_match,omitempty"`
	RedFlags           []string           `json:"red_flags,omitempty"`
	FocusAreas         []string           `json:"focus_areas_analyzed"`
}

var (
	verifiedKeywords     = []string{"confirm", "authentic", "verified", "valid", "records match"}
	notVerifiedKeywords  = []string{"cannot verify", "no record", "fraudulent", "deny", "not found"}
	inconclusiveKeywords = []string{"need more", "additional information", "unclear", "contact us"}
)

const analyzePrompt = `You are verifying an academic certificate. Interpret the issuing authority's reply.

Certificate: candidate %q, degree %q, institution %q, reference %q.

Reply:
%s

Respond with a JSON object only:
{"verification_status": "VERIFIED|NOT_VERIFIED|INCONCLUSIVE", "confidence_score": 0.0-1.0, "key_phrases": ["..."], "explanation": "..."}`

// Analyzer interprets authority replies. With a nil Client it uses keyword analysis only.
// Cache, when set, holds model analyses keyed by certificate and reply text.
type Analyzer struct {
	Client core.LLMClient
	Cache  *lru.Cache[string, Analysis]
}

// NewAnalyzer returns an analyzer that caches up to cacheSize model analyses.
// cacheSize <= 0 disables the cache.
func NewAnalyzer(client core.LLMClient, cacheSize int) (*Analyzer, error) {
	a := &Analyzer{Client: client}
	if cacheSize > 0 {
		c, err := lru.New[string, Analysis](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("analysis cache: %w", err)
		}
		a.Cache = c
	}
	return a, nil
}

// Analyze interprets seed.Reply. The model is asked first; any model or decode
// failure falls back to keyword analysis. Sender legitimacy is always checked.
func (a *Analyzer) Analyze(ctx context.Context, seed core.Seed, focus []string) (Analysis, error) {
	if seed.Reply == nil {
		return Analysis{}, fmt.Errorf("no reply to analyze")
	}
	var out Analysis
	var err error
	if a != nil && a.Client != nil {
		out, err = a.cachedAnalysis(ctx, seed)
		if err != nil {
			log.Printf("[COMPLIANCE] Model analysis failed, using keyword fallback: %v", err)
		}
	}
	if a == nil || a.Client == nil || err != nil {
		out = KeywordAnalysis(seed.Reply.Body)
	}

	out.SenderDomain, out.ExpectedDomain, out.DomainMatch = SenderCheck(*seed.Reply, seed.Authority)
	if out.DomainMatch != nil && !*out.DomainMatch {
		out.RedFlags = append(out.RedFlags, "domain_mismatch")
	}
	if len(focus) == 0 {
		focus = []string{"all"}
	}
	out.FocusAreas = focus
	return out, nil
}

func (a *Analyzer) cachedAnalysis(ctx context.Context, seed core.Seed) (Analysis, error) {
	if a.Cache == nil {
		return a.modelAnalysis(ctx, seed)
	}
	key := analysisKey(seed)
	if v, ok := a.Cache.Get(key); ok {
		v.KeyPhrases = slices.Clone(v.KeyPhrases)
		return v, nil
	}
	out, err := a.modelAnalysis(ctx, seed)
	if err != nil {
		return Analysis{}, err
	}
	a.Cache.Add(key, out)
	out.KeyPhrases = slices.Clone(out.KeyPhrases)
	return out, nil
}

// analysisKey covers every input of the analysis prompt.
func analysisKey(seed core.Seed) string {
	c := seed.Certificate
	h := sha256.New()
	for _, part := range []string{c.CandidateName, c.Degree, c.University, seed.Reply.ReferenceID, seed.Reply.Body} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (a *Analyzer) modelAnalysis(ctx context.Context, seed core.Seed) (Analysis, error) {
	c := seed.Certificate
	prompt := fmt.Sprintf(analyzePrompt, c.CandidateName, c.Degree, c.University, seed.Reply.ReferenceID, seed.Reply.Body)
	content, err := a.Client.ChatCompletion(ctx, []core.Message{{Role: core.RoleUser, Content: prompt}})
	if err != nil {
		return Analysis{}, err
	}
	var raw struct {
		VerificationStatus string   `json:"verification_status"`
		Confidence         *float64 `json:"confidence_score"`
		KeyPhrases         []string `json:"key_phrases"`
		Explanation        string   `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(stripFence(content)), &raw); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	status := VerificationStatus(strings.ToUpper(strings.TrimSpace(raw.VerificationStatus)))
	switch status {
	case Verified, NotVerified, VerificationUnclear:
	default:
		status = VerificationUnclear
	}
	conf := ConfidenceLow
	if raw.Confidence != nil && *raw.Confidence >= 0 && *raw.Confidence <= 1 {
		conf = *raw.Confidence
	}
	if raw.Explanation == "" {
		raw.Explanation = "Analysis completed"
	}
	return Analysis{
		VerificationStatus: status,
		Confidence:         conf,
		KeyPhrases:         raw.KeyPhrases,
		Explanation:        raw.Explanation,
		Method:             "llm",
	}, nil
}

// KeywordAnalysis classifies a reply by counting known confirmation, denial
// and follow-up phrases. Ties are inconclusive.
func KeywordAnalysis(body string) Analysis {
	text := fold(body)
	verified := matches(text, verifiedKeywords)
	denied := matches(text, notVerifiedKeywords)
	unclear := matches(text, inconclusiveKeywords)

	out := Analysis{
		VerificationStatus: VerificationUnclear,
		Confidence:         ConfidenceLow,
		Explanation:        "Fallback keyword-based analysis",
		Method:             "keyword",
	}
	switch {
	case len(verified) > len(denied) && len(verified) > len(unclear):
		out.VerificationStatus = Verified
		out.Confidence = ConfidenceMedium
		out.KeyPhrases = verified
	case len(denied) > len(verified) && len(denied) > len(unclear):
		out.VerificationStatus = NotVerified
		out.Confidence = ConfidenceMedium
		out.KeyPhrases = denied
	default:
		out.KeyPhrases = append(append(append([]string{}, verified...), denied...), unclear...)
	}
	if out.KeyPhrases == nil {
		out.KeyPhrases = []string{}
	}
	return out
}

// SenderCheck compares the reply's sender domain with the authority's domain.
// match is nil when either side is unknown.
func SenderCheck(reply core.Reply, authority *core.Authority) (sender, expected string, match *bool) {
	sender = emailDomain(reply.SenderEmail)
	if authority != nil {
		expected = emailDomain(authority.Email)
	}
	if sender == "" || expected == "" {
		return sender, expected, nil
	}
	ok := sender == expected || strings.HasSuffix(sender, "."+expected)
	return sender, expected, &ok
}

func emailDomain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.TrimSuffix(fold(strings.TrimSpace(addr[at+1:])), ".")
}

func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

func matches(text string, keywords []string) []string {
	var found []string
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			found = append(found, kw)
		}
	}
	return found
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

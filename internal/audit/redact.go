package audit

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxStringRunes is the length above which string values are cut.
const DefaultMaxStringRunes = 1000

// Redacted replaces the value of a sensitive key.
const Redacted = "[REDACTED]"

const truncatedSuffix = "... [truncated]"

var sensitiveSegments = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"credential":    true,
	"credentials":   true,
	"authorization": true,
	"apikey":        true,
}

// pairs of adjacent segments, e.g. api_key, privateKey, access-key
var sensitivePairs = map[[2]string]bool{
	{"api", "key"}:     true,
	{"private", "key"}: true,
	{"access", "key"}:  true,
}

// IsSensitiveKey reports whether values under key must not be recorded.
func IsSensitiveKey(key string) bool {
	segs := segments(key)
	if len(segs) == 1 && segs[0] == "key" {
		return true
	}
	for i, s := range segs {
		if sensitiveSegments[s] {
			return true
		}
		if i > 0 && sensitivePairs[[2]string{segs[i-1], s}] {
			return true
		}
	}
	return false
}

// segments splits a key on separators and camelCase boundaries, then folds case.
func segments(key string) []string {
	key = norm.NFKC.String(key)
	// a Caser is stateful; one per call keeps concurrent sessions apart
	folder := cases.Fold()
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, folder.String(string(cur)))
			cur = cur[:0]
		}
	}
	var prev rune
	for _, r := range key {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && prev != 0 && unicode.IsLower(prev):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()
	return out
}

func redactMap(m map[string]any, max int) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v, max)
	}
	return out
}

func redactValue(v any, max int) any {
	switch t := v.(type) {
	case string:
		return truncate(t, max)
	case map[string]any:
		return redactMap(t, max)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return redactMap(m, max)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e, max)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, e := range t {
			out[i] = truncate(e, max)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactMap(e, max)
		}
		return out
	}
	return v
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + truncatedSuffix
}

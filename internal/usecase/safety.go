package usecase

import "strings"

// Disclaimer is appended verbatim to replies that trip the keyword policy.
const Disclaimer = "\n\nDisclaimer: I am an AI tutor and cannot provide medical advice. " +
	"This information is for educational purposes only. " +
	"Please consult a licensed healthcare professional for any health concerns."

// DefaultRiskKeywords are matched case-insensitively as substrings.
var DefaultRiskKeywords = []string{
	"diagnose",
	"treat",
	"cure",
	"symptoms",
	"prescription",
	"my condition",
	"should i take",
}

// SafetyPolicy reviews a generated reply before it is synthesized and stored.
// It returns the text to use and whether it changed anything.
type SafetyPolicy interface {
	Review(reply string) (string, bool)
}

// KeywordPolicy is a lexical gate: any keyword hit appends the disclaimer.
// It is approximate by nature and is not a security boundary.
type KeywordPolicy struct {
	keywords   []string
	disclaimer string
}

func NewKeywordPolicy(keywords []string, disclaimer string) *KeywordPolicy {
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			normalized = append(normalized, k)
		}
	}
	return &KeywordPolicy{keywords: normalized, disclaimer: disclaimer}
}

// DefaultSafetyPolicy returns the keyword policy with the stock keyword list
// and disclaimer.
func DefaultSafetyPolicy() *KeywordPolicy {
	return NewKeywordPolicy(DefaultRiskKeywords, Disclaimer)
}

func (p *KeywordPolicy) Review(reply string) (string, bool) {
	lower := strings.ToLower(reply)
	for _, k := range p.keywords {
		if strings.Contains(lower, k) {
			return reply + p.disclaimer, true
		}
	}
	return reply, false
}

package privacy

import (
	"context"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"
)

// Placeholder replaces every detected PII span
const Placeholder = "[REDACTED]"

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`)
	phonePattern = regexp.MustCompile(`(?:\+?\d[\d()\-\s.]{7,}\d)`)
	// honorific followed by one or two capitalized words
	namePattern = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr|Shri|Smt)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`)
)

// RegexRedactor masks emails, card numbers, phone numbers and titled names
type RegexRedactor struct {
	patterns []*regexp.Regexp
}

// NewRegexRedactor creates a redactor. extra patterns are applied after the built-in ones.
func NewRegexRedactor(extra ...string) (*RegexRedactor, error) {
	r := &RegexRedactor{patterns: []*regexp.Regexp{emailPattern, cardPattern, phonePattern, namePattern}}
	for _, p := range extra {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Redact returns text with PII replaced. If masking fails the original text is returned.
func (r *RegexRedactor) Redact(_ context.Context, text string) (out string) {
	if text == "" {
		return ""
	}
	defer func() {
		if rec := recover(); rec != nil {
			logrus.Errorf("Redaction failed: %v", rec)
			out = text
		}
	}()

	masked := text
	for _, re := range r.patterns {
		masked = re.ReplaceAllString(masked, Placeholder)
	}
	return masked
}

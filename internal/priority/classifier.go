package priority

import (
	"fmt"
	"regexp"
	"strings"

	"smart-mail-reply-go/internal/rules"
)

// Tier is a priority level
type Tier string

const (
	Low    Tier = "LOW"
	Medium Tier = "MEDIUM"
	High   Tier = "HIGH"
)

// Signals are the analysis outputs the classifier reads
type Signals struct {
	Intent    string
	Sentiment string
	Summary   string
	Body      string
}

// Result is a tier and an audit-ready reason
type Result struct {
	Tier   Tier
	Reason string
}

type wordTerm struct {
	term string
	re   *regexp.Regexp
}

// Classifier assigns priority from analysis signals with fixed rules.
// It is safe for concurrent use.
type Classifier struct {
	high       map[string]struct{}
	medium     map[string]struct{}
	escalation []wordTerm
	urgency    []string
}

// NewClassifier builds a classifier from the rule set
func NewClassifier(set *rules.Set) *Classifier {
	c := &Classifier{
		high:    toSet(set.Priority.HighIntents),
		medium:  toSet(set.Priority.MediumIntents),
		urgency: append([]string(nil), set.Gate.UrgencyTerms...),
	}
	for _, term := range set.Priority.EscalationTerms {
		c.escalation = append(c.escalation, wordTerm{
			term: term,
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`),
		})
	}
	return c
}

// Classify returns the first matching rule's tier
func (c *Classifier) Classify(s Signals) Result {
	intent := rules.NormalizeLabel(s.Intent)
	if intent == "" {
		intent = "UNKNOWN"
	}
	sentiment := rules.NormalizeLabel(s.Sentiment)
	if sentiment == "" {
		sentiment = "NEUTRAL"
	}
	text := s.Body + "\n" + s.Summary
	lower := strings.ToLower(text)

	if _, ok := c.high[intent]; ok {
		return Result{Tier: High, Reason: fmt.Sprintf("restricted intent %s", intent)}
	}
	for _, e := range c.escalation {
		if e.re.MatchString(text) {
			return Result{Tier: High, Reason: fmt.Sprintf("escalation term '%s' in message", e.term)}
		}
	}

	urgent := c.firstUrgency(lower)
	negative := sentiment == "NEGATIVE"
	switch {
	case negative && urgent != "":
		return Result{Tier: High, Reason: fmt.Sprintf("negative sentiment with urgency term '%s'", urgent)}
	case negative:
		return Result{Tier: Medium, Reason: "negative sentiment"}
	case urgent != "":
		return Result{Tier: Medium, Reason: fmt.Sprintf("urgency term '%s' in message", urgent)}
	}

	if _, ok := c.medium[intent]; ok {
		return Result{Tier: Medium, Reason: fmt.Sprintf("actionable intent %s", intent)}
	}
	return Result{Tier: Low, Reason: fmt.Sprintf("routine %s with %s sentiment", intent, sentiment)}
}

func (c *Classifier) firstUrgency(lower string) string {
	for _, term := range c.urgency {
		if strings.Contains(lower, term) {
			return term
		}
	}
	return ""
}

func toSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[rules.NormalizeLabel(l)] = struct{}{}
	}
	return set
}

package gate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"smart-mail-reply-go/internal/metrics"
	"smart-mail-reply-go/internal/model"
	"smart-mail-reply-go/internal/rules"
)

// Outcome is the result class of a gate decision
type Outcome string

const (
	Approved Outcome = "APPROVED"
	Blocked  Outcome = "BLOCKED"
)

// ReasonCode explains why a message gets no automated reply
type ReasonCode string

const (
	ReasonHighPriority       ReasonCode = "HIGH_PRIORITY"
	ReasonRestrictedIntent   ReasonCode = "RESTRICTED_INTENT"
	ReasonLowConfidence      ReasonCode = "LOW_CONFIDENCE"
	ReasonHardKeyword        ReasonCode = "HARD_BLOCK_KEYWORD"
	ReasonSoftIndicatorRisk  ReasonCode = "SOFT_INDICATOR_WITH_RISK"
	ReasonPatternNotFound    ReasonCode = "PATTERN_NOT_FOUND"
	ReasonPostValidationFail ReasonCode = "POST_VALIDATION_FAIL"
	ReasonDrafterDeclined    ReasonCode = "DRAFTER_DECLINED"
	ReasonDrafterError       ReasonCode = "DRAFTER_ERROR"
	ReasonGateError          ReasonCode = "GATE_ERROR"
)

var reasonText = map[ReasonCode]string{
	ReasonHighPriority:       "Email priority is HIGH, requires human handling",
	ReasonRestrictedIntent:   "Intent is in the restricted set",
	ReasonLowConfidence:      "Confidence level is not the top tier",
	ReasonHardKeyword:        "Contains hard block keyword",
	ReasonSoftIndicatorRisk:  "Contains soft indicator with negative sentiment or urgency",
	ReasonPatternNotFound:    "Intent does not map to a safe pattern",
	ReasonPostValidationFail: "Reply text contained forbidden term",
	ReasonDrafterDeclined:    "Drafter returned NO_REPLY",
	ReasonDrafterError:       "Drafter failed",
	ReasonGateError:          "Gate failed unexpectedly",
}

// Description returns the human readable explanation of the reason
func (r ReasonCode) Description() string {
	if text, ok := reasonText[r]; ok {
		return text
	}
	return "Unknown reason"
}

// Input holds the signals the gate decides on. Body must already be redacted.
type Input struct {
	Body       string
	Intent     string
	Priority   string
	Confidence string
	Sentiment  string
}

// Decision is the outcome of one pass through the gate.
// A blocked decision always carries a reason and the NO_REPLY marker.
type Decision struct {
	Outcome   Outcome
	Reply     string
	Reason    ReasonCode
	PatternID string
	Details   map[string]string
}

// IsApproved reports whether a reply draft was produced
func (d Decision) IsApproved() bool {
	return d.Outcome == Approved
}

// AuditDetail renders the decision details as sorted key=value pairs
func (d Decision) AuditDetail() string {
	keys := make([]string, 0, len(d.Details))
	for k := range d.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	if d.PatternID != "" {
		parts = append(parts, "pattern="+d.PatternID)
	}
	for _, k := range keys {
		parts = append(parts, k+"="+d.Details[k])
	}
	return strings.Join(parts, ", ")
}

// DraftRequest is passed to the drafter once layers 1 to 4 pass
type DraftRequest struct {
	Body       string
	Intent     string
	Priority   string
	Confidence string
	PatternID  string
	Pattern    string
}

// Drafter produces the candidate reply text. Returning model.NoReply declines.
type Drafter interface {
	Draft(ctx context.Context, req DraftRequest) (string, error)
}

type wordTerm struct {
	term string
	re   *regexp.Regexp
}

// Gate decides whether a message may receive an automated reply draft.
// It is safe for concurrent use.
type Gate struct {
	hard               []wordTerm
	soft               []string
	urgency            []string
	forbidden          []string
	restricted         map[string]struct{}
	requiredConfidence string
	intentPatterns     map[string]string
	patterns           map[string]string
	drafter            Drafter
	metrics            *metrics.Metrics
}

// New builds a gate from the rule set. drafter may be nil, in which case the fixed
// pattern text is used as the reply.
func New(set *rules.Set, drafter Drafter, m *metrics.Metrics) *Gate {
	g := &Gate{
		soft:               append([]string(nil), set.Gate.SoftIndicators...),
		urgency:            append([]string(nil), set.Gate.UrgencyTerms...),
		forbidden:          append([]string(nil), set.Gate.ForbiddenOutputTerms...),
		restricted:         make(map[string]struct{}, len(set.Gate.RestrictedIntents)),
		requiredConfidence: set.Gate.RequiredConfidence,
		intentPatterns:     make(map[string]string, len(set.Gate.IntentPatterns)),
		patterns:           make(map[string]string, len(set.Gate.Patterns)),
		drafter:            drafter,
		metrics:            m,
	}
	for _, kw := range set.Gate.HardKeywords {
		g.hard = append(g.hard, wordTerm{
			term: kw,
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`),
		})
	}
	for _, intent := range set.Gate.RestrictedIntents {
		g.restricted[intent] = struct{}{}
	}
	for intent, id := range set.Gate.IntentPatterns {
		g.intentPatterns[intent] = id
	}
	for id, text := range set.Gate.Patterns {
		g.patterns[id] = text
	}
	return g
}

// Decide runs the five layers in order; the first failing layer blocks
func (g *Gate) Decide(ctx context.Context, in Input) (d Decision) {
	intent := rules.NormalizeLabel(in.Intent)
	sentiment := rules.NormalizeLabel(in.Sentiment)

	defer func() {
		if r := recover(); r != nil {
			d = block(ReasonGateError, map[string]string{"panic": fmt.Sprint(r)})
		}
		g.record(d, intent, sentiment)
	}()

	return g.decide(ctx, in, intent, sentiment)
}

func (g *Gate) decide(ctx context.Context, in Input, intent, sentiment string) Decision {
	// layer 1: entry conditions
	if priority := rules.NormalizeLabel(in.Priority); priority == "HIGH" {
		return block(ReasonHighPriority, map[string]string{"priority": priority})
	}
	if _, ok := g.restricted[intent]; ok {
		return block(ReasonRestrictedIntent, map[string]string{"intent": intent})
	}
	if confidence := rules.NormalizeLabel(in.Confidence); confidence != g.requiredConfidence {
		return block(ReasonLowConfidence, map[string]string{"confidence": in.Confidence})
	}

	// layer 2: hard keywords, whole word
	for _, kw := range g.hard {
		if kw.re.MatchString(in.Body) {
			return block(ReasonHardKeyword, map[string]string{"keyword": kw.term})
		}
	}

	// layer 3: soft indicator plus a risk amplifier, substring
	lower := strings.ToLower(in.Body)
	if soft := firstContained(lower, g.soft); soft != "" {
		if sentiment == "NEGATIVE" {
			return block(ReasonSoftIndicatorRisk, map[string]string{"indicator": soft, "amplifier": "negative sentiment"})
		}
		if urgent := firstContained(lower, g.urgency); urgent != "" {
			return block(ReasonSoftIndicatorRisk, map[string]string{"indicator": soft, "amplifier": urgent})
		}
	}

	// layer 4: fixed pattern for the intent
	patternID, ok := g.intentPatterns[intent]
	if !ok {
		return block(ReasonPatternNotFound, map[string]string{"intent": intent})
	}
	pattern, ok := g.patterns[patternID]
	if !ok {
		return block(ReasonPatternNotFound, map[string]string{"intent": intent, "pattern": patternID})
	}

	candidate := pattern
	if g.drafter != nil {
		text, reason, detail := g.draft(ctx, DraftRequest{
			Body:       in.Body,
			Intent:     intent,
			Priority:   rules.NormalizeLabel(in.Priority),
			Confidence: in.Confidence,
			PatternID:  patternID,
			Pattern:    pattern,
		})
		if reason != "" {
			d := block(reason, detail)
			d.PatternID = patternID
			return d
		}
		candidate = text
	}

	// layer 5: scan exactly the text that would be returned
	if term := firstContained(strings.ToLower(candidate), g.forbidden); term != "" {
		d := block(ReasonPostValidationFail, map[string]string{"term": term, "preview": preview(candidate)})
		d.PatternID = patternID
		return d
	}

	return Decision{Outcome: Approved, Reply: candidate, PatternID: patternID}
}

func (g *Gate) draft(ctx context.Context, req DraftRequest) (text string, reason ReasonCode, detail map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			text, reason, detail = "", ReasonDrafterError, map[string]string{"error": fmt.Sprintf("drafter panic: %v", r)}
		}
	}()

	raw, err := g.drafter.Draft(ctx, req)
	if err != nil {
		return "", ReasonDrafterError, map[string]string{"error": err.Error()}
	}

	cleaned := CleanDraft(raw)
	switch cleaned {
	case model.NoReply:
		return "", ReasonDrafterDeclined, nil
	case "":
		return "", ReasonDrafterError, map[string]string{"error": "empty draft"}
	}
	return cleaned, "", nil
}

// CleanDraft trims whitespace and surrounding quotes from drafter output
func CleanDraft(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"`)
	s = strings.Trim(s, `'`)
	return strings.TrimSpace(s)
}

func (g *Gate) record(d Decision, intent, sentiment string) {
	if g.metrics != nil {
		reason := string(d.Reason)
		if reason == "" {
			reason = "NONE"
		}
		g.metrics.GateDecisions.WithLabelValues(string(d.Outcome), reason).Inc()
	}

	fields := logrus.Fields{
		"outcome":   d.Outcome,
		"intent":    intent,
		"sentiment": sentiment,
	}
	if d.PatternID != "" {
		fields["pattern"] = d.PatternID
	}
	if d.IsApproved() {
		logrus.WithFields(fields).Info("Reply draft approved")
		return
	}
	fields["reason"] = d.Reason
	for k, v := range d.Details {
		fields[k] = v
	}
	logrus.WithFields(fields).Infof("NO_REPLY decision: %s", d.Reason.Description())
}

func block(reason ReasonCode, details map[string]string) Decision {
	return Decision{Outcome: Blocked, Reply: model.NoReply, Reason: reason, Details: details}
}

func firstContained(lower string, terms []string) string {
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return t
		}
	}
	return ""
}

func preview(s string) string {
	if len(s) > 50 {
		return s[:50]
	}
	return s
}

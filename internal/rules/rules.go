package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Set is the versioned rule data read by the gate and the priority classifier.
// A Set is not modified after Load returns it.
type Set struct {
	Version  int           `yaml:"version"`
	Gate     GateRules     `yaml:"gate"`
	Priority PriorityRules `yaml:"priority"`
}

// GateRules holds the keyword tables and approved patterns of the reply gate
type GateRules struct {
	HardKeywords         []string          `yaml:"hard_keywords"`
	SoftIndicators       []string          `yaml:"soft_indicators"`
	UrgencyTerms         []string          `yaml:"urgency_terms"`
	ForbiddenOutputTerms []string          `yaml:"forbidden_output_terms"`
	RestrictedIntents    []string          `yaml:"restricted_intents"`
	RequiredConfidence   string            `yaml:"required_confidence"`
	IntentPatterns       map[string]string `yaml:"intent_patterns"`
	Patterns             map[string]string `yaml:"patterns"`
}

// PriorityRules holds the signal tables of the priority classifier
type PriorityRules struct {
	HighIntents     []string `yaml:"high_intents"`
	MediumIntents   []string `yaml:"medium_intents"`
	EscalationTerms []string `yaml:"escalation_terms"`
}

// Default returns the embedded rule set
func Default() (*Set, error) {
	return parse(defaultRules, nil)
}

// Load returns the embedded rule set overridden by the file at path.
// Any list or map present in the file replaces the default one. An empty path yields the defaults.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return parse(defaultRules, data)
}

func parse(base, override []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(base, &set); err != nil {
		return nil, fmt.Errorf("failed to parse default rules: %w", err)
	}
	if override != nil {
		var o Set
		if err := yaml.Unmarshal(override, &o); err != nil {
			return nil, fmt.Errorf("failed to parse rules file: %w", err)
		}
		set.merge(o)
	}
	set.normalize()
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *Set) merge(o Set) {
	if o.Version != 0 {
		s.Version = o.Version
	}
	replace(&s.Gate.HardKeywords, o.Gate.HardKeywords)
	replace(&s.Gate.SoftIndicators, o.Gate.SoftIndicators)
	replace(&s.Gate.UrgencyTerms, o.Gate.UrgencyTerms)
	replace(&s.Gate.ForbiddenOutputTerms, o.Gate.ForbiddenOutputTerms)
	replace(&s.Gate.RestrictedIntents, o.Gate.RestrictedIntents)
	if o.Gate.RequiredConfidence != "" {
		s.Gate.RequiredConfidence = o.Gate.RequiredConfidence
	}
	if o.Gate.IntentPatterns != nil {
		s.Gate.IntentPatterns = o.Gate.IntentPatterns
	}
	if o.Gate.Patterns != nil {
		s.Gate.Patterns = o.Gate.Patterns
	}
	replace(&s.Priority.HighIntents, o.Priority.HighIntents)
	replace(&s.Priority.MediumIntents, o.Priority.MediumIntents)
	replace(&s.Priority.EscalationTerms, o.Priority.EscalationTerms)
}

func replace(dst *[]string, src []string) {
	if src != nil {
		*dst = src
	}
}

func (s *Set) normalize() {
	lowerAll(s.Gate.HardKeywords)
	lowerAll(s.Gate.SoftIndicators)
	lowerAll(s.Gate.UrgencyTerms)
	lowerAll(s.Gate.ForbiddenOutputTerms)
	lowerAll(s.Priority.EscalationTerms)
	labelAll(s.Gate.RestrictedIntents)
	labelAll(s.Priority.HighIntents)
	labelAll(s.Priority.MediumIntents)
	s.Gate.RequiredConfidence = NormalizeLabel(s.Gate.RequiredConfidence)

	mapping := make(map[string]string, len(s.Gate.IntentPatterns))
	for intent, pattern := range s.Gate.IntentPatterns {
		mapping[NormalizeLabel(intent)] = pattern
	}
	s.Gate.IntentPatterns = mapping
}

// Validate checks the rule set is usable
func (s *Set) Validate() error {
	if s.Version <= 0 {
		return fmt.Errorf("rules version must be greater than 0")
	}
	if len(s.Gate.HardKeywords) == 0 {
		return fmt.Errorf("gate.hard_keywords must not be empty")
	}
	if len(s.Gate.ForbiddenOutputTerms) == 0 {
		return fmt.Errorf("gate.forbidden_output_terms must not be empty")
	}
	if s.Gate.RequiredConfidence == "" {
		return fmt.Errorf("gate.required_confidence is required")
	}
	for _, list := range [][]string{s.Gate.HardKeywords, s.Gate.SoftIndicators, s.Gate.UrgencyTerms, s.Gate.ForbiddenOutputTerms, s.Priority.EscalationTerms} {
		for _, term := range list {
			if term == "" {
				return fmt.Errorf("rule terms must not be empty")
			}
		}
	}
	for intent, id := range s.Gate.IntentPatterns {
		text, ok := s.Gate.Patterns[id]
		if !ok {
			return fmt.Errorf("intent %s maps to unknown pattern %s", intent, id)
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("pattern %s is empty", id)
		}
	}
	return nil
}

// NormalizeLabel upper-cases a classifier label and joins words with underscores
func NormalizeLabel(label string) string {
	return strings.ToUpper(strings.Join(strings.Fields(label), "_"))
}

func lowerAll(terms []string) {
	for i, t := range terms {
		terms[i] = strings.ToLower(strings.TrimSpace(t))
	}
}

func labelAll(labels []string) {
	for i, l := range labels {
		labels[i] = NormalizeLabel(l)
	}
}

package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Analysis is the structured analysis result stored with a work item.
// The core reads intent, sentiment, summary, confidence, priority and priority_reason.
type Analysis struct {
	Intent          string `json:"intent"`
	Sentiment       string `json:"sentiment"`
	Summary         string `json:"summary"`
	Confidence      string `json:"confidence"`
	SuggestedAction string `json:"suggested_action,omitempty"`
	Priority        string `json:"priority,omitempty"`
	PriorityReason  string `json:"priority_reason,omitempty"`
	Error           string `json:"error,omitempty"`
}

// IsZero reports whether the analysis was never written
func (a Analysis) IsZero() bool {
	return a == Analysis{}
}

// Value stores the analysis as a JSON string, or NULL when empty
func (a Analysis) Value() (driver.Value, error) {
	if a.IsZero() {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis: %w", err)
	}
	return string(b), nil
}

// Scan decodes the JSON column back into the analysis
func (a *Analysis) Scan(value any) error {
	*a = Analysis{}

	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported analysis column type %T", value)
	}

	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, a); err != nil {
		return fmt.Errorf("failed to decode analysis: %w", err)
	}
	return nil
}

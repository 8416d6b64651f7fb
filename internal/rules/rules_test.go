package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 1, set.Version)
	assert.Contains(t, set.Gate.HardKeywords, "refund")
	assert.Contains(t, set.Gate.SoftIndicators, "due date")
	assert.Contains(t, set.Gate.ForbiddenOutputTerms, "guaranteed")
	assert.Equal(t, "HIGH", set.Gate.RequiredConfidence)
	assert.Equal(t, []string{"COMPLAINT", "CLAIM_RELATED", "PAYMENT_ISSUE"}, set.Gate.RestrictedIntents)
	assert.Equal(t, "PATTERN_B", set.Gate.IntentPatterns["GENERAL_ENQUIRY"])
	assert.Equal(t,
		"Thank you for contacting LIC.\nWe have received your message and it has been noted for review.",
		set.Gate.Patterns["PATTERN_A"])
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 2
gate:
  hard_keywords: [Lawsuit]
priority:
  medium_intents: [general enquiry]
`), 0o600))

	set, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, set.Version)
	assert.Equal(t, []string{"lawsuit"}, set.Gate.HardKeywords)
	assert.Equal(t, []string{"GENERAL_ENQUIRY"}, set.Priority.MediumIntents)
	assert.Contains(t, set.Gate.ForbiddenOutputTerms, "settled")
}

func TestLoadRejectsBrokenRules(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("gate:\n  intent_patterns:\n    REQUEST: PATTERN_Z\n"), 0o600))
	_, err := Load(unknown)
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("gate: [this is not a map"), 0o600))
	_, err = Load(garbage)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "GENERAL_ENQUIRY", NormalizeLabel("General Enquiry"))
	assert.Equal(t, "NEGATIVE", NormalizeLabel(" negative "))
	assert.Equal(t, "", NormalizeLabel(""))
}

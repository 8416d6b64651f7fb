package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"smart-mail-reply-go/internal/llm"
	"smart-mail-reply-go/internal/model"
)

const analysisPrompt = `You are an expert Email Intelligence Agent for LIC (Life Insurance Corporation of India).
Analyze the following email and determine the intent, sentiment, a one sentence summary, your confidence and a specific suggested action.
Use the policy context to ground the suggested action where it applies.

CONTEXT from LIC Policies:
%s

EMAIL CONTENT (Redacted):
%s

INSTRUCTIONS:
1. Sentiment is one of Positive, Negative, Neutral.
2. Intent is one of GENERAL_ENQUIRY, REQUEST, APPRECIATION, COMPLAINT, CLAIM_RELATED, PAYMENT_ISSUE, OTHER.
3. Confidence is one of High, Medium, Low.
4. Output STRICT JSON format.

JSON STRUCTURE:
{
    "intent": "string",
    "sentiment": "string",
    "summary": "string",
    "confidence": "string",
    "suggested_action": "string"
}
`

const noPolicyContext = "No relevant policy context found."

// Retriever returns reference passages relevant to a query
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// Fallback is returned whenever analysis cannot be completed
func Fallback() model.Analysis {
	return model.Analysis{
		Intent:          "Unknown",
		Sentiment:       "Neutral",
		Confidence:      "Low",
		SuggestedAction: "Manual Review Required (AI Error)",
	}
}

// LLMAnalyzer classifies redacted text with a JSON-mode language model
type LLMAnalyzer struct {
	generator llm.Generator
	model     string
	retriever Retriever
}

// NewLLMAnalyzer creates an analyzer backed by generator. retriever may be nil.
func NewLLMAnalyzer(generator llm.Generator, model string, retriever Retriever) *LLMAnalyzer {
	return &LLMAnalyzer{generator: generator, model: model, retriever: retriever}
}

// policyContext degrades to a placeholder when retrieval is off or fails
func (a *LLMAnalyzer) policyContext(ctx context.Context, text string) string {
	if a.retriever == nil {
		return noPolicyContext
	}
	passages, err := a.retriever.Retrieve(ctx, text)
	if err != nil {
		logrus.Warnf("Policy retrieval failed, analyzing without context: %v", err)
		return noPolicyContext
	}
	if len(passages) == 0 {
		return noPolicyContext
	}
	return strings.Join(passages, "\n\n")
}

// Analyze never fails; problems yield Fallback
func (a *LLMAnalyzer) Analyze(ctx context.Context, text string) (result model.Analysis) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Analysis panicked: %v", r)
			result = Fallback()
		}
	}()

	raw, err := a.generator.Generate(ctx, llm.GenerateRequest{
		Model:  a.model,
		Prompt: fmt.Sprintf(analysisPrompt, a.policyContext(ctx, text), text),
		JSON:   true,
	})
	if err != nil {
		logrus.Errorf("Analysis request failed: %v", err)
		return Fallback()
	}

	parsed, err := Parse(raw)
	if err != nil {
		logrus.Errorf("Analysis response unusable: %v", err)
		return Fallback()
	}
	return parsed
}

// Parse decodes a model response into an Analysis
func Parse(raw string) (model.Analysis, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var out model.Analysis
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return model.Analysis{}, fmt.Errorf("failed to decode analysis: %w", err)
	}
	out.Priority, out.PriorityReason, out.Error = "", "", ""
	if strings.TrimSpace(out.Intent) == "" {
		return model.Analysis{}, fmt.Errorf("analysis has no intent")
	}
	if out.Sentiment == "" {
		out.Sentiment = "Neutral"
	}
	if out.Confidence == "" {
		out.Confidence = "Low"
	}
	return out, nil
}

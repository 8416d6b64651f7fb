package gate

import (
	"context"
	"strings"

	"smart-mail-reply-go/internal/llm"
)

const replyPrompt = `SYSTEM ROLE:
You are an ASSISTIVE EMAIL REPLY AGENT for LIC (Life Insurance Corporation of India).

You do NOT send emails.
You do NOT take decisions.
You generate SAFE reply drafts ONLY for HUMAN REVIEW.

CRITICAL INSTRUCTION:

Based on the Intent provided, return EXACTLY this pattern:

{{pattern}}

DO NOT modify the wording.
DO NOT add extra text.
DO NOT explain or provide commentary.

If you cannot return the pattern unchanged, return: NO_REPLY

INPUT DATA:

Email Content (PII redacted):
{{email}}

Metadata:
- Intent: {{intent}}
- Priority: {{priority}}
- Confidence: {{confidence}}

OUTPUT:

Return ONLY the exact pattern text for the given intent.
No JSON. No quotes. No explanations.

END.
`

// LLMDrafter asks a language model to echo the approved pattern for the intent
type LLMDrafter struct {
	generator llm.Generator
	model     string
}

// NewLLMDrafter creates a drafter backed by generator
func NewLLMDrafter(generator llm.Generator, model string) *LLMDrafter {
	return &LLMDrafter{generator: generator, model: model}
}

// Draft implements Drafter
func (d *LLMDrafter) Draft(ctx context.Context, req DraftRequest) (string, error) {
	return d.generator.Generate(ctx, llm.GenerateRequest{
		Model:       d.model,
		Prompt:      BuildPrompt(req),
		Temperature: 0,
	})
}

// BuildPrompt fills the reply prompt for req
func BuildPrompt(req DraftRequest) string {
	return strings.NewReplacer(
		"{{pattern}}", req.Pattern,
		"{{email}}", req.Body,
		"{{intent}}", req.Intent,
		"{{priority}}", req.Priority,
		"{{confidence}}", req.Confidence,
	).Replace(replyPrompt)
}

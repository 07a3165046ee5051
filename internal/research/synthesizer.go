package research

import (
	"context"
	"fmt"
	"strings"

	"scout.app/research/common/llm"
)

const synthesizerSystemPrompt = `You are a research analyst. Write a thorough, well-structured final analysis of the research topic from the findings and interim summaries below. Cite sources inline by URL where relevant. If the material is thin or contradictory, say so explicitly rather than speculating.`

// synthesizerMaxTokens gives the final analysis a large output budget.
const synthesizerMaxTokens = 16384

// LLMSynthesizer implements Synthesizer over a reasoning-model client.
type LLMSynthesizer struct {
	client    llm.Client
	maxTokens int
}

func NewSynthesizer(client llm.Client, maxTokens int) *LLMSynthesizer {
	if maxTokens < synthesizerMaxTokens {
		maxTokens = synthesizerMaxTokens
	}
	return &LLMSynthesizer{client: client, maxTokens: maxTokens}
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, topic string, findings []Finding, summaries []string) (string, error) {
	var b strings.Builder
	b.WriteString("Research topic: ")
	b.WriteString(topic)
	b.WriteString("\n\nFindings:\n")
	b.WriteString(formatFindings(findings))
	if len(summaries) > 0 {
		b.WriteString("\n")
		for _, sum := range summaries {
			b.WriteString("\n[Summary]: ")
			b.WriteString(sum)
		}
	}

	content, _, err := s.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: synthesizerSystemPrompt,
		UserPrompt:   b.String(),
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("synthesizer: %w", err)
	}

	return content, nil
}

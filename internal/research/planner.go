package research

import (
	"context"
	"fmt"

	"scout.app/research/common/llm"
)

const plannerSystemPrompt = `You are a research planner. You review the findings gathered so far for a research topic and decide whether more research is needed. Identify concrete knowledge gaps, propose the next search topic, and optionally point at a specific URL worth extracting. Be decisive: if the findings already answer the topic, or if less than one minute of research time remains, set shouldContinue to false.`

// plannerOutput is the structured-output contract for the planning call.
type plannerOutput struct {
	Analysis struct {
		Summary         string   `json:"summary"`
		Gaps            []string `json:"gaps"`
		NextSteps       []string `json:"nextSteps"`
		ShouldContinue  bool     `json:"shouldContinue"`
		NextSearchTopic string   `json:"nextSearchTopic,omitempty"`
		URLToSearch     string   `json:"urlToSearch,omitempty"`
	} `json:"analysis"`
}

// LLMPlanner implements Planner over a reasoning-model client.
type LLMPlanner struct {
	client llm.Client
}

func NewPlanner(client llm.Client) *LLMPlanner {
	return &LLMPlanner{client: client}
}

func (p *LLMPlanner) Plan(ctx context.Context, in PlanInput) (Plan, error) {
	minutes := in.Remaining.Minutes()
	if minutes < 0 {
		minutes = 0
	}

	prompt := fmt.Sprintf(
		"Research topic: %s\nTime remaining: %.1f minutes (if less than 1 minute remains, set shouldContinue to false)\n\nFindings so far:\n%s",
		in.Topic, minutes, formatFindings(in.Findings))

	var out plannerOutput
	_, err := p.client.Chat(ctx, llm.Request{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "research_plan",
		Schema:       llm.GenerateSchema[plannerOutput](),
		MaxTokens:    4096,
		Temperature:  llm.Temp(0),
	}, &out)
	if err != nil {
		return Plan{}, fmt.Errorf("planner: %w", err)
	}

	a := out.Analysis
	return Plan{
		Summary:         a.Summary,
		Gaps:            a.Gaps,
		NextSteps:       a.NextSteps,
		ShouldContinue:  a.ShouldContinue,
		NextSearchTopic: a.NextSearchTopic,
		URLToSearch:     a.URLToSearch,
	}, nil
}

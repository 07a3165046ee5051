package research_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"scout.app/research/common/llm"
	"scout.app/research/internal/research"
)

// fakeLLM scripts llm.Client: Chat unmarshals a canned JSON payload into
// the caller's result and records the request it received.
type fakeLLM struct {
	chatJSON     string
	chatErr      error
	chatReq      llm.Request
	completion   string
	completeErr  error
	completeReq  llm.CompletionRequest
	model        string
}

func (f *fakeLLM) Chat(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
	f.chatReq = req
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	if err := json.Unmarshal([]byte(f.chatJSON), result); err != nil {
		return nil, err
	}
	return &llm.Response{}, nil
}

func (f *fakeLLM) Complete(_ context.Context, req llm.CompletionRequest) (string, *llm.Response, error) {
	f.completeReq = req
	if f.completeErr != nil {
		return "", nil, f.completeErr
	}
	return f.completion, &llm.Response{}, nil
}

func (f *fakeLLM) Model() string { return f.model }

var _ = Describe("LLMPlanner", func() {
	var (
		client  *fakeLLM
		planner *research.LLMPlanner
	)

	BeforeEach(func() {
		client = &fakeLLM{chatJSON: `{"analysis": {
			"summary": "covered the basics",
			"gaps": ["pricing", "benchmarks"],
			"nextSteps": ["search for pricing"],
			"shouldContinue": true,
			"nextSearchTopic": "product pricing",
			"urlToSearch": "https://docs.example/pricing"
		}}`}
		planner = research.NewPlanner(client)
	})

	It("maps the structured output onto the plan", func() {
		plan, err := planner.Plan(context.Background(), research.PlanInput{
			Topic:     "product landscape",
			Remaining: 3 * time.Minute,
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Summary).To(Equal("covered the basics"))
		Expect(plan.Gaps).To(Equal([]string{"pricing", "benchmarks"}))
		Expect(plan.NextSteps).To(Equal([]string{"search for pricing"}))
		Expect(plan.ShouldContinue).To(BeTrue())
		Expect(plan.NextSearchTopic).To(Equal("product pricing"))
		Expect(plan.URLToSearch).To(Equal("https://docs.example/pricing"))
	})

	It("prompts with the topic, remaining time, and formatted findings", func() {
		_, err := planner.Plan(context.Background(), research.PlanInput{
			Topic:     "product landscape",
			Remaining: 2*time.Minute + 30*time.Second,
			Findings: []research.Finding{
				{Text: "fact one", Source: "https://a.example/"},
				{Text: "fact two", Source: "https://b.example/"},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(client.chatReq.UserPrompt).To(ContainSubstring("Research topic: product landscape"))
		Expect(client.chatReq.UserPrompt).To(ContainSubstring("2.5 minutes"))
		Expect(client.chatReq.UserPrompt).To(ContainSubstring("[From https://a.example/]: fact one"))
		Expect(client.chatReq.UserPrompt).To(ContainSubstring("[From https://b.example/]: fact two"))
		Expect(client.chatReq.SchemaName).To(Equal("research_plan"))
		Expect(client.chatReq.MaxTokens).To(Equal(4096))
		Expect(client.chatReq.Temperature).To(HaveValue(Equal(0.0)))
		Expect(client.chatReq.SystemPrompt).NotTo(BeEmpty())
	})

	It("clamps negative remaining time to zero", func() {
		_, err := planner.Plan(context.Background(), research.PlanInput{
			Topic:     "t",
			Remaining: -30 * time.Second,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.chatReq.UserPrompt).To(ContainSubstring("0.0 minutes"))
	})

	It("wraps client failures", func() {
		client.chatErr = errors.New("rate limited")

		_, err := planner.Plan(context.Background(), research.PlanInput{Topic: "t"})
		Expect(err).To(MatchError(ContainSubstring("planner: rate limited")))
	})
})

var _ = Describe("LLMSynthesizer", func() {
	var client *fakeLLM

	BeforeEach(func() {
		client = &fakeLLM{completion: "the final analysis"}
	})

	It("prompts with the topic, findings, and interim summaries", func() {
		synth := research.NewSynthesizer(client, 0)

		analysis, err := synth.Synthesize(context.Background(), "product landscape",
			[]research.Finding{{Text: "fact one", Source: "https://a.example/"}},
			[]string{"interim one", "interim two"})

		Expect(err).NotTo(HaveOccurred())
		Expect(analysis).To(Equal("the final analysis"))
		Expect(client.completeReq.UserPrompt).To(ContainSubstring("Research topic: product landscape"))
		Expect(client.completeReq.UserPrompt).To(ContainSubstring("[From https://a.example/]: fact one"))
		Expect(client.completeReq.UserPrompt).To(ContainSubstring("[Summary]: interim one"))
		Expect(client.completeReq.UserPrompt).To(ContainSubstring("[Summary]: interim two"))
	})

	It("enforces the minimum output budget", func() {
		synth := research.NewSynthesizer(client, 1024)

		_, err := synth.Synthesize(context.Background(), "t", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(client.completeReq.MaxTokens).To(Equal(16384))
	})

	It("keeps a larger budget as given", func() {
		synth := research.NewSynthesizer(client, 32768)

		_, err := synth.Synthesize(context.Background(), "t", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(client.completeReq.MaxTokens).To(Equal(32768))
	})

	It("wraps client failures", func() {
		client.completeErr = errors.New("overloaded")
		synth := research.NewSynthesizer(client, 0)

		_, err := synth.Synthesize(context.Background(), "t", nil, nil)
		Expect(err).To(MatchError(ContainSubstring("synthesizer: overloaded")))
	})
})

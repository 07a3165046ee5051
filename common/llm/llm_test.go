package llm_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openai/openai-go"

	"scout.app/research/common/llm"
)

var _ = Describe("ExtractJSON", func() {
	DescribeTable("pulls the JSON object out of raw model output",
		func(input, expected string) {
			Expect(llm.ExtractJSON(input)).To(Equal(expected))
		},
		Entry("bare object unchanged", `{"a":1}`, `{"a":1}`),
		Entry("leading whitespace trimmed", "\n  {\"a\":1}", `{"a":1}`),
		Entry("json fence stripped", "```json\n{\"a\":1}\n```", `{"a":1}`),
		Entry("plain fence stripped", "```\n{\"a\":1}\n```", `{"a":1}`),
		Entry("surrounding prose dropped", `Here is the plan: {"a":1} Hope that helps.`, `{"a":1}`),
		Entry("nested braces kept intact", `{"a":{"b":2}}`, `{"a":{"b":2}}`),
		Entry("no object returned as-is", "no json here", "no json here"),
	)
})

var _ = Describe("IsReasoningModel", func() {
	DescribeTable("classifies model names",
		func(model string, expected bool) {
			Expect(llm.IsReasoningModel(model)).To(Equal(expected))
		},
		Entry("o1-mini", "o1-mini", true),
		Entry("o1 bare", "o1", true),
		Entry("o3-mini", "o3-mini", true),
		Entry("gpt-5.1", "gpt-5.1", true),
		Entry("claude sonnet", "claude-sonnet-4-5-20250514", true),
		Entry("thinking suffix", "some-model-thinking", true),
		Entry("gpt-4o", "gpt-4o", false),
		Entry("gpt-4o-mini", "gpt-4o-mini", false),
		Entry("o-prefixed but not a reasoning family", "omega-1", false),
	)
})

var _ = Describe("IsRetryable", func() {
	DescribeTable("classifies failures",
		func(err error, expected bool) {
			Expect(llm.IsRetryable(context.Background(), err)).To(Equal(expected))
		},
		Entry("nil error", nil, false),
		Entry("context cancelled", context.Canceled, false),
		Entry("wrapped context cancelled", fmt.Errorf("running research: %w", context.Canceled), false),
		Entry("deadline exceeded", context.DeadlineExceeded, false),
		Entry("rate limited", &openai.Error{StatusCode: 429}, true),
		Entry("server error", &openai.Error{StatusCode: 503}, true),
		Entry("client error", &openai.Error{StatusCode: 400}, false),
		Entry("wrapped api error", fmt.Errorf("planner: %w", &openai.Error{StatusCode: 500}), true),
		Entry("network error", errors.New("connection refused"), true),
	)
})

var _ = Describe("New", func() {
	It("rejects an empty API key", func() {
		_, err := llm.New(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unknown provider", func() {
		_, err := llm.New(llm.Config{Provider: "cohere", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported LLM provider")))
	})

	It("defaults to OpenAI with a default model", func() {
		client, err := llm.New(llm.Config{APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Model()).To(Equal("o1-mini"))
	})
})

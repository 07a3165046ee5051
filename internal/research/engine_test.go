package research_test

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"scout.app/research/internal/research"
)

func result(url, text string) research.ExtractResponse {
	return research.ExtractResponse{
		Success:  true,
		Findings: []research.Finding{{Text: text, Source: url}},
	}
}

func searchOK(urls ...string) research.SearchResponse {
	resp := research.SearchResponse{Success: true}
	for _, u := range urls {
		resp.Results = append(resp.Results, research.SearchResult{URL: u, Title: "t", Description: "d"})
	}
	return resp
}

var _ = Describe("Engine", func() {
	var (
		search *stubSearch
		extr   *stubExtract
		plan   *stubPlanner
		synth  *stubSynthesizer
		sink   *recorder
	)

	BeforeEach(func() {
		search = &stubSearch{}
		extr = &stubExtract{responses: map[string]research.ExtractResponse{}}
		plan = &stubPlanner{}
		synth = &stubSynthesizer{analysis: "final analysis"}
		sink = &recorder{}
	})

	run := func(req research.Request) research.Result {
		engine := research.NewEngine(research.Clients{
			Search:      search,
			Extract:     extr,
			Planner:     plan,
			Synthesizer: synth,
		}, research.Options{})
		return engine.Run(context.Background(), req, sink)
	}

	Describe("happy path at depth 1", func() {
		BeforeEach(func() {
			search.responses = []research.SearchResponse{
				searchOK("https://a.example/", "https://b.example/", "https://c.example/"),
			}
			extr.responses["https://a.example/"] = result("https://a.example/", "fact a")
			extr.responses["https://b.example/"] = result("https://b.example/", "fact b")
			extr.responses["https://c.example/"] = result("https://c.example/", "fact c")
			plan.steps = []plannerStep{{plan: research.Plan{Summary: "covered", ShouldContinue: false}}}
		})

		It("returns all findings and the analysis", func() {
			res := run(research.Request{Topic: "What is X?", MaxDepth: 1})

			Expect(res.Success).To(BeTrue())
			Expect(res.Findings).To(HaveLen(3))
			Expect(res.Analysis).To(Equal("final analysis"))
			Expect(res.TotalSteps).To(Equal(5))
		})

		It("emits the full ordered event sequence", func() {
			run(research.Request{Topic: "What is X?", MaxDepth: 1})

			events := sink.Events()
			Expect(events[0].Kind()).To(Equal(research.KindProgressInit))
			Expect(events[len(events)-1].Kind()).To(Equal(research.KindFinish))

			Expect(events[1]).To(Equal(research.DepthDelta{Current: 1, Max: 1, TotalSteps: 5}))

			activities := sink.Activities()
			Expect(activities[0].Type).To(Equal(research.ActivitySearch))
			Expect(activities[0].Status).To(Equal(research.StatusPending))
			Expect(activities[0].Message).To(Equal("Searching for What is X?"))
			Expect(activities[1].Type).To(Equal(research.ActivitySearch))
			Expect(activities[1].Status).To(Equal(research.StatusComplete))
			Expect(activities[1].Message).To(Equal("Found 3 results"))

			var sources []research.SourceDelta
			for _, e := range events {
				if s, ok := e.(research.SourceDelta); ok {
					sources = append(sources, s)
				}
			}
			Expect(sources).To(HaveLen(3))
			Expect(sources[0].URL).To(Equal("https://a.example/"))

			// Extract events may interleave across URLs, but pending always
			// precedes the matching complete for the same host.
			for _, host := range []string{"a.example", "b.example", "c.example"} {
				pendingIdx, completeIdx := -1, -1
				for i, a := range activities {
					if a.Type != research.ActivityExtract || !strings.Contains(a.Message, host) {
						continue
					}
					switch a.Status {
					case research.StatusPending:
						pendingIdx = i
					case research.StatusComplete:
						completeIdx = i
					}
				}
				Expect(pendingIdx).To(BeNumerically(">=", 0), host)
				Expect(completeIdx).To(BeNumerically(">", pendingIdx), host)
			}

			last := activities[len(activities)-4:]
			Expect(last[0].Type).To(Equal(research.ActivityAnalyze))
			Expect(last[0].Status).To(Equal(research.StatusPending))
			Expect(last[1].Type).To(Equal(research.ActivityAnalyze))
			Expect(last[1].Status).To(Equal(research.StatusComplete))
			Expect(last[1].Message).To(Equal("covered"))
			Expect(last[2].Type).To(Equal(research.ActivitySynthesis))
			Expect(last[2].Status).To(Equal(research.StatusPending))
			Expect(last[3].Type).To(Equal(research.ActivitySynthesis))
			Expect(last[3].Status).To(Equal(research.StatusComplete))
			Expect(last[3].Message).To(Equal("Research completed"))
		})

		It("counts exactly the complete activities", func() {
			res := run(research.Request{Topic: "What is X?", MaxDepth: 1})

			completes := 0
			for _, a := range sink.Activities() {
				if a.Status == research.StatusComplete {
					completes++
				}
			}
			// search + 3 extracts + analyze + synthesis
			Expect(completes).To(Equal(6))
			Expect(res.CompletedSteps).To(Equal(completes))
		})
	})

	Describe("search failure then recovery", func() {
		BeforeEach(func() {
			search.responses = []research.SearchResponse{
				{Error: "upstream timeout"},
				searchOK("https://a.example/", "https://b.example/"),
			}
			extr.responses["https://a.example/"] = result("https://a.example/", "fact a")
			extr.responses["https://b.example/"] = result("https://b.example/", "fact b")
			plan.steps = []plannerStep{{plan: research.Plan{Summary: "done", ShouldContinue: false}}}
		})

		It("retries on the next depth and still succeeds", func() {
			res := run(research.Request{Topic: "flaky", MaxDepth: 2})

			Expect(res.Success).To(BeTrue())
			Expect(res.Findings).To(HaveLen(2))

			var depths []research.DepthDelta
			for _, e := range sink.Events() {
				if d, ok := e.(research.DepthDelta); ok {
					depths = append(depths, d)
				}
			}
			Expect(depths).To(HaveLen(2))
			Expect(depths[1].Current).To(Equal(2))

			var searchErrors int
			for _, a := range sink.Activities() {
				if a.Type == research.ActivitySearch && a.Status == research.StatusError {
					searchErrors++
					Expect(a.Message).To(ContainSubstring("upstream timeout"))
				}
			}
			Expect(searchErrors).To(Equal(1))
			Expect(extr.URLs()).To(HaveLen(2))
		})
	})

	Describe("partial extract failure", func() {
		BeforeEach(func() {
			search.responses = []research.SearchResponse{
				searchOK("https://a.example/", "https://b.example/", "https://c.example/"),
			}
			extr.responses["https://a.example/"] = result("https://a.example/", "fact a")
			extr.responses["https://b.example/"] = research.ExtractResponse{Error: "blocked"}
			extr.responses["https://c.example/"] = result("https://c.example/", "fact c")
			plan.steps = []plannerStep{{plan: research.Plan{Summary: "s", ShouldContinue: false}}}
		})

		It("keeps the surviving findings and names the failing host", func() {
			res := run(research.Request{Topic: "partial", MaxDepth: 1})

			Expect(res.Success).To(BeTrue())
			Expect(res.Findings).To(HaveLen(2))
			for _, f := range res.Findings {
				Expect(f.Source).NotTo(Equal("https://b.example/"))
			}

			var extractErrors []research.ActivityDelta
			for _, a := range sink.Activities() {
				if a.Type == research.ActivityExtract && a.Status == research.StatusError {
					extractErrors = append(extractErrors, a)
				}
			}
			Expect(extractErrors).To(HaveLen(1))
			Expect(extractErrors[0].Message).To(ContainSubstring("b.example"))
			Expect(extractErrors[0].Message).To(ContainSubstring("blocked"))
		})
	})

	Describe("planner instructs stop despite open gaps", func() {
		BeforeEach(func() {
			search.responses = []research.SearchResponse{searchOK("https://a.example/")}
			extr.responses["https://a.example/"] = result("https://a.example/", "fact a")
			plan.steps = []plannerStep{
				{plan: research.Plan{Summary: "s", Gaps: []string{"g1", "g2"}, ShouldContinue: false}},
			}
		})

		It("honors shouldContinue and goes straight to synthesis", func() {
			res := run(research.Request{Topic: "stop early", MaxDepth: 5})

			Expect(res.Success).To(BeTrue())
			Expect(search.Queries()).To(Equal([]string{"stop early"}))
			Expect(synth.calls).To(Equal(1))
		})
	})

	Describe("three consecutive planner failures", func() {
		BeforeEach(func() {
			search.responses = []research.SearchResponse{
				searchOK("https://a.example/"),
				searchOK("https://b.example/"),
				searchOK("https://c.example/"),
			}
			extr.responses["https://a.example/"] = result("https://a.example/", "fact a")
			extr.responses["https://b.example/"] = result("https://b.example/", "fact b")
			extr.responses["https://c.example/"] = result("https://c.example/", "fact c")
			planErr := errors.New("model overloaded")
			plan.steps = []plannerStep{{err: planErr}, {err: planErr}, {err: planErr}}
		})

		It("aborts the loop but still synthesizes the gathered findings", func() {
			res := run(research.Request{Topic: "unlucky", MaxDepth: 5})

			Expect(res.Success).To(BeTrue())
			Expect(res.Findings).To(HaveLen(3))
			Expect(synth.calls).To(Equal(1))
			Expect(synth.findings).To(HaveLen(3))

			var depths int
			for _, e := range sink.Events() {
				if _, ok := e.(research.DepthDelta); ok {
					depths++
				}
			}
			Expect(depths).To(Equal(3))
		})
	})

	Describe("planner hints", func() {
		BeforeEach(func() {
			search.responses = []research.SearchResponse{
				searchOK("https://a.example/"),
				searchOK("https://d.example/", "https://e.example/", "https://f.example/", "https://g.example/"),
			}
			for _, u := range []string{"https://a.example/", "https://d.example/", "https://e.example/", "https://f.example/", "https://hint.example/"} {
				extr.responses[u] = result(u, "fact")
			}
			plan.steps = []plannerStep{
				{plan: research.Plan{
					Summary:         "needs more",
					Gaps:            []string{"gap topic"},
					ShouldContinue:  true,
					NextSearchTopic: "hinted query",
					URLToSearch:     "https://hint.example/",
				}},
				{plan: research.Plan{Summary: "done", ShouldContinue: false}},
			}
		})

		It("uses the search hint and prepends the URL hint, capping search URLs at three", func() {
			res := run(research.Request{Topic: "original", MaxDepth: 3})

			Expect(res.Success).To(BeTrue())
			Expect(search.Queries()).To(Equal([]string{"original", "hinted query"}))

			urls := extr.URLs()
			// depth 1: one URL; depth 2: hint + first three of four results
			Expect(urls).To(HaveLen(5))
			Expect(urls[1:]).To(ConsistOf(
				"https://hint.example/",
				"https://d.example/",
				"https://e.example/",
				"https://f.example/",
			))
		})
	})

	Describe("maxDepth of zero", func() {
		It("skips the loop and synthesizes over nothing", func() {
			res := run(research.Request{Topic: "empty", MaxDepth: 0})

			Expect(res.Success).To(BeTrue())
			Expect(res.Findings).To(BeEmpty())
			Expect(synth.calls).To(Equal(1))

			kinds := sink.Kinds()
			Expect(kinds).To(Equal([]research.EventKind{
				research.KindProgressInit,
				research.KindActivityDelta,
				research.KindActivityDelta,
				research.KindFinish,
			}))
		})
	})

	Describe("zero search results", func() {
		BeforeEach(func() {
			search.responses = []research.SearchResponse{{Success: true}}
			plan.steps = []plannerStep{{plan: research.Plan{Summary: "nothing found", ShouldContinue: false}}}
		})

		It("skips the fan-out but still consults the planner", func() {
			res := run(research.Request{Topic: "obscure", MaxDepth: 1})

			Expect(res.Success).To(BeTrue())
			Expect(extr.URLs()).To(BeEmpty())
			Expect(plan.inputs).To(HaveLen(1))
			Expect(plan.inputs[0].Findings).To(BeEmpty())
		})
	})

	Describe("deadline exhaustion", func() {
		It("stops at the top of the next iteration and still synthesizes", func() {
			clock := newFakeClock()
			slowSearch := searchFunc(func(_ context.Context, _ string) research.SearchResponse {
				clock.Advance(2 * time.Second)
				return searchOK("https://a.example/")
			})
			extr.responses["https://a.example/"] = result("https://a.example/", "fact a")
			plan.steps = []plannerStep{
				{plan: research.Plan{Summary: "s", Gaps: []string{"more"}, ShouldContinue: true}},
			}

			engine := research.NewEngine(research.Clients{
				Search:      slowSearch,
				Extract:     extr,
				Planner:     plan,
				Synthesizer: synth,
			}, research.Options{Now: clock.Now})

			res := engine.Run(context.Background(), research.Request{
				Topic:     "slow",
				MaxDepth:  3,
				TimeLimit: time.Second,
			}, sink)

			Expect(res.Success).To(BeTrue())
			Expect(res.Findings).To(HaveLen(1))

			var depths int
			for _, e := range sink.Events() {
				if _, ok := e.(research.DepthDelta); ok {
					depths++
				}
			}
			Expect(depths).To(Equal(1))
			Expect(sink.Events()[len(sink.Events())-1].Kind()).To(Equal(research.KindFinish))
		})
	})

	Describe("synthesizer failure", func() {
		BeforeEach(func() {
			search.responses = []research.SearchResponse{searchOK("https://a.example/")}
			extr.responses["https://a.example/"] = result("https://a.example/", "fact a")
			plan.steps = []plannerStep{{plan: research.Plan{Summary: "s", ShouldContinue: false}}}
			synth.err = errors.New("context length exceeded")
		})

		It("returns the findings with a thought error and no finish event", func() {
			res := run(research.Request{Topic: "doomed", MaxDepth: 1})

			Expect(res.Success).To(BeFalse())
			Expect(res.Error).To(ContainSubstring("context length exceeded"))
			Expect(res.Findings).To(HaveLen(1))

			activities := sink.Activities()
			last := activities[len(activities)-1]
			Expect(last.Type).To(Equal(research.ActivityThought))
			Expect(last.Status).To(Equal(research.StatusError))
			Expect(last.Message).To(HavePrefix("Research failed:"))

			for _, e := range sink.Events() {
				Expect(e.Kind()).NotTo(Equal(research.KindFinish))
			}
		})
	})

	Describe("broken sink", func() {
		BeforeEach(func() {
			sink.fail = true
			search.responses = []research.SearchResponse{searchOK("https://a.example/")}
			extr.responses["https://a.example/"] = result("https://a.example/", "fact a")
			plan.steps = []plannerStep{{plan: research.Plan{Summary: "s", ShouldContinue: false}}}
		})

		It("keeps researching even when no event can be delivered", func() {
			res := run(research.Request{Topic: "silent", MaxDepth: 1})

			Expect(res.Success).To(BeTrue())
			Expect(res.Findings).To(HaveLen(1))
			Expect(res.CompletedSteps).To(BeZero())
			Expect(sink.Events()).To(BeEmpty())
		})
	})
})

package research_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"scout.app/research/internal/research"
)

var _ = Describe("MarshalEvent", func() {
	DescribeTable("wraps each variant in the wire envelope",
		func(event research.Event, want string) {
			data, err := research.MarshalEvent(event)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(MatchJSON(want))
		},
		Entry("progress-init",
			research.ProgressInit{MaxDepth: 7, TotalSteps: 35},
			`{"type":"progress-init","content":{"maxDepth":7,"totalSteps":35}}`),
		Entry("depth-delta",
			research.DepthDelta{Current: 2, Max: 7, CompletedSteps: 6, TotalSteps: 35},
			`{"type":"depth-delta","content":{"current":2,"max":7,"completedSteps":6,"totalSteps":35}}`),
		Entry("activity-delta",
			research.ActivityDelta{
				Type:           research.ActivitySearch,
				Status:         research.StatusPending,
				Message:        "Searching for quantum error correction",
				Timestamp:      "2025-06-01T12:00:00Z",
				Depth:          1,
				CompletedSteps: 0,
				TotalSteps:     35,
			},
			`{"type":"activity-delta","content":{
				"type":"search","status":"pending",
				"message":"Searching for quantum error correction",
				"timestamp":"2025-06-01T12:00:00Z",
				"depth":1,"completedSteps":0,"totalSteps":35}}`),
		Entry("source-delta",
			research.SourceDelta{URL: "https://a.example/", Title: "A", Description: "about A"},
			`{"type":"source-delta","content":{"url":"https://a.example/","title":"A","description":"about A"}}`),
		Entry("finish",
			research.Finish{Content: "the analysis"},
			`{"type":"finish","content":{"content":"the analysis"}}`),
	)
})

var _ = Describe("Timestamp", func() {
	It("renders UTC RFC3339 regardless of the input zone", func() {
		loc := time.FixedZone("UTC+2", 2*60*60)
		t := time.Date(2025, 6, 1, 14, 30, 0, 0, loc)
		Expect(research.Timestamp(t)).To(Equal("2025-06-01T12:30:00Z"))
	})
})

var _ = Describe("ChannelSink", func() {
	It("delivers events in emit order", func() {
		sink := research.NewChannelSink(4)
		Expect(sink.Emit(research.ProgressInit{MaxDepth: 1, TotalSteps: 5})).To(Succeed())
		Expect(sink.Emit(research.Finish{Content: "done"})).To(Succeed())
		sink.Close()

		var kinds []research.EventKind
		for e := range sink.Events() {
			kinds = append(kinds, e.Kind())
		}
		Expect(kinds).To(Equal([]research.EventKind{research.KindProgressInit, research.KindFinish}))
	})

	It("drops instead of blocking when the buffer is full", func() {
		sink := research.NewChannelSink(1)
		Expect(sink.Emit(research.Finish{Content: "first"})).To(Succeed())
		Expect(sink.Emit(research.Finish{Content: "second"})).To(Succeed())
		Expect(sink.Dropped()).To(Equal(1))

		e := <-sink.Events()
		Expect(e).To(Equal(research.Finish{Content: "first"}))
	})

	It("counts emits after Close as dropped", func() {
		sink := research.NewChannelSink(1)
		sink.Close()
		Expect(sink.Emit(research.Finish{Content: "late"})).To(Succeed())
		Expect(sink.Dropped()).To(Equal(1))
	})

	It("tolerates a double Close", func() {
		sink := research.NewChannelSink(1)
		sink.Close()
		sink.Close()
	})
})

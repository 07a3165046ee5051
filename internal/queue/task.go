package queue

import "time"

// ResearchJob is the unit of work the background worker runs: one research
// invocation persisted as a report.
type ResearchJob struct {
	ReportID  int64
	Topic     string
	MaxDepth  int
	TimeLimit time.Duration
	TraceID   *string
	Attempt   int
}

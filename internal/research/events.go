package research

import (
	"encoding/json"
	"time"
)

// EventKind discriminates the event variants on the wire.
type EventKind string

const (
	KindProgressInit  EventKind = "progress-init"
	KindDepthDelta    EventKind = "depth-delta"
	KindActivityDelta EventKind = "activity-delta"
	KindSourceDelta   EventKind = "source-delta"
	KindFinish        EventKind = "finish"
)

// ActivityType classifies the unit of work an activity event reports on.
type ActivityType string

const (
	ActivitySearch    ActivityType = "search"
	ActivityExtract   ActivityType = "extract"
	ActivityAnalyze   ActivityType = "analyze"
	ActivityReasoning ActivityType = "reasoning"
	ActivitySynthesis ActivityType = "synthesis"
	ActivityThought   ActivityType = "thought"
)

// ActivityStatus is the lifecycle state of an activity.
type ActivityStatus string

const (
	StatusPending  ActivityStatus = "pending"
	StatusComplete ActivityStatus = "complete"
	StatusError    ActivityStatus = "error"
)

// Event is one tagged entry on the research event stream. Variants are
// the five kinds above; consumers switch on Kind().
type Event interface {
	Kind() EventKind
}

// ProgressInit is the first event of every run.
type ProgressInit struct {
	MaxDepth   int `json:"maxDepth"`
	TotalSteps int `json:"totalSteps"`
}

func (ProgressInit) Kind() EventKind { return KindProgressInit }

// DepthDelta announces entry into a new depth. It precedes all activity
// events for that depth.
type DepthDelta struct {
	Current        int `json:"current"`
	Max            int `json:"max"`
	CompletedSteps int `json:"completedSteps"`
	TotalSteps     int `json:"totalSteps"`
}

func (DepthDelta) Kind() EventKind { return KindDepthDelta }

// ActivityDelta reports one observable unit of work.
type ActivityDelta struct {
	Type           ActivityType   `json:"type"`
	Status         ActivityStatus `json:"status"`
	Message        string         `json:"message"`
	Timestamp      string         `json:"timestamp"`
	Depth          int            `json:"depth"`
	CompletedSteps int            `json:"completedSteps"`
	TotalSteps     int            `json:"totalSteps"`
}

func (ActivityDelta) Kind() EventKind { return KindActivityDelta }

// SourceDelta surfaces one search result to the consumer.
type SourceDelta struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (SourceDelta) Kind() EventKind { return KindSourceDelta }

// Finish carries the final synthesis text. It is the last event of a run.
type Finish struct {
	Content string `json:"content"`
}

func (Finish) Kind() EventKind { return KindFinish }

// MarshalEvent renders an event in the wire envelope {"type": ..., "content": ...}.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(struct {
		Type    EventKind `json:"type"`
		Content Event     `json:"content"`
	}{e.Kind(), e})
}

// Timestamp formats an event timestamp.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

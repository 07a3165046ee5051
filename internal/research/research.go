package research

import (
	"context"
	"strings"
	"time"
)

// Finding is one piece of extracted text paired with the URL it came from.
// Findings are append-only for the lifetime of a run.
type Finding struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// SearchResult describes one result surfaced by the search provider.
type SearchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SearchResponse is the structural outcome of a search call. Provider
// failures arrive as Success=false, never as a panic or a Go error.
type SearchResponse struct {
	Success bool
	Results []SearchResult
	Error   string
}

// ExtractResponse is the structural outcome of an extract call.
type ExtractResponse struct {
	Success  bool
	Findings []Finding
	Error    string
}

// SearchClient queries the external search provider.
type SearchClient interface {
	Search(ctx context.Context, query string) SearchResponse
}

// ExtractClient runs a structured extraction prompt against one URL.
type ExtractClient interface {
	Extract(ctx context.Context, url, prompt string) ExtractResponse
}

// Plan is the Planner's structured continuation decision.
type Plan struct {
	Summary         string
	Gaps            []string
	NextSteps       []string
	ShouldContinue  bool
	NextSearchTopic string // empty means no hint
	URLToSearch     string // empty means no hint
}

// PlanInput is what the Planner reasons over.
type PlanInput struct {
	Topic     string
	Findings  []Finding
	Remaining time.Duration
}

// Planner decides whether and where to continue researching.
type Planner interface {
	Plan(ctx context.Context, in PlanInput) (Plan, error)
}

// Synthesizer produces the final analysis from everything gathered.
type Synthesizer interface {
	Synthesize(ctx context.Context, topic string, findings []Finding, summaries []string) (string, error)
}

// Clients bundles the engine's external capabilities.
type Clients struct {
	Search      SearchClient
	Extract     ExtractClient
	Planner     Planner
	Synthesizer Synthesizer
}

// formatFindings renders findings the way the reasoning prompts expect:
// one "[From <source>]: <text>" line per finding.
func formatFindings(findings []Finding) string {
	lines := make([]string, len(findings))
	for i, f := range findings {
		lines[i] = "[From " + f.Source + "]: " + f.Text
	}
	return strings.Join(lines, "\n")
}

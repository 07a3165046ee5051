package research

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"scout.app/research/common/logger"
)

const (
	DefaultMaxDepth          = 7
	DefaultTimeLimit         = 4*time.Minute + 30*time.Second
	DefaultMaxFailedAttempts = 3

	// stepsPerDepth sizes the progress estimate: search, three extracts,
	// analyze. The real count varies; the consumer clamps to 100%.
	stepsPerDepth = 5

	// maxSearchURLs bounds the fan-out to three search-derived URLs;
	// the planner hint can add a fourth.
	maxSearchURLs = 3
)

// Request starts one research run. MaxDepth of zero is honored (no loop
// iterations, synthesis only); a negative value selects the default.
type Request struct {
	Topic     string
	MaxDepth  int
	TimeLimit time.Duration // 0 means DefaultTimeLimit
}

// Result is the terminal outcome of a run. Findings are always populated,
// also on failure.
type Result struct {
	Success        bool      `json:"success"`
	Findings       []Finding `json:"findings"`
	Analysis       string    `json:"analysis,omitempty"`
	Error          string    `json:"error,omitempty"`
	CompletedSteps int       `json:"completedSteps"`
	TotalSteps     int       `json:"totalSteps"`
}

// Options tune the engine. The zero value gives production behavior.
type Options struct {
	MaxFailedAttempts int
	Now               func() time.Time // test hook, defaults to time.Now
}

// Engine drives iterative research runs: Search, Extract, Plan cycles up
// to a depth bound under a wall-clock deadline, then one Synthesizer call.
// An Engine is stateless across runs and safe for concurrent Run calls.
type Engine struct {
	clients Clients
	opts    Options
}

func NewEngine(clients Clients, opts Options) *Engine {
	if opts.MaxFailedAttempts <= 0 {
		opts.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{clients: clients, opts: opts}
}

// state is the per-run research state. Owned by one Run call; the extract
// fan-out gathers findings per goroutine and appends once all are done, so
// nothing here is touched concurrently.
type state struct {
	findings        []Finding
	summaries       []string
	currentTopic    string
	nextSearchTopic string
	urlToSearch     string
	currentDepth    int
	failedAttempts  int
}

// Run executes one research invocation, emitting events to sink as it
// goes. It never panics across this boundary; all failures come back as a
// Result with Success=false.
func (e *Engine) Run(ctx context.Context, req Request, sink Sink) Result {
	maxDepth := req.MaxDepth
	if maxDepth < 0 {
		maxDepth = DefaultMaxDepth
	}
	timeLimit := req.TimeLimit
	if timeLimit <= 0 {
		timeLimit = DefaultTimeLimit
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Topic:     logger.Ptr(req.Topic),
		Component: "scout.research.engine",
	})

	st := &state{currentTopic: req.Topic}
	totalSteps := maxDepth * stepsPerDepth
	em := newEmitter(sink, totalSteps)

	em.emit(ctx, ProgressInit{MaxDepth: maxDepth, TotalSteps: totalSteps})

	start := e.opts.Now()

	for st.currentDepth < maxDepth {
		if e.opts.Now().Sub(start) >= timeLimit {
			slog.InfoContext(ctx, "time limit reached, stopping research loop",
				"depth", st.currentDepth)
			break
		}

		st.currentDepth++
		depth := st.currentDepth
		dctx := logger.WithLogFields(ctx, logger.LogFields{Depth: logger.Ptr(depth)})

		em.emit(dctx, DepthDelta{
			Current:        depth,
			Max:            maxDepth,
			CompletedSteps: em.completed(),
			TotalSteps:     totalSteps,
		})

		// Hints are consumed by this iteration whether or not it succeeds.
		searchTopic := st.nextSearchTopic
		if searchTopic == "" {
			searchTopic = st.currentTopic
		}
		urlHint := st.urlToSearch
		st.nextSearchTopic = ""
		st.urlToSearch = ""

		// Search phase.
		em.activity(dctx, e.opts.Now(), ActivitySearch, StatusPending, "Searching for "+searchTopic, depth)

		searchResp := e.clients.Search.Search(dctx, searchTopic)
		if !searchResp.Success {
			msg := "Search failed for " + searchTopic
			if searchResp.Error != "" {
				msg += ": " + searchResp.Error
			}
			em.activity(dctx, e.opts.Now(), ActivitySearch, StatusError, msg, depth)
			st.failedAttempts++
			slog.WarnContext(dctx, "search failed",
				"query", searchTopic,
				"failed_attempts", st.failedAttempts,
				"error", searchResp.Error)
			if st.failedAttempts >= e.opts.MaxFailedAttempts {
				break
			}
			continue
		}

		em.activity(dctx, e.opts.Now(), ActivitySearch, StatusComplete,
			fmt.Sprintf("Found %d results", len(searchResp.Results)), depth)

		for _, r := range searchResp.Results {
			em.emit(dctx, SourceDelta{URL: r.URL, Title: r.Title, Description: r.Description})
		}

		// Extract phase: up to three search URLs plus the planner hint,
		// fanned out concurrently.
		urls := make([]string, 0, maxSearchURLs+1)
		if urlHint != "" {
			urls = append(urls, urlHint)
		}
		for i, r := range searchResp.Results {
			if i >= maxSearchURLs {
				break
			}
			urls = append(urls, r.URL)
		}

		st.findings = append(st.findings, e.extractAll(dctx, em, urls, st.currentTopic, depth)...)

		// Analyze phase.
		em.activity(dctx, e.opts.Now(), ActivityAnalyze, StatusPending, "Analyzing findings", depth)

		remaining := timeLimit - e.opts.Now().Sub(start)
		plan, err := e.clients.Planner.Plan(dctx, PlanInput{
			Topic:     req.Topic,
			Findings:  st.findings,
			Remaining: remaining,
		})
		if err != nil {
			em.activity(dctx, e.opts.Now(), ActivityAnalyze, StatusError, "Analysis failed: "+err.Error(), depth)
			st.failedAttempts++
			slog.WarnContext(dctx, "planner failed",
				"failed_attempts", st.failedAttempts,
				"error", err)
			if st.failedAttempts >= e.opts.MaxFailedAttempts {
				break
			}
			continue
		}

		st.nextSearchTopic = plan.NextSearchTopic
		st.urlToSearch = plan.URLToSearch
		st.summaries = append(st.summaries, plan.Summary)

		em.activity(dctx, e.opts.Now(), ActivityAnalyze, StatusComplete, plan.Summary, depth)

		if !plan.ShouldContinue || len(plan.Gaps) == 0 {
			slog.InfoContext(dctx, "planner concluded research",
				"should_continue", plan.ShouldContinue,
				"gaps", len(plan.Gaps))
			break
		}
		st.currentTopic = plan.Gaps[0]
	}

	// Synthesis always runs, also after failures and deadline exhaustion.
	em.activity(ctx, e.opts.Now(), ActivitySynthesis, StatusPending, "Preparing final analysis", st.currentDepth)

	analysis, err := e.clients.Synthesizer.Synthesize(ctx, req.Topic, st.findings, st.summaries)
	if err != nil {
		em.activity(ctx, e.opts.Now(), ActivityThought, StatusError, "Research failed: "+err.Error(), st.currentDepth)
		slog.ErrorContext(ctx, "synthesis failed", "error", err)
		return Result{
			Success:        false,
			Findings:       st.findings,
			Error:          err.Error(),
			CompletedSteps: em.completed(),
			TotalSteps:     totalSteps,
		}
	}

	em.activity(ctx, e.opts.Now(), ActivitySynthesis, StatusComplete, "Research completed", st.currentDepth)
	em.emit(ctx, Finish{Content: analysis})

	slog.InfoContext(ctx, "research completed",
		"findings", len(st.findings),
		"depth", st.currentDepth,
		"completed_steps", em.completed())

	return Result{
		Success:        true,
		Findings:       st.findings,
		Analysis:       analysis,
		CompletedSteps: em.completed(),
		TotalSteps:     totalSteps,
	}
}

// extractAll fans out one extract call per URL and gathers the findings.
// Individual failures are swallowed: a failed URL contributes an error
// activity and zero findings.
func (e *Engine) extractAll(ctx context.Context, em *emitter, urls []string, topic string, depth int) []Finding {
	if len(urls) == 0 {
		return nil
	}

	prompt := "Extract key information relevant to the research topic: " + topic

	var wg sync.WaitGroup
	gathered := make([][]Finding, len(urls))

	for i, u := range urls {
		em.activity(ctx, e.opts.Now(), ActivityExtract, StatusPending, "Extracting from "+u, depth)

		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()

			resp := e.clients.Extract.Extract(ctx, u, prompt)
			if !resp.Success {
				msg := "Extraction failed for " + hostOf(u)
				if resp.Error != "" {
					msg += ": " + resp.Error
				}
				em.activity(ctx, e.opts.Now(), ActivityExtract, StatusError, msg, depth)
				return
			}

			gathered[i] = resp.Findings
			em.activity(ctx, e.opts.Now(), ActivityExtract, StatusComplete, "Extracted from "+hostOf(u), depth)
		}(i, u)
	}
	wg.Wait()

	var findings []Finding
	for _, fs := range gathered {
		findings = append(findings, fs...)
	}
	return findings
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

// emitter serializes sink writes and owns the completedSteps counter, so
// the counter always matches the complete activities the sink observed.
// After the first failed write it elides further events; the loop keeps
// running since its side effects are write-only.
type emitter struct {
	mu         sync.Mutex
	sink       Sink
	totalSteps int
	steps      int
	broken     bool
}

func newEmitter(sink Sink, totalSteps int) *emitter {
	return &emitter{sink: sink, totalSteps: totalSteps}
}

func (em *emitter) emit(ctx context.Context, e Event) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.send(ctx, e)
}

func (em *emitter) activity(ctx context.Context, now time.Time, typ ActivityType, status ActivityStatus, message string, depth int) {
	em.mu.Lock()
	defer em.mu.Unlock()

	steps := em.steps
	if status == StatusComplete {
		steps++
	}

	ok := em.send(ctx, ActivityDelta{
		Type:           typ,
		Status:         status,
		Message:        message,
		Timestamp:      Timestamp(now),
		Depth:          depth,
		CompletedSteps: steps,
		TotalSteps:     em.totalSteps,
	})

	// Count the step only once the event was observed.
	if ok && status == StatusComplete {
		em.steps = steps
	}
}

func (em *emitter) send(ctx context.Context, e Event) bool {
	if em.broken {
		return false
	}
	if err := em.sink.Emit(e); err != nil {
		em.broken = true
		slog.WarnContext(ctx, "event sink failed, eliding further events", "error", err)
		return false
	}
	return true
}

func (em *emitter) completed() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.steps
}

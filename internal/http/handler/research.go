package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"scout.app/research/common/id"
	"scout.app/research/common/llm"
	"scout.app/research/core/config"
	"scout.app/research/internal/model"
	"scout.app/research/internal/queue"
	"scout.app/research/internal/research"
	"scout.app/research/internal/store"
)

// EngineFactory builds an engine bound to a specific reasoning model.
type EngineFactory func(model string) (*research.Engine, error)

// ResearchHandler serves the research API: a synchronous SSE stream and an
// async job flow backed by the queue and the report store.
type ResearchHandler struct {
	engine    *research.Engine
	engineFor EngineFactory
	producer  queue.Producer
	reports   *store.ReportStore
	defaults  config.ResearchConfig
	model     string
}

func NewResearchHandler(engine *research.Engine, engineFor EngineFactory, producer queue.Producer, reports *store.ReportStore, defaults config.ResearchConfig, modelName string) *ResearchHandler {
	return &ResearchHandler{
		engine:    engine,
		engineFor: engineFor,
		producer:  producer,
		reports:   reports,
		defaults:  defaults,
		model:     modelName,
	}
}

type researchRequest struct {
	Topic     string `json:"topic" binding:"required"`
	MaxDepth  *int   `json:"maxDepth"`
	TimeLimit *int   `json:"timeLimitSeconds"`
	Model     string `json:"model"`
}

func (h *ResearchHandler) buildRequest(req researchRequest) research.Request {
	out := research.Request{
		Topic:     req.Topic,
		MaxDepth:  h.defaults.MaxDepth,
		TimeLimit: h.defaults.TimeLimit,
	}
	if req.MaxDepth != nil && *req.MaxDepth >= 0 {
		out.MaxDepth = *req.MaxDepth
	}
	if req.TimeLimit != nil && *req.TimeLimit > 0 {
		out.TimeLimit = time.Duration(*req.TimeLimit) * time.Second
	}
	return out
}

// Stream runs the research loop inline and streams its events as SSE
// frames, one event per frame, flushed as they happen.
func (h *ResearchHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	var req researchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: topic is required"})
		return
	}

	engine := h.selectEngine(ctx, req.Model)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Flush()

	sink := research.NewChannelSink(h.defaults.SinkBuffer)

	done := make(chan research.Result, 1)
	go func() {
		defer sink.Close()
		done <- engine.Run(ctx, h.buildRequest(req), sink)
	}()

	h.writeEvents(c, sink.Events())

	result := <-done
	slog.InfoContext(ctx, "research stream finished",
		"success", result.Success,
		"findings", len(result.Findings),
		"dropped_events", sink.Dropped())
}

// selectEngine resolves the engine for a requested model. The model must be
// reasoning-capable; the configured default is substituted when it is not.
func (h *ResearchHandler) selectEngine(ctx context.Context, requested string) *research.Engine {
	if requested == "" || requested == h.model {
		return h.engine
	}

	if !llm.IsReasoningModel(requested) {
		slog.InfoContext(ctx, "requested model is not reasoning-capable, substituting default",
			"requested", requested,
			"substituted", h.model)
		return h.engine
	}

	if h.engineFor == nil {
		return h.engine
	}
	engine, err := h.engineFor(requested)
	if err != nil {
		slog.WarnContext(ctx, "failed to build engine for requested model, using default",
			"requested", requested,
			"error", err)
		return h.engine
	}
	return engine
}

// writeEvents drains the sink to the SSE writer until the stream closes or
// the client goes away. The engine keeps running either way; its events
// are simply dropped by the sink once the buffer fills.
func (h *ResearchHandler) writeEvents(c *gin.Context, events <-chan research.Event) {
	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "client disconnected from research stream")
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(c.Writer, event); err != nil {
				slog.WarnContext(ctx, "failed to write stream event", "error", err)
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeSSEEvent(w io.Writer, event research.Event) error {
	payload, err := research.MarshalEvent(event)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

type createReportResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Create enqueues a background research job and returns the report ID.
func (h *ResearchHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req researchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: topic is required"})
		return
	}

	runReq := h.buildRequest(req)

	report := &model.Report{
		ID:         id.New(),
		Topic:      runReq.Topic,
		Status:     model.ReportStatusQueued,
		TotalSteps: runReq.MaxDepth * 5,
	}
	if err := h.reports.Create(ctx, report); err != nil {
		slog.ErrorContext(ctx, "failed to create report", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create report"})
		return
	}

	job := queue.ResearchJob{
		ReportID:  report.ID,
		Topic:     runReq.Topic,
		MaxDepth:  runReq.MaxDepth,
		TimeLimit: runReq.TimeLimit,
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		traceID := span.SpanContext().TraceID().String()
		job.TraceID = &traceID
	}

	if err := h.producer.Enqueue(ctx, job); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue research job", "error", err, "report_id", report.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue research job"})
		return
	}

	c.JSON(http.StatusAccepted, createReportResponse{
		ID:     report.ID,
		Status: string(report.Status),
	})
}

// Get serves a stored report by ID.
func (h *ResearchHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	reportID, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
		return
	}

	report, err := h.reports.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to get report", "error", err, "report_id", reportID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get report"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// List serves the most recent reports.
func (h *ResearchHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	reports, err := h.reports.List(ctx, 50)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list reports", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

package model

import (
	"time"

	"scout.app/research/internal/research"
)

type ReportStatus string

const (
	ReportStatusQueued    ReportStatus = "queued"
	ReportStatusRunning   ReportStatus = "running"
	ReportStatusCompleted ReportStatus = "completed"
	ReportStatusFailed    ReportStatus = "failed"
)

// Report is a persisted research run: the topic, the final analysis, and
// the findings that back it. Intermediate loop state is never stored.
type Report struct {
	ID             int64              `json:"id"`
	Topic          string             `json:"topic"`
	Status         ReportStatus       `json:"status"`
	Analysis       *string            `json:"analysis,omitempty"`
	Findings       []research.Finding `json:"findings"`
	CompletedSteps int                `json:"completedSteps"`
	TotalSteps     int                `json:"totalSteps"`
	Error          *string            `json:"error,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	CompletedAt    *time.Time         `json:"completedAt,omitempty"`
}

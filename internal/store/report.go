package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"scout.app/research/core/db"
	"scout.app/research/internal/model"
	"scout.app/research/internal/research"
)

var ErrNotFound = errors.New("not found")

// DBTX is satisfied by both pgxpool.Pool and pgx.Tx, so queries work inside
// and outside transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ReportStore persists research reports.
type ReportStore struct {
	db *db.DB
}

func NewReportStore(database *db.DB) *ReportStore {
	return &ReportStore{db: database}
}

func (s *ReportStore) Create(ctx context.Context, report *model.Report) error {
	findings, err := marshalFindings(report.Findings)
	if err != nil {
		return err
	}

	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO reports (id, topic, status, findings, completed_steps, total_steps)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		report.ID, report.Topic, report.Status, findings, report.CompletedSteps, report.TotalSteps)

	if err := row.Scan(&report.CreatedAt); err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	return nil
}

func (s *ReportStore) GetByID(ctx context.Context, id int64) (*model.Report, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT id, topic, status, analysis, findings, completed_steps, total_steps,
		       error, created_at, completed_at
		FROM reports
		WHERE id = $1`, id)

	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting report: %w", err)
	}
	return report, nil
}

func (s *ReportStore) List(ctx context.Context, limit int) ([]*model.Report, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, topic, status, analysis, findings, completed_steps, total_steps,
		       error, created_at, completed_at
		FROM reports
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var reports []*model.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// MarkRunning transitions a queued report to running.
func (s *ReportStore) MarkRunning(ctx context.Context, id int64) error {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE reports SET status = $2 WHERE id = $1`,
		id, model.ReportStatusRunning)
	if err != nil {
		return fmt.Errorf("marking report running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete stores the finished run's analysis and findings. Runs inside a
// transaction with a row lock: when a reclaimed duplicate races the
// original worker, the first terminal write wins and the loser is a no-op.
func (s *ReportStore) Complete(ctx context.Context, id int64, result research.Result) error {
	findings, err := marshalFindings(result.Findings)
	if err != nil {
		return err
	}

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		status, err := lockStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if isTerminal(status) {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE reports
			SET status = $2, analysis = $3, findings = $4,
			    completed_steps = $5, total_steps = $6, completed_at = $7
			WHERE id = $1`,
			id, model.ReportStatusCompleted, result.Analysis, findings,
			result.CompletedSteps, result.TotalSteps, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("completing report: %w", err)
		}
		return nil
	})
}

// Fail records a terminal failure, keeping whatever findings were gathered.
// Same locking discipline as Complete.
func (s *ReportStore) Fail(ctx context.Context, id int64, result research.Result, errMsg string) error {
	findings, err := marshalFindings(result.Findings)
	if err != nil {
		return err
	}

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		status, err := lockStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if isTerminal(status) {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE reports
			SET status = $2, findings = $3, completed_steps = $4, total_steps = $5,
			    error = $6, completed_at = $7
			WHERE id = $1`,
			id, model.ReportStatusFailed, findings,
			result.CompletedSteps, result.TotalSteps, errMsg, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failing report: %w", err)
		}
		return nil
	})
}

func lockStatus(ctx context.Context, q DBTX, id int64) (model.ReportStatus, error) {
	var status model.ReportStatus
	err := q.QueryRow(ctx, `SELECT status FROM reports WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("locking report: %w", err)
	}
	return status, nil
}

func isTerminal(status model.ReportStatus) bool {
	return status == model.ReportStatusCompleted || status == model.ReportStatusFailed
}

func marshalFindings(findings []research.Finding) ([]byte, error) {
	if findings == nil {
		findings = []research.Finding{}
	}
	data, err := json.Marshal(findings)
	if err != nil {
		return nil, fmt.Errorf("marshal findings: %w", err)
	}
	return data, nil
}

func scanReport(row pgx.Row) (*model.Report, error) {
	var (
		report   model.Report
		findings []byte
	)
	if err := row.Scan(
		&report.ID, &report.Topic, &report.Status, &report.Analysis, &findings,
		&report.CompletedSteps, &report.TotalSteps, &report.Error,
		&report.CreatedAt, &report.CompletedAt,
	); err != nil {
		return nil, err
	}
	if len(findings) > 0 {
		if err := json.Unmarshal(findings, &report.Findings); err != nil {
			return nil, fmt.Errorf("unmarshal findings: %w", err)
		}
	}
	return &report, nil
}

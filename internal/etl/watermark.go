package etl

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/awesome-inc/warehouse-etl/pkg/models"
)

// beginningOfTime is the watermark returned before any successful run
// exists; the first run extracts everything.
var beginningOfTime = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// SQLWatermarkStore keeps the append-only run log in the warehouse.
// The watermark is the start timestamp of the latest SUCCESS run: rows
// modified while that run was executing fall after it and are picked
// up again, which the idempotent loader makes safe.
type SQLWatermarkStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLWatermarkStore returns a store backed by the warehouse handle.
func NewSQLWatermarkStore(db *sql.DB, logger *slog.Logger) *SQLWatermarkStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SQLWatermarkStore{db: db, logger: logger}
}

// LastSuccessfulRun returns the current watermark.
func (s *SQLWatermarkStore) LastSuccessfulRun(ctx context.Context) (time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(run_started_at) FROM etl_run_log WHERE status = $1`,
		string(models.RunSuccess),
	).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("query last successful run: %w", err)
	}
	if !last.Valid {
		s.logger.Info("no prior successful run, extracting from the beginning")
		return beginningOfTime, nil
	}
	return last.Time.UTC(), nil
}

// RecordRun appends one run-log row. Rows are never mutated afterwards.
func (s *SQLWatermarkStore) RecordRun(ctx context.Context, outcome models.RunOutcome) error {
	var errClass sql.NullString
	if outcome.ErrorClass != "" {
		errClass = sql.NullString{String: outcome.ErrorClass, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO etl_run_log (run_started_at, run_finished_at, status, rows_processed, error_class)
		 VALUES ($1, $2, $3, $4, $5)`,
		outcome.StartedAt, outcome.FinishedAt, string(outcome.Status), outcome.RowsProcessed, errClass,
	)
	if err != nil {
		return fmt.Errorf("record run outcome: %w", err)
	}
	s.logger.Info("run recorded",
		slog.String("status", string(outcome.Status)),
		slog.Int("rows_processed", outcome.RowsProcessed))
	return nil
}

// RecentRuns returns the last n run outcomes, newest first.
func (s *SQLWatermarkStore) RecentRuns(ctx context.Context, n int) ([]models.RunOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_started_at, run_finished_at, status, rows_processed, error_class
		 FROM etl_run_log ORDER BY run_started_at DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var outcomes []models.RunOutcome
	for rows.Next() {
		var o models.RunOutcome
		var status string
		var errClass sql.NullString
		if err := rows.Scan(&o.StartedAt, &o.FinishedAt, &status, &o.RowsProcessed, &errClass); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		o.Status = models.RunStatus(status)
		o.ErrorClass = errClass.String
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Package audit keeps the history of budget check cycles in the shared
// database, one row per run.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/store"
)

// DefaultLimit caps Query when no limit is given.
const DefaultLimit = 100

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("check run not found")

// Logger writes and queries check run entries.
type Logger struct {
	q             store.Querier
	retentionDays int
}

// New returns a logger on s. Runs older than retentionDays are removed by
// Cleanup; zero keeps everything.
func New(s *store.Store, retentionDays int) *Logger {
	return &Logger{q: s.DB(), retentionDays: retentionDays}
}

// Log stores a run. Logging the same run ID again replaces the earlier entry.
func (l *Logger) Log(ctx context.Context, run models.CheckRun) error {
	if l == nil {
		return nil
	}
	_, err := l.q.ExecContext(ctx,
		`INSERT OR REPLACE INTO check_runs
		(run_id, started_at, finished_at, evaluated, skipped, breaches, recorded,
		 suppressed, notified, undelivered, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Evaluated, run.Skipped, run.Breaches, run.Recorded,
		run.Suppressed, run.Notified, run.Undelivered, run.Failed, run.Error,
	)
	if err != nil {
		return fmt.Errorf("log check run: %w", err)
	}
	return nil
}

const selectRuns = `SELECT run_id, started_at, finished_at, evaluated, skipped, breaches,
	recorded, suppressed, notified, undelivered, failed, error FROM check_runs`

// Query returns runs newest first.
func (l *Logger) Query(ctx context.Context, opts models.CheckRunQueryOpts) ([]models.CheckRun, error) {
	q := selectRuns + " WHERE 1=1"
	var args []any

	if !opts.Since.IsZero() {
		q += " AND started_at >= ?"
		args = append(args, opts.Since.UTC())
	}
	if opts.FailedOnly {
		q += " AND (failed > 0 OR error != '')"
	}

	q += " ORDER BY started_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query check runs: %w", err)
	}
	defer rows.Close()

	var runs []models.CheckRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns one run by ID.
func (l *Logger) Get(ctx context.Context, runID string) (models.CheckRun, error) {
	r, err := scanRun(l.q.QueryRowContext(ctx, selectRuns+" WHERE run_id = ?", runID))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (models.CheckRun, error) {
	var r models.CheckRun
	err := s.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Evaluated, &r.Skipped, &r.Breaches,
		&r.Recorded, &r.Suppressed, &r.Notified, &r.Undelivered, &r.Failed, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return r, err
	}
	if err != nil {
		return r, fmt.Errorf("scan check run: %w", err)
	}
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	return r, nil
}

// Cleanup deletes runs that started before the retention period, as of now.
func (l *Logger) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	if l == nil || l.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.UTC().AddDate(0, 0, -l.retentionDays)
	res, err := l.q.ExecContext(ctx, `DELETE FROM check_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("check run cleanup: %w", err)
	}
	return res.RowsAffected()
}

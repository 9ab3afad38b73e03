// Package alerts is the alert ledger: one row per recorded budget breach,
// with a delivery flag that only ever moves from pending to notified.
package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/store"
)

// ErrNotFound is returned when no alert has the given ID.
var ErrNotFound = errors.New("alert not found")

// Ledger records breaches and their delivery status.
type Ledger interface {
	// Record stores a candidate as a pending alert. If an alert already exists
	// for the same budget, window start and tier, nothing is stored and created
	// is false; id is then the existing alert's ID.
	Record(ctx context.Context, c models.AlertCandidate) (id int64, created bool, err error)
	// MarkNotified flags an alert as delivered. It is a no-op for an alert that
	// is already notified.
	MarkNotified(ctx context.Context, id int64) error
	// Query returns alerts matching f in ID order.
	Query(ctx context.Context, f Filter) ([]models.BudgetAlert, error)
	// HighestTier returns the highest tier alerted for a budget window.
	HighestTier(ctx context.Context, budgetID int64, windowStart time.Time) (int, bool, error)
}

// Filter selects alerts. Nil fields match everything.
type Filter struct {
	BudgetID *int64
	Notified *bool
	Limit    int
}

// Pending matches alerts that have not been delivered yet.
func Pending() Filter {
	notified := false
	return Filter{Notified: &notified}
}

// SQLiteLedger implements Ledger on the shared cloudcost database.
type SQLiteLedger struct {
	q store.Querier
}

// New returns an alert ledger on s.
func New(s *store.Store) *SQLiteLedger {
	return &SQLiteLedger{q: s.DB()}
}

// Bind returns an alert ledger that runs every statement on q.
func Bind(q store.Querier) *SQLiteLedger {
	return &SQLiteLedger{q: q}
}

// Record stores a pending alert unless its (budget, window, tier) already exists.
func (l *SQLiteLedger) Record(ctx context.Context, c models.AlertCandidate) (int64, bool, error) {
	windowStart := c.Window.Start.Format(models.DateLayout)
	res, err := l.q.ExecContext(ctx,
		`INSERT INTO budget_alerts
		(budget_id, actual_cost, currency, percentage_over, tier, window_start, window_end, evaluated_at, notified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(budget_id, window_start, tier) DO NOTHING`,
		c.BudgetID, c.ActualCost.String(), currencyOrDefault(c.Currency), c.PercentageOver.String(), c.Tier,
		windowStart, c.Window.End.Format(models.DateLayout), c.EvaluatedAt.UTC(),
	)
	if err != nil {
		return 0, false, fmt.Errorf("record alert: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("record alert: %w", err)
	}
	if n == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("record alert id: %w", err)
		}
		return id, true, nil
	}

	var id int64
	err = l.q.QueryRowContext(ctx,
		`SELECT id FROM budget_alerts WHERE budget_id = ? AND window_start = ? AND tier = ?`,
		c.BudgetID, windowStart, c.Tier,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("lookup existing alert: %w", err)
	}
	return id, false, nil
}

// MarkNotified flags an alert as delivered.
func (l *SQLiteLedger) MarkNotified(ctx context.Context, id int64) error {
	res, err := l.q.ExecContext(ctx,
		`UPDATE budget_alerts SET notified = 1, notified_at = ? WHERE id = ? AND notified = 0`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark alert notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark alert notified: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := l.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM budget_alerts WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("mark alert notified: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// Query returns alerts matching f.
func (l *SQLiteLedger) Query(ctx context.Context, f Filter) ([]models.BudgetAlert, error) {
	q := `SELECT id, budget_id, actual_cost, currency, percentage_over, tier, window_start, window_end,
		evaluated_at, notified, notified_at
		FROM budget_alerts WHERE 1=1`
	var args []any

	if f.BudgetID != nil {
		q += " AND budget_id = ?"
		args = append(args, *f.BudgetID)
	}
	if f.Notified != nil {
		q += " AND notified = ?"
		if *f.Notified {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}

	q += " ORDER BY id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.BudgetAlert
	for rows.Next() {
		var (
			a                       models.BudgetAlert
			actual, pct, start, end string
			notifiedAt              sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.BudgetID, &actual, &a.Currency, &pct, &a.Tier, &start, &end,
			&a.EvaluatedAt, &a.Notified, &notifiedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if a.ActualCost, err = decimal.NewFromString(actual); err != nil {
			return nil, fmt.Errorf("alert %d actual cost: %w", a.ID, err)
		}
		if a.PercentageOver, err = decimal.NewFromString(pct); err != nil {
			return nil, fmt.Errorf("alert %d percentage: %w", a.ID, err)
		}
		if a.Window.Start, err = models.ParseDate(start); err != nil {
			return nil, fmt.Errorf("alert %d window: %w", a.ID, err)
		}
		if a.Window.End, err = models.ParseDate(end); err != nil {
			return nil, fmt.Errorf("alert %d window: %w", a.ID, err)
		}
		if notifiedAt.Valid {
			t := notifiedAt.Time.UTC()
			a.NotifiedAt = &t
		}
		a.EvaluatedAt = a.EvaluatedAt.UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func currencyOrDefault(c string) string {
	if c == "" {
		return models.DefaultCurrency
	}
	return c
}

// HighestTier returns the highest tier already recorded for a budget window.
func (l *SQLiteLedger) HighestTier(ctx context.Context, budgetID int64, windowStart time.Time) (int, bool, error) {
	var tier sql.NullInt64
	err := l.q.QueryRowContext(ctx,
		`SELECT MAX(tier) FROM budget_alerts WHERE budget_id = ? AND window_start = ?`,
		budgetID, models.Day(windowStart).Format(models.DateLayout),
	).Scan(&tier)
	if err != nil {
		return 0, false, fmt.Errorf("highest alert tier: %w", err)
	}
	if !tier.Valid {
		return 0, false, nil
	}
	return int(tier.Int64), true, nil
}

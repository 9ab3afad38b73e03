// Package ledger is the append-only cost ledger. Records are normalized to one
// canonical schema when they are written, never at query time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/store"
)

// ErrInvalidRecord is returned when a cost record fails normalization.
var ErrInvalidRecord = errors.New("invalid cost record")

// Ledger appends and queries cost records.
type Ledger interface {
	// Append normalizes and stores records. Duplicates are stored as distinct rows.
	Append(ctx context.Context, records []models.CostRecord) (int, error)
	// Query returns records dated within [start, end], optionally for one provider.
	Query(ctx context.Context, start, end time.Time, provider models.Provider) ([]models.CostRecord, error)
	// Summary returns totals grouped by provider, service and currency.
	Summary(ctx context.Context, start, end time.Time) ([]models.CostSummary, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(q store.Querier) error) error
}

// SQLiteLedger implements Ledger on the shared cloudcost database.
type SQLiteLedger struct {
	q  store.Querier
	tx txRunner
}

// New returns a ledger whose appends each run in their own transaction.
func New(s *store.Store) *SQLiteLedger {
	return &SQLiteLedger{q: s.DB(), tx: s}
}

// Bind returns a ledger that runs every statement on q, typically a
// transaction the caller already holds.
func Bind(q store.Querier) *SQLiteLedger {
	return &SQLiteLedger{q: q}
}

// Normalize validates rec and converts it to the canonical form: UTC calendar
// date, canonical provider name, trimmed service and upper-case currency.
func Normalize(rec models.CostRecord) (models.CostRecord, error) {
	if rec.Date.IsZero() {
		return rec, fmt.Errorf("%w: missing date", ErrInvalidRecord)
	}
	rec.Date = models.Day(rec.Date)

	p, err := models.ParseProvider(string(rec.Provider))
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	rec.Provider = p

	rec.Service = strings.TrimSpace(rec.Service)
	if rec.Service == "" {
		return rec, fmt.Errorf("%w: missing service", ErrInvalidRecord)
	}

	rec.Currency = strings.ToUpper(strings.TrimSpace(rec.Currency))
	if rec.Currency == "" {
		rec.Currency = models.DefaultCurrency
	}
	if len(rec.Currency) != 3 {
		return rec, fmt.Errorf("%w: bad currency %q", ErrInvalidRecord, rec.Currency)
	}
	return rec, nil
}

// Append normalizes every record first, so a bad record stores nothing, then
// inserts them all.
func (l *SQLiteLedger) Append(ctx context.Context, records []models.CostRecord) (int, error) {
	normalized := make([]models.CostRecord, 0, len(records))
	for i, rec := range records {
		n, err := Normalize(rec)
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		normalized = append(normalized, n)
	}
	if len(normalized) == 0 {
		return 0, nil
	}

	if l.tx == nil {
		return insertAll(ctx, l.q, normalized)
	}
	var n int
	err := l.tx.WithTx(ctx, func(q store.Querier) error {
		var err error
		n, err = insertAll(ctx, q, normalized)
		return err
	})
	return n, err
}

func insertAll(ctx context.Context, q store.Querier, records []models.CostRecord) (int, error) {
	for i, rec := range records {
		_, err := q.ExecContext(ctx,
			`INSERT INTO cost_records (date, provider, service, amount, currency, ingested_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Date.Format(models.DateLayout), string(rec.Provider), rec.Service,
			rec.Amount.String(), rec.Currency, time.Now().UTC(),
		)
		if err != nil {
			return i, fmt.Errorf("append cost record: %w", err)
		}
	}
	return len(records), nil
}

// Query returns records dated within [start, end] in date order. An empty
// provider matches all providers.
func (l *SQLiteLedger) Query(ctx context.Context, start, end time.Time, provider models.Provider) ([]models.CostRecord, error) {
	query := `SELECT id, date, provider, service, amount, currency FROM cost_records
		WHERE date >= ? AND date <= ?`
	args := []any{models.Day(start).Format(models.DateLayout), models.Day(end).Format(models.DateLayout)}
	if provider != "" {
		query += ` AND provider = ?`
		args = append(args, string(provider))
	}
	query += ` ORDER BY date, id`

	rows, err := l.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cost records: %w", err)
	}
	defer rows.Close()

	var records []models.CostRecord
	for rows.Next() {
		var (
			r                  models.CostRecord
			date, amount, prov string
		)
		if err := rows.Scan(&r.ID, &date, &prov, &r.Service, &amount, &r.Currency); err != nil {
			return nil, fmt.Errorf("scan cost record: %w", err)
		}
		if r.Date, err = models.ParseDate(date); err != nil {
			return nil, fmt.Errorf("cost record %d: %w", r.ID, err)
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("cost record %d amount: %w", r.ID, err)
		}
		r.Provider = models.Provider(prov)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary totals the records in [start, end] by provider, service and currency.
// Sums are computed in decimal, not by SQLite, to keep amounts exact.
func (l *SQLiteLedger) Summary(ctx context.Context, start, end time.Time) ([]models.CostSummary, error) {
	records, err := l.Query(ctx, start, end, "")
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	type key struct {
		provider models.Provider
		service  string
		currency string
	}
	groups := make(map[key]*models.CostSummary)
	for _, r := range records {
		k := key{r.Provider, r.Service, r.Currency}
		s, ok := groups[k]
		if !ok {
			s = &models.CostSummary{Provider: r.Provider, Service: r.Service, Currency: r.Currency}
			groups[k] = s
		}
		s.RecordCount++
		s.Total = s.Total.Add(r.Amount)
	}

	summaries := make([]models.CostSummary, 0, len(groups))
	for _, s := range groups {
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		return a.Currency < b.Currency
	})
	return summaries, nil
}

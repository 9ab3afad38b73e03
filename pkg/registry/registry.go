// Package registry stores budget definitions.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/store"
)

var (
	// ErrInvalidBudget is returned when a budget fails validation.
	ErrInvalidBudget = errors.New("invalid budget")
	// ErrDuplicateName is returned when a budget name is already registered.
	ErrDuplicateName = errors.New("budget name already exists")
	// ErrNotFound is returned when no budget matches.
	ErrNotFound = errors.New("budget not found")
)

// Registry is the durable store of budget definitions. Budgets are immutable
// once added; they can only be removed.
type Registry interface {
	// Add validates and stores a budget, returning it with ID and CreatedAt set.
	Add(ctx context.Context, b models.Budget) (models.Budget, error)
	// List returns all budgets in registration order.
	List(ctx context.Context) ([]models.Budget, error)
	// Get returns a budget by ID.
	Get(ctx context.Context, id int64) (models.Budget, error)
	// GetByName returns a budget by its unique name.
	GetByName(ctx context.Context, name string) (models.Budget, error)
	// Remove deletes a budget and, by cascade, its alerts.
	Remove(ctx context.Context, id int64) error
}

// SQLiteRegistry implements Registry on the shared cloudcost database.
type SQLiteRegistry struct {
	q store.Querier
}

// New returns a registry on s.
func New(s *store.Store) *SQLiteRegistry {
	return &SQLiteRegistry{q: s.DB()}
}

// Bind returns a registry that runs every statement on q.
func Bind(q store.Querier) *SQLiteRegistry {
	return &SQLiteRegistry{q: q}
}

// Validate checks b and returns its normalized form. A service scope without a
// provider scope is rejected because service names are provider-specific.
func Validate(b models.Budget) (models.Budget, error) {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return b, fmt.Errorf("%w: name is required", ErrInvalidBudget)
	}
	if strings.ContainsFunc(b.Name, unicode.IsControl) {
		return b, fmt.Errorf("%w: name %q contains control characters", ErrInvalidBudget, b.Name)
	}
	if !b.Amount.IsPositive() {
		return b, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidBudget)
	}
	b.Period = models.BudgetPeriod(strings.ToLower(strings.TrimSpace(string(b.Period))))
	if b.Period == "" {
		b.Period = models.BudgetMonthly
	}
	if !b.Period.Valid() {
		return b, fmt.Errorf("%w: unknown period %q (want monthly, quarterly or yearly)", ErrInvalidBudget, b.Period)
	}
	if b.Provider != "" {
		p, err := models.ParseProvider(string(b.Provider))
		if err != nil {
			return b, fmt.Errorf("%w: %v", ErrInvalidBudget, err)
		}
		b.Provider = p
	}
	b.Service = strings.TrimSpace(b.Service)
	if strings.ContainsFunc(b.Service, unicode.IsControl) {
		return b, fmt.Errorf("%w: service %q contains control characters", ErrInvalidBudget, b.Service)
	}
	if b.Service != "" && b.Provider == "" {
		return b, fmt.Errorf("%w: service %q requires a provider", ErrInvalidBudget, b.Service)
	}
	return b, nil
}

// Add validates and stores a budget.
func (r *SQLiteRegistry) Add(ctx context.Context, b models.Budget) (models.Budget, error) {
	b, err := Validate(b)
	if err != nil {
		return b, err
	}

	if _, err := r.GetByName(ctx, b.Name); err == nil {
		return b, fmt.Errorf("%w: %q", ErrDuplicateName, b.Name)
	} else if !errors.Is(err, ErrNotFound) {
		return b, err
	}

	b.CreatedAt = time.Now().UTC()
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO budgets (name, amount, period, provider, service, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.Name, b.Amount.String(), string(b.Period), string(b.Provider), b.Service, b.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return b, fmt.Errorf("%w: %q", ErrDuplicateName, b.Name)
		}
		return b, fmt.Errorf("add budget: %w", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return b, fmt.Errorf("add budget id: %w", err)
	}
	return b, nil
}

const selectBudget = `SELECT id, name, amount, period, provider, service, created_at FROM budgets`

// List returns all budgets ordered by ID.
func (r *SQLiteRegistry) List(ctx context.Context) ([]models.Budget, error) {
	rows, err := r.q.QueryContext(ctx, selectBudget+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []models.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// Get returns a budget by ID.
func (r *SQLiteRegistry) Get(ctx context.Context, id int64) (models.Budget, error) {
	b, err := scanBudget(r.q.QueryRowContext(ctx, selectBudget+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return b, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return b, err
}

// GetByName returns a budget by name.
func (r *SQLiteRegistry) GetByName(ctx context.Context, name string) (models.Budget, error) {
	b, err := scanBudget(r.q.QueryRowContext(ctx, selectBudget+` WHERE name = ?`, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return b, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return b, err
}

// Remove deletes a budget by ID.
func (r *SQLiteRegistry) Remove(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove budget: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove budget: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanBudget reads a row without validating the period, so budgets stored by
// older versions with periods the evaluator does not know still load.
func scanBudget(s scanner) (models.Budget, error) {
	var (
		b                        models.Budget
		amount, period, provider string
	)
	if err := s.Scan(&b.ID, &b.Name, &amount, &period, &provider, &b.Service, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("scan budget: %w", err)
	}
	var err error
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return b, fmt.Errorf("budget %d amount: %w", b.ID, err)
	}
	b.Period = models.BudgetPeriod(period)
	b.Provider = models.Provider(provider)
	return b, nil
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertCandidate is a breach found by the evaluator that has not been persisted yet.
type AlertCandidate struct {
	BudgetID       int64           `json:"budget_id"`
	ActualCost     decimal.Decimal `json:"actual_cost"`
	Currency       string          `json:"currency"`
	PercentageOver decimal.Decimal `json:"percentage_over"`
	Tier           int             `json:"tier"`
	Window         Window          `json:"window"`
	EvaluatedAt    time.Time       `json:"evaluated_at"`
}

// BudgetAlert is a persisted breach. Notified only ever moves from false to true.
type BudgetAlert struct {
	ID             int64           `json:"id"`
	BudgetID       int64           `json:"budget_id"`
	ActualCost     decimal.Decimal `json:"actual_cost"`
	Currency       string          `json:"currency"`
	PercentageOver decimal.Decimal `json:"percentage_over"`
	Tier           int             `json:"tier"`
	Window         Window          `json:"window"`
	EvaluatedAt    time.Time       `json:"evaluated_at"`
	Notified       bool            `json:"notified"`
	NotifiedAt     *time.Time      `json:"notified_at,omitempty"`
}

// DispatchResult reports which notification channels delivered an alert.
type DispatchResult struct {
	EmailSent bool `json:"email_sent"`
	ChatSent  bool `json:"chat_sent"`
}

// Delivered reports whether at least one channel succeeded.
func (r DispatchResult) Delivered() bool {
	return r.EmailSent || r.ChatSent
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetPeriod defines the calendar window a budget is measured over.
type BudgetPeriod string

const (
	BudgetMonthly   BudgetPeriod = "monthly"
	BudgetQuarterly BudgetPeriod = "quarterly"
	BudgetYearly    BudgetPeriod = "yearly"
)

// Valid reports whether p is a period the evaluator knows how to window.
func (p BudgetPeriod) Valid() bool {
	switch p {
	case BudgetMonthly, BudgetQuarterly, BudgetYearly:
		return true
	}
	return false
}

// Budget is a named spending threshold with optional provider and service scope.
// An empty Provider or Service means "all".
type Budget struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	Period    BudgetPeriod    `json:"period"`
	Provider  Provider        `json:"provider,omitempty"`
	Service   string          `json:"service,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProviderLabel returns the provider scope for display.
func (b Budget) ProviderLabel() string {
	if b.Provider == "" {
		return "All"
	}
	return string(b.Provider)
}

// ServiceLabel returns the service scope for display.
func (b Budget) ServiceLabel() string {
	if b.Service == "" {
		return "All"
	}
	return b.Service
}

// Window is an inclusive range of UTC calendar dates.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) String() string {
	return w.Start.Format(DateLayout) + " to " + w.End.Format(DateLayout)
}

// BudgetStatus shows current spend against a budget. Amounts are in Currency,
// the currency of the matched spend.
type BudgetStatus struct {
	Budget      Budget          `json:"budget"`
	Window      Window          `json:"window"`
	Spent       decimal.Decimal `json:"spent"`
	Currency    string          `json:"currency"`
	Remaining   decimal.Decimal `json:"remaining"`
	PercentUsed decimal.Decimal `json:"percent_used"`
	Skipped     bool            `json:"skipped,omitempty"`
}

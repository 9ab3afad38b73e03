// Package budget evaluates budgets against the cost ledger: it computes each
// budget's period window, sums matching spend and detects breaches.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pario-ai/cloudcost/pkg/logging"
	"github.com/pario-ai/cloudcost/pkg/models"
)

var hundred = decimal.NewFromInt(100)

// CostSource is the read side of the cost ledger.
type CostSource interface {
	Query(ctx context.Context, start, end time.Time, provider models.Provider) ([]models.CostRecord, error)
}

// Evaluation is the outcome of checking one budget.
type Evaluation struct {
	Budget         models.Budget
	Window         models.Window
	Spent          decimal.Decimal
	Records        int
	Currencies     []string
	Skipped        bool
	Breached       bool
	PercentageOver decimal.Decimal
	Tier           int
	EvaluatedAt    time.Time
}

// Currency is the currency of the matched spend. Mixed or absent spend
// reports DefaultCurrency.
func (e Evaluation) Currency() string {
	if len(e.Currencies) == 1 && e.Currencies[0] != "" {
		return e.Currencies[0]
	}
	return models.DefaultCurrency
}

// Candidate converts a breached evaluation into an alert candidate.
func (e Evaluation) Candidate() models.AlertCandidate {
	return models.AlertCandidate{
		BudgetID:       e.Budget.ID,
		ActualCost:     e.Spent,
		Currency:       e.Currency(),
		PercentageOver: e.PercentageOver,
		Tier:           e.Tier,
		Window:         e.Window,
		EvaluatedAt:    e.EvaluatedAt,
	}
}

// Evaluator checks budgets against spend in the cost ledger.
type Evaluator struct {
	costs  CostSource
	tiers  []decimal.Decimal
	logger *zap.Logger
}

// New creates an Evaluator. tiers are the ascending percent-over thresholds
// used to grade a breach's severity.
func New(costs CostSource, tiers []float64, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		costs:  costs,
		tiers:  lo.Map(tiers, func(t float64, _ int) decimal.Decimal { return decimal.NewFromFloat(t) }),
		logger: logging.OrNop(logger),
	}
}

// Evaluate computes current-period spend for b as of now. Budgets with an
// unknown period or a non-positive amount come back Skipped with no error.
// Missing cost data is zero spend.
func (e *Evaluator) Evaluate(ctx context.Context, b models.Budget, now time.Time) (Evaluation, error) {
	now = now.UTC()
	ev := Evaluation{Budget: b, Spent: decimal.Zero, EvaluatedAt: now}

	window, ok := PeriodWindow(now, b.Period)
	if !ok {
		e.logger.Debug("skipping budget with unknown period",
			zap.Int64("budget_id", b.ID), zap.String("budget", b.Name), zap.String("period", string(b.Period)))
		ev.Skipped = true
		return ev, nil
	}
	ev.Window = window

	if !b.Amount.IsPositive() {
		e.logger.Warn("skipping budget with non-positive amount",
			zap.Int64("budget_id", b.ID), zap.String("budget", b.Name), zap.String("amount", b.Amount.String()))
		ev.Skipped = true
		return ev, nil
	}

	records, err := e.costs.Query(ctx, window.Start, window.End, b.Provider)
	if err != nil {
		return ev, fmt.Errorf("evaluate budget %q: %w", b.Name, err)
	}
	if b.Service != "" {
		records = lo.Filter(records, func(r models.CostRecord, _ int) bool { return r.Service == b.Service })
	}

	ev.Records = len(records)
	ev.Spent = lo.Reduce(records, func(sum decimal.Decimal, r models.CostRecord, _ int) decimal.Decimal {
		return sum.Add(r.Amount)
	}, decimal.Zero)
	ev.Currencies = lo.Uniq(lo.Map(records, func(r models.CostRecord, _ int) string { return r.Currency }))
	if len(ev.Currencies) > 1 {
		e.logger.Warn("budget spend mixes currencies; amounts are summed without conversion",
			zap.String("budget", b.Name), zap.Strings("currencies", ev.Currencies))
	}

	if Breached(ev.Spent, b.Amount) {
		ev.Breached = true
		ev.PercentageOver = PercentageOver(ev.Spent, b.Amount)
		ev.Tier = e.Tier(ev.PercentageOver)
	}

	e.logger.Debug("budget evaluated",
		zap.Int64("budget_id", b.ID),
		zap.String("budget", b.Name),
		zap.String("window_start", window.Start.Format(models.DateLayout)),
		zap.String("window_end", window.End.Format(models.DateLayout)),
		zap.String("spent", ev.Spent.StringFixed(2)),
		zap.Int("records", ev.Records),
		zap.Bool("breached", ev.Breached),
	)
	return ev, nil
}

// Status reports spend against every budget as of now, for display.
func (e *Evaluator) Status(ctx context.Context, budgets []models.Budget, now time.Time) ([]models.BudgetStatus, error) {
	statuses := make([]models.BudgetStatus, 0, len(budgets))
	for _, b := range budgets {
		ev, err := e.Evaluate(ctx, b, now)
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		st := models.BudgetStatus{
			Budget:   b,
			Window:   ev.Window,
			Spent:    ev.Spent,
			Currency: ev.Currency(),
			Skipped:  ev.Skipped,
		}
		if !ev.Skipped {
			st.Remaining = decimal.Max(b.Amount.Sub(ev.Spent), decimal.Zero)
			st.PercentUsed = ev.Spent.Div(b.Amount).Mul(hundred).Round(2)
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Tier grades a breach: the number of escalation thresholds pct has reached.
// A breach below the first threshold is tier 0.
func (e *Evaluator) Tier(pct decimal.Decimal) int {
	tier := 0
	for _, t := range e.tiers {
		if pct.GreaterThanOrEqual(t) {
			tier++
		}
	}
	return tier
}

// Breached reports whether spent strictly exceeds amount.
func Breached(spent, amount decimal.Decimal) bool {
	return spent.GreaterThan(amount)
}

// PercentageOver returns (spent-amount)/amount*100, rounded to 4 places. It is
// zero for a non-positive amount.
func PercentageOver(spent, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return spent.Sub(amount).Div(amount).Mul(hundred).Round(4)
}

package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/notify"
)

const timeLayout = "2006-01-02 15:04:05"

func formatBudgets(budgets []models.Budget) string {
	if len(budgets) == 0 {
		return "No budgets defined."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%4s  %-24s %14s %-10s %-8s %-20s\n", "ID", "Name", "Amount", "Period", "Provider", "Service")
	b.WriteString(strings.Repeat("-", 86) + "\n")
	for _, bu := range budgets {
		fmt.Fprintf(&b, "%4d  %-24s %14s %-10s %-8s %-20s\n",
			bu.ID, clip(bu.Name, 24), notify.Money(bu.Amount), bu.Period, bu.ProviderLabel(), clip(bu.ServiceLabel(), 20))
	}
	return b.String()
}

func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budgets defined."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-10s %14s %14s %14s %8s\n", "Budget", "Period", "Amount", "Spent", "Remaining", "Used")
	b.WriteString(strings.Repeat("-", 89) + "\n")
	for _, st := range statuses {
		if st.Skipped {
			fmt.Fprintf(&b, "%-24s %-10s %14s %14s %14s %8s\n",
				clip(st.Budget.Name, 24), st.Budget.Period, notify.Money(st.Budget.Amount), "-", "-", "n/a")
			continue
		}
		fmt.Fprintf(&b, "%-24s %-10s %14s %14s %14s %7s%%\n",
			clip(st.Budget.Name, 24), st.Budget.Period, notify.Amount(st.Budget.Amount, st.Currency),
			notify.Amount(st.Spent, st.Currency), notify.Amount(st.Remaining, st.Currency), st.PercentUsed.StringFixed(1))
	}
	return b.String()
}

func formatCostReport(summaries []models.CostSummary, w models.Window) string {
	if len(summaries) == 0 {
		return fmt.Sprintf("No cost data found for %s.", w)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Costs from %s\n\n", w)
	fmt.Fprintf(&b, "%-8s %-30s %8s %18s\n", "Provider", "Service", "Records", "Total")
	b.WriteString(strings.Repeat("-", 67) + "\n")

	totals := make(map[string]decimal.Decimal)
	for _, s := range summaries {
		fmt.Fprintf(&b, "%-8s %-30s %8d %18s\n",
			s.Provider, clip(s.Service, 30), s.RecordCount, notify.Amount(s.Total, s.Currency))
		totals[s.Currency] = totals[s.Currency].Add(s.Total)
	}
	b.WriteString(strings.Repeat("-", 67) + "\n")

	currencies := lo.Keys(totals)
	sort.Strings(currencies)
	for _, c := range currencies {
		fmt.Fprintf(&b, "%48s %18s\n", "Total:", notify.Amount(totals[c], c))
	}
	return b.String()
}

func formatAlerts(list []models.BudgetAlert, budgets []models.Budget) string {
	if len(list) == 0 {
		return "No alerts found."
	}
	names := lo.SliceToMap(budgets, func(b models.Budget) (int64, string) { return b.ID, b.Name })

	var b strings.Builder
	fmt.Fprintf(&b, "%5s  %-24s %-24s %14s %9s %4s  %-8s\n", "ID", "Budget", "Window", "Actual", "Over", "Tier", "Notified")
	b.WriteString(strings.Repeat("-", 98) + "\n")
	for _, a := range list {
		name, ok := names[a.BudgetID]
		if !ok {
			name = fmt.Sprintf("#%d", a.BudgetID)
		}
		notified := "no"
		if a.Notified {
			notified = "yes"
		}
		fmt.Fprintf(&b, "%5d  %-24s %-24s %14s %8s%% %4d  %-8s\n",
			a.ID, clip(name, 24), a.Window, notify.Amount(a.ActualCost, a.Currency), a.PercentageOver.StringFixed(1), a.Tier, notified)
	}
	return b.String()
}

func formatCheckRuns(runs []models.CheckRun) string {
	if len(runs) == 0 {
		return "No check runs recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-36s %9s %8s %8s %8s %6s\n", "Started", "Run ID", "Evaluated", "Breaches", "Recorded", "Notified", "Failed")
	b.WriteString(strings.Repeat("-", 101) + "\n")
	for _, r := range runs {
		fmt.Fprintf(&b, "%-20s %-36s %9d %8d %8d %8d %6d\n",
			r.StartedAt.UTC().Format(timeLayout), r.RunID, r.Evaluated, r.Breaches, r.Recorded, r.Notified, r.Failed)
		if r.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", r.Error)
		}
	}
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

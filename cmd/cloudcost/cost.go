package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/pario-ai/cloudcost/pkg/ledger"
	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/notify"
)

func newCostCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Inspect the cost ledger",
	}

	var since, until string
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Show spend by provider and service",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			start := beginningOfMonth(now)
			end := models.Day(now)
			var err error
			if since != "" {
				if start, err = models.ParseDate(since); err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
			}
			if until != "" {
				if end, err = models.ParseDate(until); err != nil {
					return fmt.Errorf("invalid --until date (use YYYY-MM-DD): %w", err)
				}
			}
			if end.Before(start) {
				return fmt.Errorf("--until %s is before --since %s", end.Format(models.DateLayout), start.Format(models.DateLayout))
			}

			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			summaries, err := ledger.New(e.store).Summary(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			fmt.Printf("Costs from %s to %s\n\n", start.Format(models.DateLayout), end.Format(models.DateLayout))
			fmt.Print(formatCostTable(summaries))
			return nil
		},
	}
	reportCmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")
	reportCmd.Flags().StringVar(&until, "until", "", "end date (YYYY-MM-DD, default: today)")

	cmd.AddCommand(reportCmd)
	return cmd
}

func beginningOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// formatCostTable renders summaries with one total line per currency.
func formatCostTable(summaries []models.CostSummary) string {
	if len(summaries) == 0 {
		return "No cost data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %-30s %8s %18s\n", "PROVIDER", "SERVICE", "RECORDS", "TOTAL")
	b.WriteString(strings.Repeat("-", 67) + "\n")

	totals := make(map[string]decimal.Decimal)
	for _, s := range summaries {
		fmt.Fprintf(&b, "%-8s %-30s %8d %18s\n",
			s.Provider, truncate(s.Service, 30), s.RecordCount, notify.Amount(s.Total, s.Currency))
		totals[s.Currency] = totals[s.Currency].Add(s.Total)
	}
	b.WriteString(strings.Repeat("-", 67) + "\n")

	currencies := make([]string, 0, len(totals))
	for c := range totals {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	for _, c := range currencies {
		fmt.Fprintf(&b, "%48s %18s\n", "TOTAL:", notify.Amount(totals[c], c))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/pario-ai/cloudcost/pkg/alerts"
	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/notify"
	"github.com/pario-ai/cloudcost/pkg/registry"
)

func newAlertsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect recorded budget alerts",
	}

	var (
		budgetID int64
		pending  bool
		notified bool
		limit    int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			f := alerts.Filter{Limit: limit}
			if cmd.Flags().Changed("budget-id") {
				f.BudgetID = &budgetID
			}
			switch {
			case pending:
				f = withNotified(f, false)
			case notified:
				f = withNotified(f, true)
			}

			list, err := alerts.New(e.store).Query(cmd.Context(), f)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No alerts found.")
				return nil
			}

			budgets, err := registry.New(e.store).List(cmd.Context())
			if err != nil {
				return err
			}
			names := lo.SliceToMap(budgets, func(b models.Budget) (int64, string) { return b.ID, b.Name })

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBUDGET\tWINDOW\tACTUAL\tOVER\tTIER\tEVALUATED\tNOTIFIED")
			for _, a := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s%%\t%d\t%s\t%s\n",
					a.ID, names[a.BudgetID], a.Window, notify.Amount(a.ActualCost, a.Currency),
					a.PercentageOver.StringFixed(1), a.Tier, a.EvaluatedAt.Format(time.RFC3339), notifiedLabel(a))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().Int64Var(&budgetID, "budget-id", 0, "only alerts for this budget")
	listCmd.Flags().BoolVar(&pending, "pending", false, "only alerts not yet delivered")
	listCmd.Flags().BoolVar(&notified, "notified", false, "only delivered alerts")
	listCmd.Flags().IntVar(&limit, "limit", 0, "maximum number of alerts (0 = all)")
	listCmd.MarkFlagsMutuallyExclusive("pending", "notified")

	cmd.AddCommand(listCmd)
	return cmd
}

func withNotified(f alerts.Filter, v bool) alerts.Filter {
	f.Notified = &v
	return f
}

func notifiedLabel(a models.BudgetAlert) string {
	if !a.Notified {
		return "pending"
	}
	if a.NotifiedAt == nil {
		return "yes"
	}
	return a.NotifiedAt.Format(time.RFC3339)
}

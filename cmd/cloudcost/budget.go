package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/cloudcost/pkg/audit"
	"github.com/pario-ai/cloudcost/pkg/budget"
	"github.com/pario-ai/cloudcost/pkg/ledger"
	"github.com/pario-ai/cloudcost/pkg/metrics"
	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/notify"
	"github.com/pario-ai/cloudcost/pkg/registry"
	"github.com/pario-ai/cloudcost/pkg/runner"
	"github.com/pario-ai/cloudcost/pkg/scheduler"
)

func newBudgetCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage budgets and check spend against them",
	}
	cmd.AddCommand(
		newBudgetAddCmd(opts),
		newBudgetListCmd(opts),
		newBudgetRemoveCmd(opts),
		newBudgetStatusCmd(opts),
		newBudgetCheckCmd(opts),
		newBudgetWatchCmd(opts),
		newBudgetRunsCmd(opts),
	)
	return cmd
}

func newBudgetAddCmd(opts *globalOptions) *cobra.Command {
	var (
		name     string
		amount   string
		period   string
		provider string
		service  string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}

			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			b, err := registry.New(e.store).Add(cmd.Context(), models.Budget{
				Name:     name,
				Amount:   amt,
				Period:   models.BudgetPeriod(period),
				Provider: models.Provider(provider),
				Service:  service,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Budget '%s' added (id %d): %s %s, provider %s, service %s\n",
				b.Name, b.ID, notify.Money(b.Amount), b.Period, b.ProviderLabel(), b.ServiceLabel())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "unique budget name")
	cmd.Flags().StringVar(&amount, "amount", "", "budget amount")
	cmd.Flags().StringVar(&period, "period", string(models.BudgetMonthly), "monthly, quarterly or yearly")
	cmd.Flags().StringVar(&provider, "provider", "", "limit to one provider (AWS, GCP, Azure)")
	cmd.Flags().StringVar(&service, "service", "", "limit to one service (requires --provider)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newBudgetListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List budgets",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			budgets, err := registry.New(e.store).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(budgets) == 0 {
				fmt.Println("No budgets defined.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tAMOUNT\tPERIOD\tPROVIDER\tSERVICE\tCREATED")
			for _, b := range budgets {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					b.ID, b.Name, notify.Money(b.Amount), b.Period, b.ProviderLabel(), b.ServiceLabel(),
					b.CreatedAt.UTC().Format(models.DateLayout))
			}
			return w.Flush()
		},
	}
}

func newBudgetRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id|name>",
		Short: "Remove a budget and its alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			reg := registry.New(e.store)
			var b models.Budget
			if id, perr := strconv.ParseInt(args[0], 10, 64); perr == nil {
				b, err = reg.Get(cmd.Context(), id)
			} else {
				b, err = reg.GetByName(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			if err := reg.Remove(cmd.Context(), b.ID); err != nil {
				return err
			}
			fmt.Printf("Budget '%s' removed.\n", b.Name)
			return nil
		},
	}
}

func newBudgetStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current-period spend against each budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			budgets, err := registry.New(e.store).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(budgets) == 0 {
				fmt.Println("No budgets defined.")
				return nil
			}

			ev := budget.New(ledger.New(e.store), e.cfg.Alerts.EscalationTiers, e.logger)
			statuses, err := ev.Status(cmd.Context(), budgets, time.Now())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPERIOD\tWINDOW\tBUDGET\tSPENT\tREMAINING\tUSED")
			for _, s := range statuses {
				if s.Skipped {
					fmt.Fprintf(w, "%s\t%s\t-\t%s\t-\t-\t(skipped)\n",
						s.Budget.Name, s.Budget.Period, notify.Money(s.Budget.Amount))
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s%%\n",
					s.Budget.Name, s.Budget.Period, s.Window, notify.Amount(s.Budget.Amount, s.Currency),
					notify.Amount(s.Spent, s.Currency), notify.Amount(s.Remaining, s.Currency), s.PercentUsed.StringFixed(1))
			}
			return w.Flush()
		},
	}
}

func newRunner(e *env, m *metrics.Collector) *runner.Runner {
	var auditLog *audit.Logger
	if e.cfg.Audit.Enabled {
		auditLog = audit.New(e.store, e.cfg.Audit.RetentionDays)
	}
	return runner.New(e.store, notify.NewDispatcher(e.cfg.Notify, e.logger), runner.Options{
		Tiers:   e.cfg.Alerts.EscalationTiers,
		Out:     os.Stdout,
		Metrics: m,
		Audit:   auditLog,
		Logger:  e.logger,
	})
}

func newBudgetCheckCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one budget check cycle and send alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			rep, err := newRunner(e, nil).Run(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("budget check: %w", err)
			}
			if rep.Errors != nil {
				return fmt.Errorf("budget check: %d budget(s) could not be evaluated: %w", rep.Failed, rep.Errors)
			}
			return nil
		},
	}
}

func newBudgetWatchCmd(opts *globalOptions) *cobra.Command {
	var (
		schedule    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Check budgets now and then on a schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if schedule == "" {
				schedule = e.cfg.Schedule.Cron
			}
			if metricsAddr == "" {
				metricsAddr = e.cfg.Metrics.Listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.NewCollector(e.cfg.Metrics.Namespace, nil)
			r := newRunner(e, m)
			check := func(ctx context.Context) error {
				_, err := r.Run(ctx, time.Now())
				return err
			}

			sched, err := scheduler.New(schedule, check, e.logger)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, m, e.logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			if err := check(ctx); err != nil {
				e.logger.Error("initial budget check failed", zap.Error(err))
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			if next := sched.NextRun(); next != nil {
				fmt.Printf("Next budget check at %s\n", next.Format(time.RFC3339))
			}

			<-ctx.Done()
			sched.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression or @every interval (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func newBudgetRunsCmd(opts *globalOptions) *cobra.Command {
	var (
		limit      int
		failedOnly bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent budget check cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			runs, err := audit.New(e.store, e.cfg.Audit.RetentionDays).Query(cmd.Context(), models.CheckRunQueryOpts{
				FailedOnly: failedOnly,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No budget checks recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tDURATION\tEVALUATED\tRECORDED\tSUPPRESSED\tNOTIFIED\tPENDING\tFAILED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
					r.StartedAt.Format(time.RFC3339), r.Duration().Round(time.Millisecond),
					r.Evaluated, r.Recorded, r.Suppressed, r.Notified, r.Undelivered, r.Failed, r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only runs with errors")
	return cmd
}

func serveMetrics(addr string, m *metrics.Collector, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

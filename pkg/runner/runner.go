// Package runner executes one budget check cycle: evaluate every budget,
// record new breaches, then deliver every pending alert.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pario-ai/cloudcost/pkg/alerts"
	"github.com/pario-ai/cloudcost/pkg/audit"
	"github.com/pario-ai/cloudcost/pkg/budget"
	"github.com/pario-ai/cloudcost/pkg/ledger"
	"github.com/pario-ai/cloudcost/pkg/logging"
	"github.com/pario-ai/cloudcost/pkg/metrics"
	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/notify"
	"github.com/pario-ai/cloudcost/pkg/registry"
	"github.com/pario-ai/cloudcost/pkg/store"
)

// Dispatcher delivers one alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, n notify.Notice) models.DispatchResult
}

// Options configures a Runner. Zero values are usable.
type Options struct {
	// Tiers are the escalation thresholds passed to the evaluator.
	Tiers   []float64
	Out     io.Writer
	Metrics *metrics.Collector
	// Audit, when set, receives one entry per cycle.
	Audit  *audit.Logger
	Logger *zap.Logger
}

// Report summarizes one cycle.
type Report struct {
	RunID       string
	Evaluated   int
	Skipped     int
	Breaches    int
	Recorded    int
	Suppressed  int
	Notified    int
	Undelivered int
	// Failed counts budgets whose spend could not be read.
	Failed int
	Errors error
}

// Runner runs budget check cycles against one store.
type Runner struct {
	store      *store.Store
	dispatcher Dispatcher
	tiers      []float64
	out        io.Writer
	metrics    *metrics.Collector
	audit      *audit.Logger
	logger     *zap.Logger
}

// New creates a Runner.
func New(s *store.Store, d Dispatcher, opts Options) *Runner {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		store:      s,
		dispatcher: d,
		tiers:      opts.Tiers,
		out:        out,
		metrics:    opts.Metrics,
		audit:      opts.Audit,
		logger:     logging.OrNop(opts.Logger),
	}
}

// readError marks a failure to read a budget's spend. It ends that budget's
// evaluation but not the cycle.
type readError struct{ err error }

func (e *readError) Error() string { return e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

// Run executes one cycle as of now. A returned error means the cycle was cut
// short by a persistence failure; per-budget read failures are collected in
// Report.Errors instead.
func (r *Runner) Run(ctx context.Context, now time.Time) (rep Report, err error) {
	now = now.UTC()
	rep.RunID = uuid.NewString()
	log := r.logger.With(zap.String("run_id", rep.RunID))
	started := time.Now()
	defer func() {
		r.metrics.RecordCycle(err, time.Since(started))
		r.logRun(ctx, rep, started, err, log)
		log.Info("budget check finished",
			zap.Int("evaluated", rep.Evaluated),
			zap.Int("skipped", rep.Skipped),
			zap.Int("recorded", rep.Recorded),
			zap.Int("suppressed", rep.Suppressed),
			zap.Int("notified", rep.Notified),
			zap.Int("failed", rep.Failed),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
	}()

	r.printf("[%s] Checking budgets...\n", now.Format(time.RFC3339))

	budgets, err := registry.New(r.store).List(ctx)
	if err != nil {
		return rep, fmt.Errorf("list budgets: %w", err)
	}
	if len(budgets) == 0 {
		r.printf("No budgets defined.\n")
	}

	for _, b := range budgets {
		if err := r.evaluate(ctx, b, now, &rep, log); err != nil {
			var re *readError
			if !errors.As(err, &re) {
				return rep, err
			}
			rep.Failed++
			rep.Errors = multierr.Append(rep.Errors, fmt.Errorf("budget %q: %w", b.Name, re.err))
			r.metrics.RecordEvaluation("failed")
			r.printf("Failed to evaluate budget '%s': %v\n", b.Name, re.err)
		}
	}

	if err := r.dispatchPending(ctx, budgets, &rep, log); err != nil {
		return rep, err
	}

	r.printf("Done: %d evaluated, %d recorded, %d suppressed, %d notified, %d pending.\n",
		rep.Evaluated, rep.Recorded, rep.Suppressed, rep.Notified, rep.Undelivered)
	return rep, nil
}

// evaluate checks one budget and records its breach, all inside one
// transaction so the spend it reads cannot change before the alert is written.
func (r *Runner) evaluate(ctx context.Context, b models.Budget, now time.Time, rep *Report, log *zap.Logger) error {
	var (
		ev       budget.Evaluation
		recorded bool
	)
	err := r.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		ev, err = budget.New(ledger.Bind(q), r.tiers, log).Evaluate(ctx, b, now)
		if err != nil {
			return &readError{err: err}
		}
		if !ev.Breached {
			return nil
		}

		history := alerts.Bind(q)
		cand := ev.Candidate()
		ok, err := budget.ShouldRecord(ctx, history, cand)
		if err != nil || !ok {
			return err
		}
		_, recorded, err = history.Record(ctx, cand)
		return err
	})
	if err != nil {
		return err
	}

	if ev.Skipped {
		rep.Skipped++
		r.metrics.RecordEvaluation("skipped")
		return nil
	}
	rep.Evaluated++
	spent, _ := ev.Spent.Float64()
	r.metrics.SetSpend(b.Name, spent)

	if !ev.Breached {
		r.metrics.RecordEvaluation("ok")
		r.printf("Budget '%s': %s of %s spent (%s)\n",
			b.Name, notify.Amount(ev.Spent, ev.Currency()), notify.Amount(b.Amount, ev.Currency()), ev.Window)
		return nil
	}

	rep.Breaches++
	r.metrics.RecordEvaluation("breached")
	r.metrics.RecordAlert(recorded)
	if recorded {
		rep.Recorded++
		r.printf("Budget '%s' exceeded by %s%%: alert recorded (tier %d)\n",
			b.Name, ev.PercentageOver.StringFixed(1), ev.Tier)
		return nil
	}
	rep.Suppressed++
	r.printf("Budget '%s' exceeded by %s%%: already alerted for this window\n",
		b.Name, ev.PercentageOver.StringFixed(1))
	return nil
}

// dispatchPending delivers every alert still waiting for a notification,
// including ones left undelivered by earlier cycles.
func (r *Runner) dispatchPending(ctx context.Context, budgets []models.Budget, rep *Report, log *zap.Logger) error {
	alertLedger := alerts.New(r.store)
	pending, err := alertLedger.Query(ctx, alerts.Pending())
	if err != nil {
		return fmt.Errorf("load pending alerts: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	r.printf("Found %d pending budget alerts.\n", len(pending))

	byID := lo.KeyBy(budgets, func(b models.Budget) int64 { return b.ID })
	for _, a := range pending {
		b, ok := byID[a.BudgetID]
		if !ok {
			log.Warn("pending alert for unknown budget", zap.Int64("alert_id", a.ID), zap.Int64("budget_id", a.BudgetID))
			continue
		}

		r.printf("Processing alert for budget '%s'...\n", b.Name)
		res := r.dispatcher.Dispatch(ctx, notify.Notice{Alert: a, Budget: b})
		r.metrics.RecordNotification("email", res.EmailSent)
		r.metrics.RecordNotification("chat", res.ChatSent)

		if !res.Delivered() {
			rep.Undelivered++
			r.printf("Failed to send notifications for budget '%s'\n", b.Name)
			continue
		}
		if err := alertLedger.MarkNotified(ctx, a.ID); err != nil {
			return fmt.Errorf("alert %d: %w", a.ID, err)
		}
		rep.Notified++
		r.printf("Notifications sent for budget '%s'\n", b.Name)
	}
	return nil
}

// logRun writes the cycle to the audit log. Audit failures are logged only.
func (r *Runner) logRun(ctx context.Context, rep Report, started time.Time, err error, log *zap.Logger) {
	if r.audit == nil {
		return
	}
	run := models.CheckRun{
		RunID:       rep.RunID,
		StartedAt:   started.UTC(),
		FinishedAt:  time.Now().UTC(),
		Evaluated:   rep.Evaluated,
		Skipped:     rep.Skipped,
		Breaches:    rep.Breaches,
		Recorded:    rep.Recorded,
		Suppressed:  rep.Suppressed,
		Notified:    rep.Notified,
		Undelivered: rep.Undelivered,
		Failed:      rep.Failed,
	}
	if cycleErr := multierr.Append(err, rep.Errors); cycleErr != nil {
		run.Error = cycleErr.Error()
	}
	if lerr := r.audit.Log(ctx, run); lerr != nil {
		log.Warn("audit log write failed", zap.Error(lerr))
		return
	}
	if n, cerr := r.audit.Cleanup(ctx, run.FinishedAt); cerr != nil {
		log.Warn("audit cleanup failed", zap.Error(cerr))
	} else if n > 0 {
		log.Debug("pruned old check runs", zap.Int64("deleted", n))
	}
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/store"
)

func mustNew(t *testing.T, retentionDays int) *Logger {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "audit_test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, retentionDays)
}

func sampleRun(id string, started time.Time) models.CheckRun {
	return models.CheckRun{
		RunID:      id,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Evaluated:  3,
		Skipped:    1,
		Breaches:   2,
		Recorded:   1,
		Suppressed: 1,
		Notified:   1,
	}
}

var base = time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

func TestLogAndGet(t *testing.T) {
	l := mustNew(t, 90)
	ctx := context.Background()

	run := sampleRun("run-001", base)
	if err := l.Log(ctx, run); err != nil {
		t.Fatalf("Log: %v", err)
	}

	got, err := l.Get(ctx, "run-001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Evaluated != 3 || got.Recorded != 1 || got.Suppressed != 1 {
		t.Errorf("unexpected counts: %+v", got)
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, base)
	}
	if got.Duration() != 1500*time.Millisecond {
		t.Errorf("duration = %v", got.Duration())
	}
}

func TestGetUnknown(t *testing.T) {
	l := mustNew(t, 90)
	if _, err := l.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLogReplacesSameRun(t *testing.T) {
	l := mustNew(t, 90)
	ctx := context.Background()

	run := sampleRun("run-001", base)
	_ = l.Log(ctx, run)
	run.Error = "list budgets: database is locked"
	if err := l.Log(ctx, run); err != nil {
		t.Fatalf("Log: %v", err)
	}

	runs, err := l.Query(ctx, models.CheckRunQueryOpts{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Error == "" {
		t.Error("expected replaced entry to carry the error")
	}
}

func TestQueryFilters(t *testing.T) {
	l := mustNew(t, 90)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		run := sampleRun(id, base.Add(time.Duration(i)*time.Hour))
		if id == "b" {
			run.Failed = 1
		}
		if err := l.Log(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := l.Query(ctx, models.CheckRunQueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 || runs[0].RunID != "c" || runs[2].RunID != "a" {
		t.Errorf("expected newest first, got %+v", runs)
	}

	runs, _ = l.Query(ctx, models.CheckRunQueryOpts{Since: base.Add(30 * time.Minute)})
	if len(runs) != 2 {
		t.Errorf("since filter: expected 2, got %d", len(runs))
	}

	runs, _ = l.Query(ctx, models.CheckRunQueryOpts{FailedOnly: true})
	if len(runs) != 1 || runs[0].RunID != "b" {
		t.Errorf("failed filter: got %+v", runs)
	}

	runs, _ = l.Query(ctx, models.CheckRunQueryOpts{Limit: 1})
	if len(runs) != 1 {
		t.Errorf("limit: expected 1, got %d", len(runs))
	}
}

func TestCleanup(t *testing.T) {
	l := mustNew(t, 30)
	ctx := context.Background()

	_ = l.Log(ctx, sampleRun("old", base.AddDate(0, 0, -45)))
	_ = l.Log(ctx, sampleRun("new", base.AddDate(0, 0, -5)))

	n, err := l.Cleanup(ctx, base)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	if _, err := l.Get(ctx, "new"); err != nil {
		t.Errorf("recent run should survive: %v", err)
	}
}

func TestCleanupDisabled(t *testing.T) {
	l := mustNew(t, 0)
	ctx := context.Background()
	_ = l.Log(ctx, sampleRun("old", base.AddDate(-2, 0, 0)))

	n, err := l.Cleanup(ctx, base)
	if err != nil || n != 0 {
		t.Errorf("expected no cleanup, got %d, %v", n, err)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleRun("x", base)); err != nil {
		t.Errorf("nil Log: %v", err)
	}
	if n, err := l.Cleanup(context.Background(), base); n != 0 || err != nil {
		t.Errorf("nil Cleanup: %d, %v", n, err)
	}
}

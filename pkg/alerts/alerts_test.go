package alerts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/registry"
	"github.com/pario-ai/cloudcost/pkg/store"
)

func setup(t *testing.T) (*store.Store, *SQLiteLedger, int64) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "alerts_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	b, err := registry.New(s).Add(context.Background(), models.Budget{
		Name:   "AWS-Compute",
		Amount: decimal.NewFromInt(500),
		Period: models.BudgetMonthly,
	})
	require.NoError(t, err)
	return s, New(s), b.ID
}

func candidate(budgetID int64, tier int, windowStart time.Time) models.AlertCandidate {
	return models.AlertCandidate{
		BudgetID:       budgetID,
		ActualCost:     decimal.RequireFromString("620.00"),
		PercentageOver: decimal.NewFromInt(24),
		Tier:           tier,
		Window: models.Window{
			Start: windowStart,
			End:   windowStart.AddDate(0, 1, -1),
		},
		EvaluatedAt: time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
	}
}

var october = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

func TestRecordAndQuery(t *testing.T) {
	_, l, budgetID := setup(t)
	ctx := context.Background()

	id, created, err := l.Record(ctx, candidate(budgetID, 0, october))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, id)

	got, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	a := got[0]
	assert.Equal(t, id, a.ID)
	assert.Equal(t, budgetID, a.BudgetID)
	assert.True(t, a.ActualCost.Equal(decimal.NewFromInt(620)))
	assert.Equal(t, models.DefaultCurrency, a.Currency)
	assert.True(t, a.PercentageOver.Equal(decimal.NewFromInt(24)))
	assert.Equal(t, october, a.Window.Start)
	assert.Equal(t, time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC), a.Window.End)
	assert.True(t, a.EvaluatedAt.Equal(time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)))
	assert.False(t, a.Notified)
	assert.Nil(t, a.NotifiedAt)
}

func TestRecordKeepsCurrency(t *testing.T) {
	_, l, budgetID := setup(t)
	ctx := context.Background()

	c := candidate(budgetID, 0, october)
	c.Currency = "EUR"
	_, _, err := l.Record(ctx, c)
	require.NoError(t, err)

	got, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "EUR", got[0].Currency)
}

func TestRecordConflictReturnsExisting(t *testing.T) {
	_, l, budgetID := setup(t)
	ctx := context.Background()

	first, created, err := l.Record(ctx, candidate(budgetID, 1, october))
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := l.Record(ctx, candidate(budgetID, 1, october))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, again)

	// A higher tier or a new window is a different alert.
	_, created, err = l.Record(ctx, candidate(budgetID, 2, october))
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = l.Record(ctx, candidate(budgetID, 1, october.AddDate(0, 1, 0)))
	require.NoError(t, err)
	assert.True(t, created)

	all, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMarkNotifiedIsOneWay(t *testing.T) {
	_, l, budgetID := setup(t)
	ctx := context.Background()

	id, _, err := l.Record(ctx, candidate(budgetID, 0, october))
	require.NoError(t, err)

	require.NoError(t, l.MarkNotified(ctx, id))
	got, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Notified)
	require.NotNil(t, got[0].NotifiedAt)
	first := *got[0].NotifiedAt

	// Second mark is a no-op and keeps the original timestamp.
	require.NoError(t, l.MarkNotified(ctx, id))
	got, err = l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.True(t, got[0].Notified)
	assert.True(t, got[0].NotifiedAt.Equal(first))
}

func TestMarkNotifiedUnknown(t *testing.T) {
	_, l, _ := setup(t)
	err := l.MarkNotified(context.Background(), 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestQueryFilters(t *testing.T) {
	s, l, budgetID := setup(t)
	ctx := context.Background()

	other, err := registry.New(s).Add(ctx, models.Budget{Name: "GCP", Amount: decimal.NewFromInt(100), Period: models.BudgetYearly})
	require.NoError(t, err)

	id1, _, err := l.Record(ctx, candidate(budgetID, 0, october))
	require.NoError(t, err)
	_, _, err = l.Record(ctx, candidate(budgetID, 1, october))
	require.NoError(t, err)
	_, _, err = l.Record(ctx, candidate(other.ID, 0, october))
	require.NoError(t, err)
	require.NoError(t, l.MarkNotified(ctx, id1))

	byBudget, err := l.Query(ctx, Filter{BudgetID: &budgetID})
	require.NoError(t, err)
	assert.Len(t, byBudget, 2)

	pending, err := l.Query(ctx, Pending())
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	for _, a := range pending {
		assert.False(t, a.Notified)
	}

	notified := true
	done, err := l.Query(ctx, Filter{Notified: &notified})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, id1, done[0].ID)

	limited, err := l.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestHighestTier(t *testing.T) {
	_, l, budgetID := setup(t)
	ctx := context.Background()

	_, found, err := l.HighestTier(ctx, budgetID, october)
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = l.Record(ctx, candidate(budgetID, 0, october))
	require.NoError(t, err)
	_, _, err = l.Record(ctx, candidate(budgetID, 2, october))
	require.NoError(t, err)

	tier, found, err := l.HighestTier(ctx, budgetID, october)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, tier)

	_, found, err = l.HighestTier(ctx, budgetID, october.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAlertsRemovedWithBudget(t *testing.T) {
	s, l, budgetID := setup(t)
	ctx := context.Background()

	_, _, err := l.Record(ctx, candidate(budgetID, 0, october))
	require.NoError(t, err)
	require.NoError(t, registry.New(s).Remove(ctx, budgetID))

	all, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/pario-ai/cloudcost/pkg/models"
)

// AlertHistory reports what has already been alerted for a budget window.
type AlertHistory interface {
	HighestTier(ctx context.Context, budgetID int64, windowStart time.Time) (tier int, found bool, err error)
}

// ShouldRecord applies the suppression policy: a breach is recorded only when
// no alert exists for the same budget and window at the same or a higher tier.
// Repeated evaluations inside a window therefore stay quiet until spend
// escalates past the next threshold, and a new window starts fresh.
func ShouldRecord(ctx context.Context, history AlertHistory, c models.AlertCandidate) (bool, error) {
	tier, found, err := history.HighestTier(ctx, c.BudgetID, c.Window.Start)
	if err != nil {
		return false, fmt.Errorf("suppression check: %w", err)
	}
	return !found || c.Tier > tier, nil
}

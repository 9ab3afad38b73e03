package budget

import (
	"time"

	"github.com/pario-ai/cloudcost/pkg/models"
)

// PeriodWindow returns the calendar window for period that contains now:
// from the first day of the month, quarter or year up to and including today,
// in UTC. It reports false for periods it does not know.
func PeriodWindow(now time.Time, period models.BudgetPeriod) (models.Window, bool) {
	today := models.Day(now)

	var start time.Time
	switch period {
	case models.BudgetMonthly:
		start = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	case models.BudgetQuarterly:
		start = time.Date(today.Year(), QuarterStartMonth(today.Month()), 1, 0, 0, 0, 0, time.UTC)
	case models.BudgetYearly:
		start = time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return models.Window{}, false
	}
	return models.Window{Start: start, End: today}, true
}

// QuarterStartMonth returns the first month of m's quarter: 1, 4, 7 or 10.
func QuarterStartMonth(m time.Month) time.Month {
	return time.Month((int(m)-1)/3*3 + 1)
}

// Package collector feeds the cost ledger. A Collector stands in for a cloud
// billing API; the CSV collector reads billing exports from disk.
package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/cloudcost/pkg/logging"
	"github.com/pario-ai/cloudcost/pkg/models"
)

// DefaultMonths is how far back collection reaches when no range is given.
const DefaultMonths = 3

// Collector produces dated cost records for one provider.
type Collector interface {
	Provider() models.Provider
	Collect(ctx context.Context, start, end time.Time) ([]models.CostRecord, error)
}

// Appender is the write side of the cost ledger.
type Appender interface {
	Append(ctx context.Context, records []models.CostRecord) (int, error)
}

// DateRange returns [today-30*months days, today] in UTC. months <= 0 uses
// DefaultMonths.
func DateRange(now time.Time, months int) (start, end time.Time) {
	if months <= 0 {
		months = DefaultMonths
	}
	end = models.Day(now)
	return end.AddDate(0, 0, -30*months), end
}

// Ingest runs each collector and appends its records. A collector that fails,
// or whose records cannot be stored, is logged and counts as zero records; the
// others still run.
func Ingest(ctx context.Context, l Appender, collectors []Collector, start, end time.Time, logger *zap.Logger) map[models.Provider]int {
	logger = logging.OrNop(logger)
	counts := make(map[models.Provider]int, len(collectors))

	for _, c := range collectors {
		p := c.Provider()
		log := logger.With(zap.String("provider", string(p)))
		if _, ok := counts[p]; !ok {
			counts[p] = 0
		}

		records, err := c.Collect(ctx, start, end)
		if err != nil {
			log.Warn("cost collection failed", zap.Error(err))
			continue
		}
		n, err := l.Append(ctx, records)
		if err != nil {
			log.Warn("storing collected costs failed", zap.Error(err), zap.Int("records", len(records)))
			continue
		}
		counts[p] += n
		log.Info("costs collected",
			zap.Int("records", n),
			zap.String("start", start.Format(models.DateLayout)),
			zap.String("end", end.Format(models.DateLayout)),
		)
	}
	return counts
}

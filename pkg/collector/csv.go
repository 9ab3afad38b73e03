package collector

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pario-ai/cloudcost/pkg/models"
)

// CSVCollector reads a billing export with a header row. Required columns are
// date, service and either cost or amount; currency and provider are optional.
// Column names are case-insensitive.
type CSVCollector struct {
	provider models.Provider
	path     string
}

// NewCSVCollector returns a collector for provider reading path.
func NewCSVCollector(provider models.Provider, path string) *CSVCollector {
	return &CSVCollector{provider: provider, path: path}
}

// Provider is the provider records default to.
func (c *CSVCollector) Provider() models.Provider { return c.provider }

// Collect returns the rows dated within [start, end]. Any malformed row fails
// the whole file.
func (c *CSVCollector) Collect(ctx context.Context, start, end time.Time) ([]models.CostRecord, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.path, err)
	}
	defer f.Close()
	return c.read(ctx, f, models.Day(start), models.Day(end))
}

type columns struct {
	date, service, amount, currency, provider int
}

func parseHeader(header []string) (columns, error) {
	cols := columns{date: -1, service: -1, amount: -1, currency: -1, provider: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			cols.date = i
		case "service":
			cols.service = i
		case "cost", "amount":
			cols.amount = i
		case "currency":
			cols.currency = i
		case "provider":
			cols.provider = i
		}
	}
	switch {
	case cols.date < 0:
		return cols, errors.New("missing date column")
	case cols.service < 0:
		return cols, errors.New("missing service column")
	case cols.amount < 0:
		return cols, errors.New("missing cost column")
	}
	return cols, nil
}

func (c *CSVCollector) read(ctx context.Context, r io.Reader, start, end time.Time) ([]models.CostRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", c.path, err)
	}
	cols, err := parseHeader(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.path, err)
	}

	var records []models.CostRecord
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.path, err)
		}

		rec, err := c.parseRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", c.path, line, err)
		}
		if rec.Date.Before(start) || rec.Date.After(end) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *CSVCollector) parseRow(row []string, cols columns) (models.CostRecord, error) {
	field := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	date, err := parseDate(field(cols.date))
	if err != nil {
		return models.CostRecord{}, err
	}
	amount, err := decimal.NewFromString(field(cols.amount))
	if err != nil {
		return models.CostRecord{}, fmt.Errorf("bad cost %q", field(cols.amount))
	}

	provider := c.provider
	if v := field(cols.provider); v != "" {
		if provider, err = models.ParseProvider(v); err != nil {
			return models.CostRecord{}, err
		}
	}

	return models.CostRecord{
		Date:     date,
		Provider: provider,
		Service:  field(cols.service),
		Amount:   amount,
		Currency: field(cols.currency),
	}, nil
}

// parseDate accepts a plain date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if d, err := models.ParseDate(s); err == nil {
		return d, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return models.Day(t), nil
	}
	return time.Time{}, fmt.Errorf("bad date %q", s)
}

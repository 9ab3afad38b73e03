package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/cloudcost/pkg/ledger"
	"github.com/pario-ai/cloudcost/pkg/models"
	"github.com/pario-ai/cloudcost/pkg/store"
)

var (
	rangeStart = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC)
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "costs.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCSVCollectCostColumn(t *testing.T) {
	path := writeCSV(t, "date,service,cost,currency\n"+
		"2026-10-01,EC2,100.50,USD\n"+
		"2026-10-15,S3,20,usd\n"+
		"2026-09-30,EC2,999,USD\n"+
		"2026-11-01,EC2,999,USD\n")

	records, err := NewCSVCollector(models.ProviderAWS, path).Collect(context.Background(), rangeStart, rangeEnd)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "EC2", records[0].Service)
	assert.Equal(t, "100.5", records[0].Amount.String())
	assert.Equal(t, models.ProviderAWS, records[0].Provider)
	assert.Equal(t, rangeStart, records[0].Date)
}

func TestCSVCollectAmountColumn(t *testing.T) {
	path := writeCSV(t, "Date, Service, Amount, Provider\n"+
		"2026-10-02T13:00:00Z, BigQuery, 12.25, gcp\n")

	records, err := NewCSVCollector(models.ProviderGCP, path).Collect(context.Background(), rangeStart, rangeEnd)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "12.25", records[0].Amount.String())
	assert.Equal(t, models.ProviderGCP, records[0].Provider)
	assert.Equal(t, time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC), records[0].Date)
	assert.Empty(t, records[0].Currency)
}

func TestCSVCollectErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing cost column", "date,service\n2026-10-01,EC2\n", "missing cost column"},
		{"missing date column", "service,cost\nEC2,1\n", "missing date column"},
		{"bad amount", "date,service,cost\n2026-10-01,EC2,ten\n", "line 2: bad cost"},
		{"bad date", "date,service,cost\n01/10/2026,EC2,10\n", "bad date"},
		{"bad provider", "date,service,cost,provider\n2026-10-01,EC2,10,oracle\n", "line 2"},
		{"empty file", "", "read header"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCSV(t, tt.content)
			_, err := NewCSVCollector(models.ProviderAWS, path).Collect(context.Background(), rangeStart, rangeEnd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCSVCollectMissingFile(t *testing.T) {
	_, err := NewCSVCollector(models.ProviderAzure, "/nonexistent/azure.csv").Collect(context.Background(), rangeStart, rangeEnd)
	assert.Error(t, err)
}

func TestDateRange(t *testing.T) {
	now := time.Date(2026, 10, 18, 22, 30, 0, 0, time.UTC)

	start, end := DateRange(now, 3)
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC), start)

	defStart, _ := DateRange(now, 0)
	assert.Equal(t, start, defStart)

	oneStart, _ := DateRange(now, 1)
	assert.Equal(t, time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC), oneStart)
}

type failingCollector struct{ provider models.Provider }

func (f failingCollector) Provider() models.Provider { return f.provider }
func (f failingCollector) Collect(context.Context, time.Time, time.Time) ([]models.CostRecord, error) {
	return nil, errors.New("credentials expired")
}

func TestIngestIsolatesFailures(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "collector_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	l := ledger.New(s)

	aws := NewCSVCollector(models.ProviderAWS, writeCSV(t, "date,service,cost\n2026-10-01,EC2,10\n2026-10-02,EC2,15\n"))
	azure := NewCSVCollector(models.ProviderAzure, writeCSV(t, "date,service,amount\n2026-10-03,VMs,7\n"))
	collectors := []Collector{aws, failingCollector{models.ProviderGCP}, azure}

	counts := Ingest(context.Background(), l, collectors, rangeStart, rangeEnd, nil)
	assert.Equal(t, map[models.Provider]int{
		models.ProviderAWS:   2,
		models.ProviderGCP:   0,
		models.ProviderAzure: 1,
	}, counts)

	records, err := l.Query(context.Background(), rangeStart, rangeEnd, "")
	require.NoError(t, err)
	assert.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, "USD", r.Currency)
	}
}

func TestIngestInvalidRecordsStoreNothing(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "collector_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	l := ledger.New(s)

	// A blank service passes the CSV reader but fails ledger normalization.
	bad := NewCSVCollector(models.ProviderAWS, writeCSV(t, "date,service,cost\n2026-10-01,EC2,10\n2026-10-02,,15\n"))
	counts := Ingest(context.Background(), l, []Collector{bad}, rangeStart, rangeEnd, nil)
	assert.Equal(t, 0, counts[models.ProviderAWS])

	records, err := l.Query(context.Background(), rangeStart, rangeEnd, "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

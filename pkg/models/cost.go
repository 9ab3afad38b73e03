package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage and display format for calendar dates.
const DateLayout = "2006-01-02"

// Provider identifies a cloud provider.
type Provider string

const (
	ProviderAWS   Provider = "AWS"
	ProviderGCP   Provider = "GCP"
	ProviderAzure Provider = "Azure"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderAWS, ProviderGCP, ProviderAzure}

// ParseProvider maps a case-insensitive name to its canonical Provider.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if strings.EqualFold(strings.TrimSpace(s), string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q (want AWS, GCP or Azure)", s)
}

// DefaultCurrency is applied to cost records ingested without a currency code.
const DefaultCurrency = "USD"

// CostRecord is a single dated cost line from a provider's billing data.
type CostRecord struct {
	ID       int64           `json:"id"`
	Date     time.Time       `json:"date"`
	Provider Provider        `json:"provider"`
	Service  string          `json:"service"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// CostSummary aggregates cost records by provider and service.
type CostSummary struct {
	Provider    Provider        `json:"provider"`
	Service     string          `json:"service"`
	RecordCount int             `json:"record_count"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
}

// Day truncates t to midnight UTC of its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string as a UTC calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pario-ai/cloudcost/pkg/models"
)

var emailTemplate = template.Must(template.New("alert").Parse(`<html>
<body>
<h2>Budget Alert</h2>
<p>The following budget has been exceeded:</p>
<ul>
<li><strong>Budget:</strong> {{.Name}}</li>
<li><strong>Amount:</strong> {{.Amount}}</li>
<li><strong>Actual Spend:</strong> {{.Actual}}</li>
<li><strong>Over Budget:</strong> {{.Over}} ({{.Percent}}%)</li>
<li><strong>Period:</strong> {{.Period}}</li>
<li><strong>Provider:</strong> {{.Provider}}</li>
<li><strong>Service:</strong> {{.Service}}</li>
<li><strong>Window:</strong> {{.Window}}</li>
</ul>
<p>Please review your cloud spending and take appropriate action.</p>
</body>
</html>
`))

// Subject is the email subject line for n.
func (n Notice) Subject() string {
	return fmt.Sprintf("Budget Alert: %s exceeded by %s%%", n.Budget.Name, n.Alert.PercentageOver.StringFixed(1))
}

// HTML renders the email body for n.
func (n Notice) HTML() (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Name, Amount, Actual, Over, Percent, Period, Provider, Service, Window string
	}{
		Name:     n.Budget.Name,
		Amount:   Amount(n.Budget.Amount, n.Alert.Currency),
		Actual:   Amount(n.Alert.ActualCost, n.Alert.Currency),
		Over:     Amount(n.Alert.ActualCost.Sub(n.Budget.Amount), n.Alert.Currency),
		Percent:  n.Alert.PercentageOver.StringFixed(1),
		Period:   string(n.Budget.Period),
		Provider: n.Budget.ProviderLabel(),
		Service:  n.Budget.ServiceLabel(),
		Window:   n.Alert.Window.String(),
	})
	if err != nil {
		return "", fmt.Errorf("render alert email: %w", err)
	}
	return buf.String(), nil
}

// Text renders the chat message for n.
func (n Notice) Text() string {
	return fmt.Sprintf("*Budget Alert*: %s exceeded by %s%%\nBudget: %s, Actual: %s\nPlease review your cloud spending.",
		n.Budget.Name, n.Alert.PercentageOver.StringFixed(1),
		Amount(n.Budget.Amount, n.Alert.Currency), Amount(n.Alert.ActualCost, n.Alert.Currency))
}

// Amount formats d in currency: dollars for USD (or no currency), otherwise
// the number followed by the code, e.g. "1,234.50 EUR".
func Amount(d decimal.Decimal, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == models.DefaultCurrency {
		return Money(d)
	}
	return Number(d) + " " + currency
}

// Money formats d as dollars with thousands separators, e.g. $1,234.50.
func Money(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + Number(d.Abs())
	}
	return "$" + Number(d)
}

// Number formats d with two decimals and thousands separators.
func Number(d decimal.Decimal) string {
	whole, frac, _ := strings.Cut(d.Abs().StringFixed(2), ".")

	var b strings.Builder
	if d.IsNegative() && !d.Round(2).IsZero() {
		b.WriteByte('-')
	}
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

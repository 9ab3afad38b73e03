package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pario-ai/cloudcost/pkg/alerts"
	"github.com/pario-ai/cloudcost/pkg/models"
)

type fakeBudgets struct {
	budgets []models.Budget
	err     error
}

func (f *fakeBudgets) List(_ context.Context) ([]models.Budget, error) { return f.budgets, f.err }

type fakeCosts struct {
	summaries  []models.CostSummary
	start, end time.Time
}

func (f *fakeCosts) Summary(_ context.Context, start, end time.Time) ([]models.CostSummary, error) {
	f.start, f.end = start, end
	return f.summaries, nil
}

type fakeStatus struct {
	statuses []models.BudgetStatus
}

func (f *fakeStatus) Status(_ context.Context, _ []models.Budget, _ time.Time) ([]models.BudgetStatus, error) {
	return f.statuses, nil
}

type fakeAlerts struct {
	list   []models.BudgetAlert
	filter alerts.Filter
}

func (f *fakeAlerts) Query(_ context.Context, filter alerts.Filter) ([]models.BudgetAlert, error) {
	f.filter = filter
	return f.list, nil
}

type fakeRuns struct {
	runs []models.CheckRun
	opts models.CheckRunQueryOpts
}

func (f *fakeRuns) Query(_ context.Context, opts models.CheckRunQueryOpts) ([]models.CheckRun, error) {
	f.opts = opts
	return f.runs, nil
}

var fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newTestServer(src Sources) *Server {
	if src.Budgets == nil {
		src.Budgets = &fakeBudgets{}
	}
	if src.Costs == nil {
		src.Costs = &fakeCosts{}
	}
	if src.Status == nil {
		src.Status = &fakeStatus{}
	}
	if src.Alerts == nil {
		src.Alerts = &fakeAlerts{}
	}
	srv := New(src, "test", nil)
	srv.now = func() time.Time { return fixedNow }
	return srv
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) toolCallResult {
	t.Helper()
	p := toolCallParams{Name: name}
	if args != "" {
		p.Arguments = json.RawMessage(args)
	}
	params, _ := json.Marshal(p)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result toolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := newTestServer(Sources{})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result initializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol version = %s, want %s", result.ProtocolVersion, ProtocolVersion)
	}
	if result.ServerInfo.Name != "cloudcost" || result.ServerInfo.Version != "test" {
		t.Errorf("server info = %+v", result.ServerInfo)
	}
}

func TestToolsList(t *testing.T) {
	srv := newTestServer(Sources{})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result toolsListResult
	json.Unmarshal(data, &result)

	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"cloudcost_budgets", "cloudcost_budget_status", "cloudcost_cost_report", "cloudcost_alerts", "cloudcost_check_runs"} {
		if !names[want] {
			t.Errorf("missing tool: %s", want)
		}
	}
	if len(result.Tools) != 5 {
		t.Errorf("got %d tools, want 5", len(result.Tools))
	}
}

func TestToolCallBudgets(t *testing.T) {
	srv := newTestServer(Sources{Budgets: &fakeBudgets{budgets: []models.Budget{
		{ID: 1, Name: "AWS-Compute", Amount: decimal.NewFromInt(500), Period: models.BudgetMonthly, Provider: models.ProviderAWS, Service: "EC2"},
		{ID: 2, Name: "Everything", Amount: decimal.NewFromInt(10000), Period: models.BudgetYearly},
	}}})

	text := callTool(t, srv, "cloudcost_budgets", "").Content[0].Text
	for _, want := range []string{"AWS-Compute", "$500.00", "EC2", "$10,000.00", "All"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestToolCallBudgetsError(t *testing.T) {
	srv := newTestServer(Sources{Budgets: &fakeBudgets{err: errors.New("db locked")}})

	result := callTool(t, srv, "cloudcost_budgets", "")
	if !result.IsError {
		t.Error("expected isError=true")
	}
	if !strings.Contains(result.Content[0].Text, "db locked") {
		t.Errorf("expected cause in output, got: %s", result.Content[0].Text)
	}
}

func TestToolCallBudgetStatus(t *testing.T) {
	b := models.Budget{ID: 1, Name: "AWS-Compute", Amount: decimal.NewFromInt(500), Period: models.BudgetMonthly}
	srv := newTestServer(Sources{Status: &fakeStatus{statuses: []models.BudgetStatus{{
		Budget:      b,
		Spent:       decimal.NewFromInt(620),
		Remaining:   decimal.Zero,
		PercentUsed: decimal.NewFromInt(124),
	}}}})

	text := callTool(t, srv, "cloudcost_budget_status", "").Content[0].Text
	for _, want := range []string{"$620.00", "$0.00", "124.0%"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestToolCallBudgetStatusNonUSD(t *testing.T) {
	b := models.Budget{ID: 2, Name: "GCP-EU", Amount: decimal.NewFromInt(300), Period: models.BudgetMonthly}
	srv := newTestServer(Sources{Status: &fakeStatus{statuses: []models.BudgetStatus{{
		Budget:      b,
		Spent:       decimal.NewFromInt(150),
		Currency:    "EUR",
		Remaining:   decimal.NewFromInt(150),
		PercentUsed: decimal.NewFromInt(50),
	}}}})

	text := callTool(t, srv, "cloudcost_budget_status", "").Content[0].Text
	if !strings.Contains(text, "150.00 EUR") || !strings.Contains(text, "300.00 EUR") {
		t.Errorf("expected EUR amounts, got:\n%s", text)
	}
	if strings.Contains(text, "$") {
		t.Errorf("unexpected dollar sign in output:\n%s", text)
	}
}

func TestToolCallCostReportDefaults(t *testing.T) {
	costs := &fakeCosts{summaries: []models.CostSummary{
		{Provider: models.ProviderGCP, Service: "Compute Engine", RecordCount: 3, Total: decimal.RequireFromString("321.5"), Currency: "USD"},
	}}
	srv := newTestServer(Sources{Costs: costs})

	text := callTool(t, srv, "cloudcost_cost_report", `{}`).Content[0].Text
	if !costs.start.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v, want start of month", costs.start)
	}
	if !costs.end.Equal(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v, want today", costs.end)
	}
	if !strings.Contains(text, "Compute Engine") || !strings.Contains(text, "$321.50") {
		t.Errorf("unexpected output:\n%s", text)
	}
}

func TestToolCallCostReportInvalidDates(t *testing.T) {
	srv := newTestServer(Sources{})

	tests := []struct {
		name string
		args string
	}{
		{"bad since", `{"since":"10/01/2026"}`},
		{"bad until", `{"until":"yesterday"}`},
		{"reversed", `{"since":"2026-10-10","until":"2026-10-01"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := callTool(t, srv, "cloudcost_cost_report", tt.args); !result.IsError {
				t.Errorf("expected isError=true, got: %s", result.Content[0].Text)
			}
		})
	}
}

func TestToolCallAlerts(t *testing.T) {
	window := models.Window{
		Start: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC),
	}
	al := &fakeAlerts{list: []models.BudgetAlert{
		{ID: 7, BudgetID: 1, ActualCost: decimal.NewFromInt(620), PercentageOver: decimal.NewFromInt(24), Window: window},
		{ID: 8, BudgetID: 99, ActualCost: decimal.NewFromInt(5), PercentageOver: decimal.NewFromInt(5), Window: window, Notified: true},
	}}
	srv := newTestServer(Sources{
		Budgets: &fakeBudgets{budgets: []models.Budget{{ID: 1, Name: "AWS-Compute"}}},
		Alerts:  al,
	})

	text := callTool(t, srv, "cloudcost_alerts", `{"budget_id":1,"pending":true}`).Content[0].Text
	if al.filter.BudgetID == nil || *al.filter.BudgetID != 1 {
		t.Errorf("budget filter not passed: %+v", al.filter)
	}
	if al.filter.Notified == nil || *al.filter.Notified {
		t.Errorf("expected pending filter, got %+v", al.filter)
	}
	for _, want := range []string{"AWS-Compute", "#99", "2026-10-01 to 2026-10-31", "24.0%"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestToolCallCheckRuns(t *testing.T) {
	runs := &fakeRuns{runs: []models.CheckRun{{
		RunID:     "3f1c1f1e-0000-4000-8000-000000000001",
		StartedAt: fixedNow,
		Evaluated: 4,
		Failed:    1,
		Error:     "budget 3: parse amount",
	}}}
	srv := newTestServer(Sources{Runs: runs})

	text := callTool(t, srv, "cloudcost_check_runs", `{"failed_only":true}`).Content[0].Text
	if !runs.opts.FailedOnly || runs.opts.Limit != 20 {
		t.Errorf("opts = %+v, want failed only with default limit", runs.opts)
	}
	if !strings.Contains(text, "3f1c1f1e") || !strings.Contains(text, "parse amount") {
		t.Errorf("unexpected output:\n%s", text)
	}
}

func TestToolCallCheckRunsNotEnabled(t *testing.T) {
	srv := newTestServer(Sources{})

	result := callTool(t, srv, "cloudcost_check_runs", "")
	if result.IsError {
		t.Error("disabled history should not be an error")
	}
	if !strings.Contains(result.Content[0].Text, "not enabled") {
		t.Errorf("expected 'not enabled', got: %s", result.Content[0].Text)
	}
}

func TestToolCallUnknownTool(t *testing.T) {
	srv := newTestServer(Sources{})

	result := callTool(t, srv, "cloudcost_nope", "")
	if !result.IsError {
		t.Error("expected isError=true for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := newTestServer(Sources{})

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestParseError(t *testing.T) {
	srv := newTestServer(Sources{})

	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := newTestServer(Sources{})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pario-ai/cloudcost/pkg/alerts"
	"github.com/pario-ai/cloudcost/pkg/models"
)

type toolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []toolDefinition `json:"tools"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) toolCallResult

type tool struct {
	def     toolDefinition
	handler toolHandler
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func objectSchema(props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props}
}

var tools = []tool{
	{
		def: toolDefinition{
			Name:        "cloudcost_budgets",
			Description: "List registered budgets with amount, period and provider/service scope.",
			InputSchema: objectSchema(map[string]any{}),
		},
		handler: handleBudgets,
	},
	{
		def: toolDefinition{
			Name:        "cloudcost_budget_status",
			Description: "Show current-period spend, remaining amount and percent used for every budget.",
			InputSchema: objectSchema(map[string]any{}),
		},
		handler: handleBudgetStatus,
	},
	{
		def: toolDefinition{
			Name:        "cloudcost_cost_report",
			Description: "Show spend grouped by provider and service for a date range.",
			InputSchema: objectSchema(map[string]any{
				"since": stringProp("Start date in YYYY-MM-DD format (optional, defaults to start of month)"),
				"until": stringProp("End date in YYYY-MM-DD format (optional, defaults to today)"),
			}),
		},
		handler: handleCostReport,
	},
	{
		def: toolDefinition{
			Name:        "cloudcost_alerts",
			Description: "List recorded budget alerts, optionally for one budget or only undelivered ones.",
			InputSchema: objectSchema(map[string]any{
				"budget_id": map[string]any{"type": "integer", "description": "Budget ID (optional)"},
				"pending":   map[string]any{"type": "boolean", "description": "Only alerts not yet delivered (optional)"},
			}),
		},
		handler: handleAlerts,
	},
	{
		def: toolDefinition{
			Name:        "cloudcost_check_runs",
			Description: "Show recent budget check cycles and their outcomes.",
			InputSchema: objectSchema(map[string]any{
				"failed_only": map[string]any{"type": "boolean", "description": "Only runs with errors (optional)"},
				"limit":       map[string]any{"type": "integer", "description": "Maximum runs to return (optional, default 20)"},
			}),
		},
		handler: handleCheckRuns,
	},
}

func toolDefinitions() []toolDefinition {
	defs := make([]toolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = t.def
	}
	return defs
}

func (s *Server) callTool(ctx context.Context, params toolCallParams) toolCallResult {
	for _, t := range tools {
		if t.def.Name == params.Name {
			return t.handler(ctx, s, params.Arguments)
		}
	}
	return errorResult(fmt.Sprintf("unknown tool: %s", params.Name))
}

func textResult(text string) toolCallResult {
	return toolCallResult{Content: []contentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) toolCallResult {
	return toolCallResult{Content: []contentBlock{{Type: "text", Text: text}}, IsError: true}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func handleBudgets(ctx context.Context, s *Server, _ json.RawMessage) toolCallResult {
	budgets, err := s.src.Budgets.List(ctx)
	if err != nil {
		return errorResult("Error listing budgets: " + err.Error())
	}
	return textResult(formatBudgets(budgets))
}

func handleBudgetStatus(ctx context.Context, s *Server, _ json.RawMessage) toolCallResult {
	budgets, err := s.src.Budgets.List(ctx)
	if err != nil {
		return errorResult("Error listing budgets: " + err.Error())
	}
	statuses, err := s.src.Status.Status(ctx, budgets, s.now())
	if err != nil {
		return errorResult("Error computing budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(statuses))
}

type costReportArgs struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

func handleCostReport(ctx context.Context, s *Server, raw json.RawMessage) toolCallResult {
	var args costReportArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := models.Day(now)
	var err error
	if args.Since != "" {
		if start, err = models.ParseDate(args.Since); err != nil {
			return errorResult("Invalid since: " + err.Error())
		}
	}
	if args.Until != "" {
		if end, err = models.ParseDate(args.Until); err != nil {
			return errorResult("Invalid until: " + err.Error())
		}
	}

	if end.Before(start) {
		return errorResult("until date is before since date")
	}

	summaries, err := s.src.Costs.Summary(ctx, start, end)
	if err != nil {
		return errorResult("Error fetching cost report: " + err.Error())
	}
	return textResult(formatCostReport(summaries, models.Window{Start: start, End: end}))
}

type alertsArgs struct {
	BudgetID *int64 `json:"budget_id"`
	Pending  bool   `json:"pending"`
}

func handleAlerts(ctx context.Context, s *Server, raw json.RawMessage) toolCallResult {
	var args alertsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	f := alerts.Filter{BudgetID: args.BudgetID, Limit: 100}
	if args.Pending {
		f.Notified = alerts.Pending().Notified
	}
	list, err := s.src.Alerts.Query(ctx, f)
	if err != nil {
		return errorResult("Error fetching alerts: " + err.Error())
	}
	budgets, err := s.src.Budgets.List(ctx)
	if err != nil {
		return errorResult("Error listing budgets: " + err.Error())
	}
	return textResult(formatAlerts(list, budgets))
}

type checkRunsArgs struct {
	FailedOnly bool `json:"failed_only"`
	Limit      int  `json:"limit"`
}

func handleCheckRuns(ctx context.Context, s *Server, raw json.RawMessage) toolCallResult {
	if s.src.Runs == nil {
		return textResult("Check run history is not enabled.")
	}
	var args checkRunsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}
	runs, err := s.src.Runs.Query(ctx, models.CheckRunQueryOpts{FailedOnly: args.FailedOnly, Limit: args.Limit})
	if err != nil {
		return errorResult("Error fetching check runs: " + err.Error())
	}
	return textResult(formatCheckRuns(runs))
}

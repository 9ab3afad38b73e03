// Package mcp serves read-only cloudcost views (budgets, spend, alerts and
// check history) as tools over the Model Context Protocol on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/cloudcost/pkg/alerts"
	"github.com/pario-ai/cloudcost/pkg/logging"
	"github.com/pario-ai/cloudcost/pkg/models"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// Budgets lists registered budgets.
type Budgets interface {
	List(ctx context.Context) ([]models.Budget, error)
}

// Costs summarizes the cost ledger.
type Costs interface {
	Summary(ctx context.Context, start, end time.Time) ([]models.CostSummary, error)
}

// StatusReporter computes spend against budgets.
type StatusReporter interface {
	Status(ctx context.Context, budgets []models.Budget, now time.Time) ([]models.BudgetStatus, error)
}

// AlertQuerier reads the alert ledger.
type AlertQuerier interface {
	Query(ctx context.Context, f alerts.Filter) ([]models.BudgetAlert, error)
}

// RunQuerier reads the check run history.
type RunQuerier interface {
	Query(ctx context.Context, opts models.CheckRunQueryOpts) ([]models.CheckRun, error)
}

// Sources are the stores the tools read from. Runs may be nil.
type Sources struct {
	Budgets Budgets
	Costs   Costs
	Status  StatusReporter
	Alerts  AlertQuerier
	Runs    RunQuerier
}

// Server is a minimal MCP server speaking line-delimited JSON-RPC 2.0.
type Server struct {
	src     Sources
	version string
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Server.
func New(src Sources, version string, logger *zap.Logger) *Server {
	return &Server{
		src:     src,
		version: version,
		logger:  logging.OrNop(logger),
		now:     time.Now,
	}
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes used by the server.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Run answers requests read line by line from r, writing one response line
// per request to w. It returns when r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, Response{JSONRPC: "2.0", Error: &RPCError{Code: CodeParseError, Message: "parse error"}})
			continue
		}
		if resp := s.handle(ctx, &req); resp != nil {
			s.write(w, *resp)
		}
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, req *Request) *Response {
	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "initialize":
		resp.Result = initializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      serverInfo{Name: "cloudcost", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		}
	case "notifications/initialized":
		return nil
	case "tools/list":
		resp.Result = toolsListResult{Tools: toolDefinitions()}
	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &RPCError{Code: CodeInvalidParams, Message: "invalid params"}
			return resp
		}
		resp.Result = s.callTool(ctx, params)
	default:
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)}
	}
	return resp
}

func (s *Server) write(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("mcp: marshal response", zap.Error(err))
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Warn("mcp: write response", zap.Error(err))
	}
}

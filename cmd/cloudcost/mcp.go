package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/cloudcost/pkg/alerts"
	"github.com/pario-ai/cloudcost/pkg/audit"
	"github.com/pario-ai/cloudcost/pkg/budget"
	"github.com/pario-ai/cloudcost/pkg/ledger"
	"github.com/pario-ai/cloudcost/pkg/mcp"
	"github.com/pario-ai/cloudcost/pkg/registry"
)

func newMCPCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve budgets, spend and alerts as MCP tools on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if e.cfg.Logging.Output == "stdout" {
				// stdout carries the protocol; logs would corrupt it.
				e.logger = zap.NewNop()
			}

			src := mcp.Sources{
				Budgets: registry.New(e.store),
				Costs:   ledger.New(e.store),
				Status:  budget.New(ledger.New(e.store), e.cfg.Alerts.EscalationTiers, e.logger),
				Alerts:  alerts.New(e.store),
			}
			if e.cfg.Audit.Enabled {
				src.Runs = audit.New(e.store, e.cfg.Audit.RetentionDays)
			}

			e.logger.Info("mcp server starting", zap.String("db", e.cfg.DBPath))
			return mcp.New(src, version, e.logger).Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}

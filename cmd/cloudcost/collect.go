package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/cloudcost/pkg/collector"
	"github.com/pario-ai/cloudcost/pkg/ledger"
	"github.com/pario-ai/cloudcost/pkg/models"
)

func newCollectCmd(opts *globalOptions) *cobra.Command {
	var (
		awsFile   string
		gcpFile   string
		azureFile string
		months    int
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Load billing exports into the cost ledger",
		Long: `Load billing exports into the cost ledger.

Each file is a CSV with a header row containing date, service and cost (or
amount) columns, plus optional currency and provider columns. Only rows dated
within the last --months months are loaded. A file that cannot be read is
reported and skipped; the others are still loaded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := map[models.Provider]string{
				models.ProviderAWS:   awsFile,
				models.ProviderGCP:   gcpFile,
				models.ProviderAzure: azureFile,
			}
			var collectors []collector.Collector
			for _, p := range models.Providers {
				if path := sources[p]; path != "" {
					collectors = append(collectors, collector.NewCSVCollector(p, path))
				}
			}
			if len(collectors) == 0 {
				return errors.New("nothing to collect: pass at least one of --aws, --gcp, --azure")
			}

			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			start, end := collector.DateRange(time.Now(), months)
			fmt.Printf("Collecting costs from %s to %s\n", start.Format(models.DateLayout), end.Format(models.DateLayout))

			counts := collector.Ingest(cmd.Context(), ledger.New(e.store), collectors, start, end, e.logger)
			for _, c := range collectors {
				fmt.Printf("%s: %d records\n", c.Provider(), counts[c.Provider()])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&awsFile, "aws", "", "AWS billing export (CSV)")
	cmd.Flags().StringVar(&gcpFile, "gcp", "", "GCP billing export (CSV)")
	cmd.Flags().StringVar(&azureFile, "azure", "", "Azure billing export (CSV)")
	cmd.Flags().IntVar(&months, "months", collector.DefaultMonths, "how many months back to load")
	return cmd
}

package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/awesome-inc/warehouse-etl/internal/etl"
)

func newStatusCmd(cfgFile *string) *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgFile)
			if err != nil {
				return err
			}
			db, err := connectWarehouse(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			store := etl.NewSQLWatermarkStore(db, logger)
			runs, err := store.RecentRuns(cmd.Context(), last)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tDURATION\tSTATUS\tROWS\tERROR")
			for _, r := range runs {
				errClass := r.ErrorClass
				if errClass == "" {
					errClass = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					r.StartedAt.Format(time.RFC3339),
					r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
					r.Status, r.RowsProcessed, errClass)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&last, "last", 10, "number of runs to show")
	return cmd
}

func newWatermarkCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watermark",
		Short: "Print the timestamp the next run will extract from",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgFile)
			if err != nil {
				return err
			}
			db, err := connectWarehouse(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			store := etl.NewSQLWatermarkStore(db, logger)
			watermark, err := store.LastSuccessfulRun(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(watermark.Format(time.RFC3339))
			return nil
		},
	}
}

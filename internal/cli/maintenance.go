package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/awesome-inc/warehouse-etl/internal/etl"
)

func newCleanupCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-orphans",
		Short: "Delete fact rows whose dimension keys no longer exist",
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

			deleted, err := etl.NewMaintenance(db, logger).CleanupOrphans(cmd.Context())
			if err != nil {
				return err
			}
			for table, n := range deleted {
				fmt.Printf("%s: %d orphaned rows deleted\n", table, n)
			}
			return nil
		},
	}
}

func newPartitionsCmd(cfgFile *string) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "Show row distribution across fact table partitions",
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

			parts, err := etl.NewMaintenance(db, logger).PartitionDistribution(cmd.Context(), table)
			if err != nil {
				return err
			}
			if len(parts) == 0 {
				fmt.Printf("no partitions found for %s\n", table)
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PARTITION\tEST. ROWS")
			for _, p := range parts {
				fmt.Fprintf(w, "%s\t%d\n", p.Partition, p.Rows)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&table, "table", "fact_sales", "partitioned fact table to inspect")
	return cmd
}

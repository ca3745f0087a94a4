// Package cli wires the operator-facing commands around the pipeline.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "etl",
		Short: "CDC-driven ETL engine for the sales star-schema warehouse",
		Long: `etl keeps the analytical star-schema warehouse synchronized with the
operational store through watermark-based incremental extraction,
surrogate-key resolution, pre-load validation, and idempotent loading.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to the etl.yaml config file")

	rootCmd.AddCommand(
		newRunCmd(&cfgFile),
		newStatusCmd(&cfgFile),
		newWatermarkCmd(&cfgFile),
		newCleanupCmd(&cfgFile),
		newPartitionsCmd(&cfgFile),
	)
	return rootCmd
}

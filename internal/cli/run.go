package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/awesome-inc/warehouse-etl/internal/config"
	"github.com/awesome-inc/warehouse-etl/internal/etl"
	"github.com/awesome-inc/warehouse-etl/pkg/database"
)

func newRunCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Trigger one pipeline run now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), *cfgFile)
		},
	}
}

// setup loads config and builds the logger shared by all commands.
func setup(cfgFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Log.Level), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// connectWarehouse opens the warehouse handle used by every command.
func connectWarehouse(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Connect(ctx, cfg.Warehouse.Driver, cfg.Warehouse.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect warehouse: %w", err)
	}
	return db, nil
}

func runPipeline(ctx context.Context, cfgFile string) error {
	cfg, logger, err := setup(cfgFile)
	if err != nil {
		return err
	}

	sourceDB, err := database.Connect(ctx, cfg.Source.Driver, cfg.Source.DSN)
	if err != nil {
		return fmt.Errorf("connect source: %w", err)
	}
	defer sourceDB.Close()

	warehouseDB, err := connectWarehouse(ctx, cfg)
	if err != nil {
		return err
	}
	defer warehouseDB.Close()

	pipeline := etl.NewPipeline(etl.PipelineParams{
		Name:              cfg.Pipeline.Name,
		Source:            etl.NewTimestampSource(sourceDB, cfg.Source.Driver, cfg.ExtractModes(), cfg.Pipeline.ExtractWorkers, logger),
		Loader:            etl.NewWarehouseLoader(warehouseDB, logger),
		Store:             etl.NewSQLWatermarkStore(warehouseDB, logger),
		Warehouse:         warehouseDB,
		SkipRateThreshold: cfg.Pipeline.SkipRateThreshold,
		RunTimeout:        cfg.Pipeline.RunTimeout,
		Lock:              etl.NewRunLock(),
		Logger:            logger,
	})

	outcome, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s: %d rows processed in %s\n",
		outcome.Status, outcome.RowsProcessed, outcome.FinishedAt.Sub(outcome.StartedAt).Round(time.Millisecond))
	return nil
}

// Package config loads pipeline configuration from etl.yaml and
// ETL_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/awesome-inc/warehouse-etl/pkg/models"
)

// Config is the full pipeline configuration.
type Config struct {
	Pipeline  Pipeline  `koanf:"pipeline"`
	Source    Source    `koanf:"source"`
	Warehouse Warehouse `koanf:"warehouse"`
	Log       Log       `koanf:"log"`
}

// Pipeline holds run-level tuning.
type Pipeline struct {
	// Name keys the in-process run lock.
	Name string `koanf:"name"`

	// RunTimeout aborts a run that exceeds it (TIMEOUT_FAILED).
	RunTimeout time.Duration `koanf:"run_timeout"`

	// SkipRateThreshold is the fraction of transform skips above which
	// the run fails instead of reporting them (TRANSFORM_FAILED).
	SkipRateThreshold float64 `koanf:"skip_rate_threshold"`

	// ExtractWorkers bounds the per-table extraction parallelism.
	ExtractWorkers int `koanf:"extract_workers"`
}

// Source describes the OLTP side.
type Source struct {
	// Driver is the database/sql driver name: "pgx" or "sqlserver".
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`

	// Modes overrides the extraction mode per table, e.g.
	// customer: full. Unlisted tables keep their defaults.
	Modes map[string]string `koanf:"modes"`
}

// Warehouse describes the OLAP side. The warehouse is PostgreSQL; the
// loader relies on ON CONFLICT upserts and declarative partitioning.
type Warehouse struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// Log holds logging settings.
type Log struct {
	Level string `koanf:"level"`
}

// Defaults returns the built-in configuration. Transactional tables
// extract incrementally, reference tables fully.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"pipeline.name":                "warehouse-sync",
		"pipeline.run_timeout":         "15m",
		"pipeline.skip_rate_threshold": 0.05,
		"pipeline.extract_workers":     4,
		"source.driver":                "pgx",
		"warehouse.driver":             "pgx",
		"log.level":                    "info",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Source.DSN == "" {
		return fmt.Errorf("source.dsn is required")
	}
	if c.Warehouse.DSN == "" {
		return fmt.Errorf("warehouse.dsn is required")
	}
	if c.Source.Driver != "pgx" && c.Source.Driver != "sqlserver" {
		return fmt.Errorf("source.driver must be pgx or sqlserver, got %q", c.Source.Driver)
	}
	if c.Warehouse.Driver != "pgx" {
		return fmt.Errorf("warehouse.driver must be pgx, got %q", c.Warehouse.Driver)
	}
	if c.Pipeline.SkipRateThreshold < 0 || c.Pipeline.SkipRateThreshold > 1 {
		return fmt.Errorf("pipeline.skip_rate_threshold must be within [0, 1]")
	}
	if c.Pipeline.ExtractWorkers < 1 {
		return fmt.Errorf("pipeline.extract_workers must be at least 1")
	}
	for table, mode := range c.Source.Modes {
		switch models.ExtractMode(mode) {
		case models.ExtractFull, models.ExtractIncremental:
		default:
			return fmt.Errorf("source.modes.%s: unknown mode %q", table, mode)
		}
	}
	return nil
}

// ExtractModes returns the effective extraction mode per tracked table,
// applying any configured overrides on top of the defaults.
func (c *Config) ExtractModes() map[models.SourceTable]models.ExtractMode {
	modes := map[models.SourceTable]models.ExtractMode{
		models.TableSegment:     models.ExtractFull,
		models.TableCategory:    models.ExtractFull,
		models.TableSubcategory: models.ExtractFull,
		models.TableProduct:     models.ExtractFull,
		models.TableCustomer:    models.ExtractIncremental,
		models.TableOrder:       models.ExtractIncremental,
		models.TableOrderLine:   models.ExtractIncremental,
		models.TableReturn:      models.ExtractIncremental,
	}
	for table, mode := range c.Source.Modes {
		modes[models.SourceTable(table)] = models.ExtractMode(mode)
	}
	return modes
}

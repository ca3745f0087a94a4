// Package etl implements the CDC-driven pipeline that keeps the star
// schema warehouse synchronized with the OLTP source: watermark-based
// incremental extraction, surrogate-key resolution, star-schema
// transformation, pre-load validation, and two-phase idempotent loading.
package etl

import (
	"context"
	"time"

	"github.com/awesome-inc/warehouse-etl/pkg/models"
)

// ChangeSource detects and reads changed source rows. The shipped
// implementation polls a last_modified column; a log- or trigger-based
// source can be substituted without touching the rest of the pipeline.
type ChangeSource interface {
	Extract(ctx context.Context, watermark time.Time) (*models.Snapshot, error)
}

// WatermarkStore persists run outcomes and serves the extraction
// cutoff. Only SUCCESS outcomes advance the watermark.
type WatermarkStore interface {
	LastSuccessfulRun(ctx context.Context) (time.Time, error)
	RecordRun(ctx context.Context, outcome models.RunOutcome) error
	RecentRuns(ctx context.Context, n int) ([]models.RunOutcome, error)
}

// Loader writes a transformed batch into the warehouse, all dimensions
// before any facts.
type Loader interface {
	Load(ctx context.Context, batch *models.StarBatch) (models.LoadResult, error)
}

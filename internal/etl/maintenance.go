package etl

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
)

// Maintenance holds the explicitly invoked warehouse upkeep
// operations. These never run as part of a pipeline run.
type Maintenance struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewMaintenance returns maintenance operations over the warehouse.
func NewMaintenance(db *sql.DB, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Maintenance{db: db, logger: logger}
}

// CleanupOrphans deletes fact rows whose dimension references no
// longer resolve and reports deletions per table. Normal pipeline runs
// cannot produce such rows; this recovers from out-of-band damage.
func (m *Maintenance) CleanupOrphans(ctx context.Context) (map[string]int64, error) {
	deleted := make(map[string]int64)

	res, err := m.db.ExecContext(ctx, `
		DELETE FROM fact_sales f
		WHERE NOT EXISTS (SELECT 1 FROM dim_customer c WHERE c.customer_key = f.customer_key)
		   OR NOT EXISTS (SELECT 1 FROM dim_product p WHERE p.product_key = f.product_key)
		   OR NOT EXISTS (SELECT 1 FROM dim_date d WHERE d.date_key = f.ship_date_key)`)
	if err != nil {
		return nil, fmt.Errorf("cleanup fact_sales orphans: %w", err)
	}
	deleted["fact_sales"], _ = res.RowsAffected()

	res, err = m.db.ExecContext(ctx, `
		DELETE FROM fact_return f
		WHERE NOT EXISTS (SELECT 1 FROM dim_customer c WHERE c.customer_key = f.customer_key)
		   OR NOT EXISTS (SELECT 1 FROM dim_return r WHERE r.return_key = f.return_key)
		   OR NOT EXISTS (SELECT 1 FROM dim_date d WHERE d.date_key = f.order_date_key)`)
	if err != nil {
		return nil, fmt.Errorf("cleanup fact_return orphans: %w", err)
	}
	deleted["fact_return"], _ = res.RowsAffected()

	m.logger.Info("orphan cleanup complete",
		slog.Int64("fact_sales", deleted["fact_sales"]),
		slog.Int64("fact_return", deleted["fact_return"]))
	return deleted, nil
}

// PartitionInfo is one partition's approximate row count.
type PartitionInfo struct {
	Parent    string
	Partition string
	Rows      int64
}

// PartitionDistribution lists the partitions of a fact table with
// their planner row estimates, in partition order.
func (m *Maintenance) PartitionDistribution(ctx context.Context, table string) ([]PartitionInfo, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT c.relname, c.reltuples::bigint
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class parent ON parent.oid = i.inhparent
		WHERE parent.relname = $1
		ORDER BY c.relname`, table)
	if err != nil {
		return nil, fmt.Errorf("query partitions of %s: %w", table, err)
	}
	defer rows.Close()

	var out []PartitionInfo
	for rows.Next() {
		info := PartitionInfo{Parent: table}
		if err := rows.Scan(&info.Partition, &info.Rows); err != nil {
			return nil, fmt.Errorf("scan partition row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

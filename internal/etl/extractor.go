package etl

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/awesome-inc/warehouse-etl/pkg/models"
)

// TimestampSource is the polling ChangeSource: it detects changes
// through the last_modified column every tracked table carries.
// Incremental tables are read with `last_modified > watermark ORDER BY
// last_modified`; the ordering keeps a watermark computed from the max
// fully-processed timestamp sound if a run is interrupted. Reference
// tables are re-read in full and absorbed by the loader's upserts.
type TimestampSource struct {
	db      *sql.DB
	driver  string
	modes   map[models.SourceTable]models.ExtractMode
	workers int
	logger  *slog.Logger
}

// NewTimestampSource builds a polling source over the OLTP handle.
// driver selects the placeholder style ("pgx" or "sqlserver").
func NewTimestampSource(db *sql.DB, driver string, modes map[models.SourceTable]models.ExtractMode, workers int, logger *slog.Logger) *TimestampSource {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if workers < 1 {
		workers = 1
	}
	return &TimestampSource{db: db, driver: driver, modes: modes, workers: workers, logger: logger}
}

// Extract pulls one batch per tracked table. Tables are independent
// and read-only, so they are extracted concurrently under a bounded
// worker pool. Any failure aborts the whole extraction.
func (s *TimestampSource) Extract(ctx context.Context, watermark time.Time) (*models.Snapshot, error) {
	snap := &models.Snapshot{
		Watermark: watermark,
		Batches:   make(map[models.SourceTable]models.BatchInfo),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	run := func(table models.SourceTable, pull func(context.Context, models.ExtractMode) (int, time.Time, error)) {
		g.Go(func() error {
			mode := s.mode(table)
			start := time.Now()
			rows, maxTS, err := pull(gctx, mode)
			if err != nil {
				return fmt.Errorf("extract %s: %w", table, err)
			}
			info := models.BatchInfo{Table: table, Mode: mode, Rows: rows, To: maxTS}
			if mode == models.ExtractIncremental {
				info.From = watermark
			}
			mu.Lock()
			snap.Batches[table] = info
			mu.Unlock()
			s.logger.Debug("table extracted",
				slog.String("table", string(table)),
				slog.String("mode", string(mode)),
				slog.Int("rows", rows),
				slog.Duration("took", time.Since(start)))
			return nil
		})
	}

	run(models.TableSegment, func(ctx context.Context, mode models.ExtractMode) (int, time.Time, error) {
		rows, maxTS, err := s.segments(ctx, mode, watermark)
		mu.Lock()
		snap.Segments = rows
		mu.Unlock()
		return len(rows), maxTS, err
	})
	run(models.TableCategory, func(ctx context.Context, mode models.ExtractMode) (int, time.Time, error) {
		rows, maxTS, err := s.categories(ctx, mode, watermark)
		mu.Lock()
		snap.Categories = rows
		mu.Unlock()
		return len(rows), maxTS, err
	})
	run(models.TableSubcategory, func(ctx context.Context, mode models.ExtractMode) (int, time.Time, error) {
		rows, maxTS, err := s.subcategories(ctx, mode, watermark)
		mu.Lock()
		snap.Subcategories = rows
		mu.Unlock()
		return len(rows), maxTS, err
	})
	run(models.TableProduct, func(ctx context.Context, mode models.ExtractMode) (int, time.Time, error) {
		rows, maxTS, err := s.products(ctx, mode, watermark)
		mu.Lock()
		snap.Products = rows
		mu.Unlock()
		return len(rows), maxTS, err
	})
	run(models.TableCustomer, func(ctx context.Context, mode models.ExtractMode) (int, time.Time, error) {
		rows, maxTS, err := s.customers(ctx, mode, watermark)
		mu.Lock()
		snap.Customers = rows
		mu.Unlock()
		return len(rows), maxTS, err
	})
	run(models.TableOrder, func(ctx context.Context, mode models.ExtractMode) (int, time.Time, error) {
		rows, maxTS, err := s.orders(ctx, mode, watermark)
		mu.Lock()
		snap.Orders = rows
		mu.Unlock()
		return len(rows), maxTS, err
	})
	run(models.TableOrderLine, func(ctx context.Context, mode models.ExtractMode) (int, time.Time, error) {
		rows, maxTS, err := s.orderLines(ctx, mode, watermark)
		mu.Lock()
		snap.OrderLines = rows
		mu.Unlock()
		return len(rows), maxTS, err
	})
	run(models.TableReturn, func(ctx context.Context, mode models.ExtractMode) (int, time.Time, error) {
		rows, maxTS, err := s.returns(ctx, mode, watermark)
		mu.Lock()
		snap.Returns = rows
		mu.Unlock()
		return len(rows), maxTS, err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.logger.Info("extraction complete", slog.Int("changed_rows", snap.ChangedRows()))
	return snap, nil
}

func (s *TimestampSource) mode(table models.SourceTable) models.ExtractMode {
	if m, ok := s.modes[table]; ok {
		return m
	}
	return models.ExtractFull
}

// query appends the CDC filter for incremental mode and executes.
func (s *TimestampSource) query(ctx context.Context, base string, mode models.ExtractMode, wm time.Time) (*sql.Rows, error) {
	if mode == models.ExtractFull {
		return s.db.QueryContext(ctx, base)
	}
	q := base + " WHERE last_modified > " + s.placeholder(1) + " ORDER BY last_modified"
	return s.db.QueryContext(ctx, q, wm)
}

func (s *TimestampSource) placeholder(n int) string {
	if s.driver == "sqlserver" {
		return fmt.Sprintf("@p%d", n)
	}
	return fmt.Sprintf("$%d", n)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func (s *TimestampSource) segments(ctx context.Context, mode models.ExtractMode, wm time.Time) ([]models.Segment, time.Time, error) {
	rows, err := s.query(ctx, "SELECT segment_id, segment_name, last_modified FROM segment", mode, wm)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var out []models.Segment
	var maxTS time.Time
	for rows.Next() {
		var r models.Segment
		if err := rows.Scan(&r.SegmentID, &r.SegmentName, &r.LastModified); err != nil {
			return nil, time.Time{}, err
		}
		maxTS = later(maxTS, r.LastModified)
		out = append(out, r)
	}
	return out, maxTS, rows.Err()
}

func (s *TimestampSource) categories(ctx context.Context, mode models.ExtractMode, wm time.Time) ([]models.Category, time.Time, error) {
	rows, err := s.query(ctx, "SELECT category_id, category_name, last_modified FROM category", mode, wm)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var out []models.Category
	var maxTS time.Time
	for rows.Next() {
		var r models.Category
		if err := rows.Scan(&r.CategoryID, &r.CategoryName, &r.LastModified); err != nil {
			return nil, time.Time{}, err
		}
		maxTS = later(maxTS, r.LastModified)
		out = append(out, r)
	}
	return out, maxTS, rows.Err()
}

func (s *TimestampSource) subcategories(ctx context.Context, mode models.ExtractMode, wm time.Time) ([]models.Subcategory, time.Time, error) {
	rows, err := s.query(ctx, "SELECT subcategory_id, subcategory_name, category_id, last_modified FROM subcategory", mode, wm)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var out []models.Subcategory
	var maxTS time.Time
	for rows.Next() {
		var r models.Subcategory
		if err := rows.Scan(&r.SubcategoryID, &r.SubcategoryName, &r.CategoryID, &r.LastModified); err != nil {
			return nil, time.Time{}, err
		}
		maxTS = later(maxTS, r.LastModified)
		out = append(out, r)
	}
	return out, maxTS, rows.Err()
}

func (s *TimestampSource) products(ctx context.Context, mode models.ExtractMode, wm time.Time) ([]models.Product, time.Time, error) {
	rows, err := s.query(ctx, "SELECT product_id, product_name, subcategory_id, last_modified FROM product", mode, wm)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var out []models.Product
	var maxTS time.Time
	for rows.Next() {
		var r models.Product
		if err := rows.Scan(&r.ProductID, &r.ProductName, &r.SubcategoryID, &r.LastModified); err != nil {
			return nil, time.Time{}, err
		}
		maxTS = later(maxTS, r.LastModified)
		out = append(out, r)
	}
	return out, maxTS, rows.Err()
}

func (s *TimestampSource) customers(ctx context.Context, mode models.ExtractMode, wm time.Time) ([]models.Customer, time.Time, error) {
	rows, err := s.query(ctx, "SELECT customer_id, customer_name, segment_id, country, state, city, postal_code, region, last_modified FROM customer", mode, wm)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var out []models.Customer
	var maxTS time.Time
	for rows.Next() {
		var r models.Customer
		if err := rows.Scan(&r.CustomerID, &r.CustomerName, &r.SegmentID, &r.Country, &r.State, &r.City, &r.PostalCode, &r.Region, &r.LastModified); err != nil {
			return nil, time.Time{}, err
		}
		maxTS = later(maxTS, r.LastModified)
		out = append(out, r)
	}
	return out, maxTS, rows.Err()
}

func (s *TimestampSource) orders(ctx context.Context, mode models.ExtractMode, wm time.Time) ([]models.Order, time.Time, error) {
	rows, err := s.query(ctx, "SELECT order_id, customer_id, order_date, order_priority, last_modified FROM orders", mode, wm)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var out []models.Order
	var maxTS time.Time
	for rows.Next() {
		var r models.Order
		if err := rows.Scan(&r.OrderID, &r.CustomerID, &r.OrderDate, &r.Priority, &r.LastModified); err != nil {
			return nil, time.Time{}, err
		}
		maxTS = later(maxTS, r.LastModified)
		out = append(out, r)
	}
	return out, maxTS, rows.Err()
}

func (s *TimestampSource) orderLines(ctx context.Context, mode models.ExtractMode, wm time.Time) ([]models.OrderLine, time.Time, error) {
	rows, err := s.query(ctx, "SELECT order_id, product_id, quantity, sales, discount, profit, shipping_cost, ship_date, last_modified FROM order_product", mode, wm)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var out []models.OrderLine
	var maxTS time.Time
	for rows.Next() {
		var r models.OrderLine
		if err := rows.Scan(&r.OrderID, &r.ProductID, &r.Quantity, &r.Sales, &r.Discount, &r.Profit, &r.ShippingCost, &r.ShipDate, &r.LastModified); err != nil {
			return nil, time.Time{}, err
		}
		maxTS = later(maxTS, r.LastModified)
		out = append(out, r)
	}
	return out, maxTS, rows.Err()
}

func (s *TimestampSource) returns(ctx context.Context, mode models.ExtractMode, wm time.Time) ([]models.Return, time.Time, error) {
	rows, err := s.query(ctx, "SELECT return_id, order_id, return_status, return_region, last_modified FROM returns", mode, wm)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var out []models.Return
	var maxTS time.Time
	for rows.Next() {
		var r models.Return
		if err := rows.Scan(&r.ReturnID, &r.OrderID, &r.ReturnStatus, &r.ReturnRegion, &r.LastModified); err != nil {
			return nil, time.Time{}, err
		}
		maxTS = later(maxTS, r.LastModified)
		out = append(out, r)
	}
	return out, maxTS, rows.Err()
}

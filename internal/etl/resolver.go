package etl

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/awesome-inc/warehouse-etl/pkg/models"
)

// dimCache is the surrogate-key arena for one dimension. A single
// mutex serializes minting so concurrent resolution of the same unseen
// business id cannot produce two keys.
type dimCache struct {
	mu    sync.Mutex
	keys  map[string]int64
	byKey map[int64]struct{}
	next  int64
}

func (c *dimCache) resolve(businessID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.keys[businessID]; ok {
		return key
	}
	key := c.next
	c.next++
	c.keys[businessID] = key
	c.byKey[key] = struct{}{}
	return key
}

func (c *dimCache) lookup(businessID string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.keys[businessID]
	return key, ok
}

func (c *dimCache) hasKey(key int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byKey[key]
	return ok
}

// KeyResolver maps business identifiers to warehouse surrogate keys.
// It is primed from the persisted dimension tables at the start of a
// run, so a business id keeps the same key across runs for the
// lifetime of the warehouse; unseen ids mint monotonically increasing
// keys above the persisted maximum.
type KeyResolver struct {
	dims   map[models.Dimension]*dimCache
	logger *slog.Logger
}

// NewKeyResolver returns an unprimed resolver. Prime must run before
// the first Resolve of a pipeline run.
func NewKeyResolver(logger *slog.Logger) *KeyResolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &KeyResolver{
		dims:   make(map[models.Dimension]*dimCache),
		logger: logger,
	}
	for _, d := range []models.Dimension{models.DimensionCustomer, models.DimensionProduct, models.DimensionReturn} {
		r.dims[d] = &dimCache{keys: make(map[string]int64), byKey: make(map[int64]struct{}), next: 1}
	}
	return r
}

// Prime loads every persisted business-id -> surrogate-key mapping
// from the warehouse dimension tables.
func (r *KeyResolver) Prime(ctx context.Context, db *sql.DB) error {
	queries := []struct {
		dim   models.Dimension
		query string
	}{
		{models.DimensionCustomer, `SELECT customer_id, customer_key FROM dim_customer`},
		{models.DimensionProduct, `SELECT product_id, product_key FROM dim_product`},
		{models.DimensionReturn, `SELECT return_id, return_key FROM dim_return`},
	}
	for _, q := range queries {
		if err := r.primeDimension(ctx, db, q.dim, q.query); err != nil {
			return fmt.Errorf("prime %s keys: %w", q.dim, err)
		}
	}
	return nil
}

func (r *KeyResolver) primeDimension(ctx context.Context, db *sql.DB, dim models.Dimension, query string) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cache := r.dims[dim]
	cache.mu.Lock()
	defer cache.mu.Unlock()
	for rows.Next() {
		var id string
		var key int64
		if err := rows.Scan(&id, &key); err != nil {
			return err
		}
		cache.keys[id] = key
		cache.byKey[key] = struct{}{}
		if key >= cache.next {
			cache.next = key + 1
		}
	}
	r.logger.Debug("dimension keys primed",
		slog.String("dimension", string(dim)),
		slog.Int("known_ids", len(cache.keys)))
	return rows.Err()
}

// Resolve returns the surrogate key for a business id, minting a new
// one if the id has never been seen. The same id always resolves to
// the same key, regardless of descriptive-attribute changes.
func (r *KeyResolver) Resolve(dim models.Dimension, businessID string) (int64, error) {
	if businessID == "" {
		return 0, fmt.Errorf("resolve %s: empty business id", dim)
	}
	cache, ok := r.dims[dim]
	if !ok {
		return 0, fmt.Errorf("resolve: unknown dimension %q", dim)
	}
	return cache.resolve(businessID), nil
}

// Lookup returns the key for a business id without minting.
func (r *KeyResolver) Lookup(dim models.Dimension, businessID string) (int64, bool) {
	cache, ok := r.dims[dim]
	if !ok {
		return 0, false
	}
	return cache.lookup(businessID)
}

// HasKey reports whether a surrogate key is known (persisted or minted
// this run) for the dimension. Used by the validator's orphan check.
func (r *KeyResolver) HasKey(dim models.Dimension, key int64) bool {
	cache, ok := r.dims[dim]
	if !ok {
		return false
	}
	return cache.hasKey(key)
}

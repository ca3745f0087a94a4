package etl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awesome-inc/warehouse-etl/pkg/models"
)

func defaultModes() map[models.SourceTable]models.ExtractMode {
	return map[models.SourceTable]models.ExtractMode{
		models.TableSegment:     models.ExtractFull,
		models.TableCategory:    models.ExtractFull,
		models.TableSubcategory: models.ExtractFull,
		models.TableProduct:     models.ExtractFull,
		models.TableCustomer:    models.ExtractIncremental,
		models.TableOrder:       models.ExtractIncremental,
		models.TableOrderLine:   models.ExtractIncremental,
		models.TableReturn:      models.ExtractIncremental,
	}
}

func TestExtract_AppliesModePerTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	// Tables extract concurrently, so arrival order is not fixed.
	mock.MatchExpectationsInOrder(false)

	watermark := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2024, 12, 4, 10, 0, 0, 0, time.UTC)

	// Reference tables: full scans, no watermark filter.
	mock.ExpectQuery(`SELECT segment_id, segment_name, last_modified FROM segment$`).
		WillReturnRows(sqlmock.NewRows([]string{"segment_id", "segment_name", "last_modified"}).
			AddRow("S1", "Consumer", ts))
	mock.ExpectQuery(`FROM category$`).
		WillReturnRows(sqlmock.NewRows([]string{"category_id", "category_name", "last_modified"}).
			AddRow("CA1", "Technology", ts))
	mock.ExpectQuery(`FROM subcategory$`).
		WillReturnRows(sqlmock.NewRows([]string{"subcategory_id", "subcategory_name", "category_id", "last_modified"}).
			AddRow("SC1", "Phones", "CA1", ts))
	mock.ExpectQuery(`FROM product$`).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "product_name", "subcategory_id", "last_modified"}).
			AddRow("P1", "Phone X", "SC1", ts))

	// Transactional tables: watermark-filtered, ordered by last_modified.
	mock.ExpectQuery(`FROM customer WHERE last_modified > \$1 ORDER BY last_modified`).
		WithArgs(watermark).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id", "customer_name", "segment_id", "country", "state", "city", "postal_code", "region", "last_modified"}).
			AddRow("C1", "Alice Birch", "S1", "United States", "Ohio", "Columbus", "43004", "East", ts))
	mock.ExpectQuery(`FROM orders WHERE last_modified > \$1 ORDER BY last_modified`).
		WithArgs(watermark).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "customer_id", "order_date", "order_priority", "last_modified"}).
			AddRow("O1", "C1", time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC), "High", ts))
	mock.ExpectQuery(`FROM order_product WHERE last_modified > \$1 ORDER BY last_modified`).
		WithArgs(watermark).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "product_id", "quantity", "sales", "discount", "profit", "shipping_cost", "ship_date", "last_modified"}).
			AddRow("O1", "P1", 3, 4800.0, 0.1, 4410.0, 25.5, time.Date(2024, 12, 7, 0, 0, 0, 0, time.UTC), ts))
	mock.ExpectQuery(`FROM returns WHERE last_modified > \$1 ORDER BY last_modified`).
		WithArgs(watermark).
		WillReturnRows(sqlmock.NewRows([]string{"return_id", "order_id", "return_status", "return_region", "last_modified"}))

	source := NewTimestampSource(db, "pgx", defaultModes(), 4, nil)
	snap, err := source.Extract(context.Background(), watermark)
	require.NoError(t, err)

	assert.Len(t, snap.Segments, 1)
	assert.Len(t, snap.Customers, 1)
	assert.Len(t, snap.Orders, 1)
	assert.Len(t, snap.OrderLines, 1)
	assert.Empty(t, snap.Returns)
	assert.Equal(t, 2, snap.ChangedRows())
	assert.Equal(t, watermark, snap.Watermark)

	orderBatch := snap.Batches[models.TableOrder]
	assert.Equal(t, models.ExtractIncremental, orderBatch.Mode)
	assert.Equal(t, 1, orderBatch.Rows)
	assert.Equal(t, watermark, orderBatch.From)
	assert.Equal(t, ts, orderBatch.To)

	segBatch := snap.Batches[models.TableSegment]
	assert.Equal(t, models.ExtractFull, segBatch.Mode)
	assert.True(t, segBatch.From.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtract_TableFailureAbortsRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	boom := errors.New("connection reset")
	empty := func(cols ...string) *sqlmock.Rows { return sqlmock.NewRows(cols) }

	mock.ExpectQuery(`FROM segment$`).WillReturnRows(empty("segment_id", "segment_name", "last_modified"))
	mock.ExpectQuery(`FROM category$`).WillReturnRows(empty("category_id", "category_name", "last_modified"))
	mock.ExpectQuery(`FROM subcategory$`).WillReturnRows(empty("subcategory_id", "subcategory_name", "category_id", "last_modified"))
	mock.ExpectQuery(`FROM product$`).WillReturnRows(empty("product_id", "product_name", "subcategory_id", "last_modified"))
	mock.ExpectQuery(`FROM customer`).WillReturnRows(empty("customer_id", "customer_name", "segment_id", "country", "state", "city", "postal_code", "region", "last_modified"))
	mock.ExpectQuery(`FROM orders`).WillReturnError(boom)
	mock.ExpectQuery(`FROM order_product`).WillReturnRows(empty("order_id", "product_id", "quantity", "sales", "discount", "profit", "shipping_cost", "ship_date", "last_modified"))
	mock.ExpectQuery(`FROM returns`).WillReturnRows(empty("return_id", "order_id", "return_status", "return_region", "last_modified"))

	source := NewTimestampSource(db, "pgx", defaultModes(), 1, nil)
	_, err = source.Extract(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract orders")
}

func TestExtract_FullModeOverrideForTransactionalTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	empty := func(cols ...string) *sqlmock.Rows { return sqlmock.NewRows(cols) }
	mock.ExpectQuery(`FROM segment$`).WillReturnRows(empty("segment_id", "segment_name", "last_modified"))
	mock.ExpectQuery(`FROM category$`).WillReturnRows(empty("category_id", "category_name", "last_modified"))
	mock.ExpectQuery(`FROM subcategory$`).WillReturnRows(empty("subcategory_id", "subcategory_name", "category_id", "last_modified"))
	mock.ExpectQuery(`FROM product$`).WillReturnRows(empty("product_id", "product_name", "subcategory_id", "last_modified"))
	// customer overridden to full: no WHERE clause expected.
	mock.ExpectQuery(`FROM customer$`).WillReturnRows(empty("customer_id", "customer_name", "segment_id", "country", "state", "city", "postal_code", "region", "last_modified"))
	mock.ExpectQuery(`FROM orders WHERE last_modified`).WillReturnRows(empty("order_id", "customer_id", "order_date", "order_priority", "last_modified"))
	mock.ExpectQuery(`FROM order_product WHERE last_modified`).WillReturnRows(empty("order_id", "product_id", "quantity", "sales", "discount", "profit", "shipping_cost", "ship_date", "last_modified"))
	mock.ExpectQuery(`FROM returns WHERE last_modified`).WillReturnRows(empty("return_id", "order_id", "return_status", "return_region", "last_modified"))

	modes := defaultModes()
	modes[models.TableCustomer] = models.ExtractFull

	source := NewTimestampSource(db, "pgx", modes, 2, nil)
	snap, err := source.Extract(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, models.ExtractFull, snap.Batches[models.TableCustomer].Mode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceholderStyles(t *testing.T) {
	pg := NewTimestampSource(nil, "pgx", nil, 1, nil)
	assert.Equal(t, "$1", pg.placeholder(1))

	ms := NewTimestampSource(nil, "sqlserver", nil, 1, nil)
	assert.Equal(t, "@p1", ms.placeholder(1))
}

package etl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awesome-inc/warehouse-etl/pkg/models"
)

func sampleSnapshot() *models.Snapshot {
	orderDate := time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC)
	shipDate := time.Date(2024, 12, 7, 0, 0, 0, 0, time.UTC)
	return &models.Snapshot{
		Segments:      []models.Segment{{SegmentID: "S1", SegmentName: "Consumer"}},
		Categories:    []models.Category{{CategoryID: "CA1", CategoryName: "Technology"}},
		Subcategories: []models.Subcategory{{SubcategoryID: "SC1", SubcategoryName: "Phones", CategoryID: "CA1"}},
		Products:      []models.Product{{ProductID: "P1", ProductName: "Phone X", SubcategoryID: "SC1"}},
		Customers: []models.Customer{{
			CustomerID: "C1", CustomerName: "Alice Birch", SegmentID: "S1",
			Country: "United States", State: "Ohio", City: "Columbus", Region: "East",
		}},
		Orders: []models.Order{{OrderID: "O1", CustomerID: "C1", OrderDate: orderDate}},
		OrderLines: []models.OrderLine{{
			OrderID: "O1", ProductID: "P1", Quantity: 3,
			Sales: 4800, Discount: 0.1, Profit: 4410, ShippingCost: 25.5,
			ShipDate: shipDate,
		}},
		Returns: []models.Return{{ReturnID: "R1", OrderID: "O1", ReturnStatus: "Approved", ReturnRegion: "East"}},
	}
}

func TestTransform_StarBatch(t *testing.T) {
	resolver := NewKeyResolver(nil)
	batch, err := NewTransformer(resolver, 0.05, nil).Transform(sampleSnapshot())
	require.NoError(t, err)

	require.Len(t, batch.DimCustomers, 1)
	customer := batch.DimCustomers[0]
	assert.Equal(t, "Alice Birch", customer.CustomerName)
	assert.Equal(t, "Consumer", customer.SegmentName)

	require.Len(t, batch.DimProducts, 1)
	product := batch.DimProducts[0]
	assert.Equal(t, "Phone X", product.ProductName)
	assert.Equal(t, "Technology", product.CategoryName)
	assert.Equal(t, "Phones", product.SubcategoryName)

	require.Len(t, batch.DimReturns, 1)
	assert.Equal(t, "Approved", batch.DimReturns[0].ReturnStatus)

	// One date row per distinct day, sorted: order date then ship date.
	require.Len(t, batch.DimDates, 2)
	assert.Equal(t, 20241205, batch.DimDates[0].DateKey)
	assert.Equal(t, 20241207, batch.DimDates[1].DateKey)

	require.Len(t, batch.FactSales, 1)
	fact := batch.FactSales[0]
	assert.Equal(t, customer.CustomerKey, fact.CustomerKey)
	assert.Equal(t, product.ProductKey, fact.ProductKey)
	assert.Equal(t, 20241207, fact.ShipDateKey)
	assert.Equal(t, 4800.0, fact.Sales)
	assert.Equal(t, 4410.0, fact.Profit)
	require.NotNil(t, fact.ReturnKey)
	assert.Equal(t, batch.DimReturns[0].ReturnKey, *fact.ReturnKey)

	require.Len(t, batch.FactReturns, 1)
	ret := batch.FactReturns[0]
	assert.Equal(t, customer.CustomerKey, ret.CustomerKey)
	assert.Equal(t, 20241205, ret.OrderDateKey)

	assert.Zero(t, batch.Skips.Count())
}

func TestTransform_DateAttributes(t *testing.T) {
	resolver := NewKeyResolver(nil)
	batch, err := NewTransformer(resolver, 0, nil).Transform(sampleSnapshot())
	require.NoError(t, err)

	d := batch.DimDates[0] // 2024-12-05
	assert.Equal(t, 2024, d.Year)
	assert.Equal(t, 4, d.Quarter)
	assert.Equal(t, 12, d.Month)
	assert.Equal(t, "December", d.MonthName)
	assert.Equal(t, 5, d.Day)
	assert.Equal(t, 49, d.ISOWeek)
	assert.Equal(t, "Thursday", d.DayOfWeek)
}

func TestTransform_SkipsLineWithoutParentOrder(t *testing.T) {
	snap := sampleSnapshot()
	snap.OrderLines = append(snap.OrderLines, models.OrderLine{
		OrderID: "O-missing", ProductID: "P1",
		ShipDate: time.Date(2024, 12, 8, 0, 0, 0, 0, time.UTC),
	})

	resolver := NewKeyResolver(nil)
	batch, err := NewTransformer(resolver, 0.9, nil).Transform(snap)
	require.NoError(t, err)

	assert.Len(t, batch.FactSales, 1)
	require.Equal(t, 1, batch.Skips.Count())
	skip := batch.Skips.Skips[0]
	assert.Equal(t, "order_line", skip.Entity)
	assert.Contains(t, skip.Reason, "parent order not in batch")
}

func TestTransform_SkipsLineWithUnknownCustomer(t *testing.T) {
	snap := sampleSnapshot()
	snap.Customers = nil // order references C1 but the batch never defines it

	resolver := NewKeyResolver(nil)
	batch, err := NewTransformer(resolver, 0, nil).Transform(snap)
	require.NoError(t, err)

	assert.Empty(t, batch.FactSales)
	assert.Empty(t, batch.FactReturns)
	assert.Equal(t, 2, batch.Skips.Count())
}

func TestTransform_SkipRateAboveThresholdFails(t *testing.T) {
	snap := sampleSnapshot()
	snap.Orders = nil // every fact candidate loses its parent

	resolver := NewKeyResolver(nil)
	_, err := NewTransformer(resolver, 0.05, nil).Transform(snap)
	require.Error(t, err)
	assert.Equal(t, ErrTransformFailed, ClassOf(err))
}

func TestTransform_ReturnKeyNilWithoutReturn(t *testing.T) {
	snap := sampleSnapshot()
	snap.Returns = nil

	resolver := NewKeyResolver(nil)
	batch, err := NewTransformer(resolver, 0, nil).Transform(snap)
	require.NoError(t, err)

	require.Len(t, batch.FactSales, 1)
	assert.Nil(t, batch.FactSales[0].ReturnKey)
	assert.Empty(t, batch.FactReturns)
}

func TestTransform_KeyStableAcrossRuns(t *testing.T) {
	// The same resolver carried across two transforms must hand the
	// same customer the same key even when attributes changed.
	resolver := NewKeyResolver(nil)

	first, err := NewTransformer(resolver, 0, nil).Transform(sampleSnapshot())
	require.NoError(t, err)

	snap := sampleSnapshot()
	snap.Customers[0].CustomerName = "Alice B. Renamed"
	second, err := NewTransformer(resolver, 0, nil).Transform(snap)
	require.NoError(t, err)

	assert.Equal(t, first.DimCustomers[0].CustomerKey, second.DimCustomers[0].CustomerKey)
	assert.Equal(t, "Alice B. Renamed", second.DimCustomers[0].CustomerName)
}

func TestTransform_EmptySnapshot(t *testing.T) {
	resolver := NewKeyResolver(nil)
	batch, err := NewTransformer(resolver, 0.05, nil).Transform(&models.Snapshot{})
	require.NoError(t, err)

	assert.Zero(t, batch.FactRows())
	assert.Empty(t, batch.DimDates)
	assert.Zero(t, batch.Skips.Count())
}

package etl

import (
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/awesome-inc/warehouse-etl/pkg/models"
	"github.com/awesome-inc/warehouse-etl/pkg/utils"
)

// Transformer denormalizes an extracted snapshot into star-schema
// rows, consulting the key resolver for surrogate keys. Rows whose
// parent entity is missing from the batch are skipped and reported; a
// skip rate above the configured threshold fails the run.
type Transformer struct {
	resolver      *KeyResolver
	skipThreshold float64
	logger        *slog.Logger
}

// NewTransformer wires a transformer to a primed resolver.
func NewTransformer(resolver *KeyResolver, skipThreshold float64, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transformer{resolver: resolver, skipThreshold: skipThreshold, logger: logger}
}

// Transform produces the warehouse batch for one snapshot. Dimension
// candidates are built concurrently per dimension type (the resolver
// serializes minting per dimension); facts follow once every business
// id seen this run has a surrogate key.
func (t *Transformer) Transform(snap *models.Snapshot) (*models.StarBatch, error) {
	batch := &models.StarBatch{}

	segmentName := make(map[string]string, len(snap.Segments))
	for _, s := range snap.Segments {
		segmentName[s.SegmentID] = s.SegmentName
	}
	categoryName := make(map[string]string, len(snap.Categories))
	for _, c := range snap.Categories {
		categoryName[c.CategoryID] = c.CategoryName
	}
	subcategories := make(map[string]models.Subcategory, len(snap.Subcategories))
	for _, sc := range snap.Subcategories {
		subcategories[sc.SubcategoryID] = sc
	}
	ordersByID := make(map[string]models.Order, len(snap.Orders))
	for _, o := range snap.Orders {
		ordersByID[o.OrderID] = o
	}
	returnByOrder := make(map[string]models.Return, len(snap.Returns))
	for _, r := range snap.Returns {
		returnByOrder[r.OrderID] = r
	}

	var g errgroup.Group
	g.Go(func() error {
		batch.DimCustomers = t.customerDims(snap.Customers, segmentName)
		return nil
	})
	g.Go(func() error {
		batch.DimProducts = t.productDims(snap.Products, subcategories, categoryName)
		return nil
	})
	g.Go(func() error {
		batch.DimReturns = t.returnDims(snap.Returns)
		return nil
	})
	_ = g.Wait()

	batch.DimDates = dateDims(snap)

	attempted := len(snap.OrderLines) + len(snap.Returns)
	t.salesFacts(snap, ordersByID, returnByOrder, batch)
	t.returnFacts(snap, ordersByID, batch)

	rate := batch.Skips.Rate(attempted)
	if t.skipThreshold > 0 && rate > t.skipThreshold {
		return nil, failf(ErrTransformFailed,
			"skip rate %.2f%% exceeds threshold %.2f%% (%d of %d rows skipped)",
			rate*100, t.skipThreshold*100, batch.Skips.Count(), attempted)
	}

	t.logger.Info("transform complete",
		slog.Int("fact_rows", batch.FactRows()),
		slog.Int("dim_dates", len(batch.DimDates)),
		slog.Int("skipped", batch.Skips.Count()))
	return batch, nil
}

func (t *Transformer) customerDims(customers []models.Customer, segmentName map[string]string) []models.DimCustomer {
	out := make([]models.DimCustomer, 0, len(customers))
	for _, c := range customers {
		key, err := t.resolver.Resolve(models.DimensionCustomer, c.CustomerID)
		if err != nil {
			t.logger.Warn("dropping customer row", slog.Any("error", err))
			continue
		}
		out = append(out, models.DimCustomer{
			CustomerKey:  key,
			CustomerID:   c.CustomerID,
			CustomerName: c.CustomerName,
			SegmentName:  segmentName[c.SegmentID],
			Country:      c.Country,
			State:        c.State,
			City:         c.City,
			PostalCode:   c.PostalCode,
			Region:       c.Region,
		})
	}
	return out
}

func (t *Transformer) productDims(products []models.Product, subcategories map[string]models.Subcategory, categoryName map[string]string) []models.DimProduct {
	out := make([]models.DimProduct, 0, len(products))
	for _, p := range products {
		key, err := t.resolver.Resolve(models.DimensionProduct, p.ProductID)
		if err != nil {
			t.logger.Warn("dropping product row", slog.Any("error", err))
			continue
		}
		sub := subcategories[p.SubcategoryID]
		out = append(out, models.DimProduct{
			ProductKey:      key,
			ProductID:       p.ProductID,
			ProductName:     p.ProductName,
			SubcategoryName: sub.SubcategoryName,
			CategoryName:    categoryName[sub.CategoryID],
		})
	}
	return out
}

func (t *Transformer) returnDims(returns []models.Return) []models.DimReturn {
	out := make([]models.DimReturn, 0, len(returns))
	for _, r := range returns {
		key, err := t.resolver.Resolve(models.DimensionReturn, r.ReturnID)
		if err != nil {
			t.logger.Warn("dropping return row", slog.Any("error", err))
			continue
		}
		out = append(out, models.DimReturn{
			ReturnKey:    key,
			ReturnID:     r.ReturnID,
			ReturnStatus: r.ReturnStatus,
			ReturnRegion: r.ReturnRegion,
			OrderID:      r.OrderID,
		})
	}
	return out
}

// dateDims derives one DimDate per distinct calendar day appearing in
// the batch's order dates or ship dates. Every attribute is a pure
// function of the date.
func dateDims(snap *models.Snapshot) []models.DimDate {
	seen := make(map[int]time.Time)
	for _, o := range snap.Orders {
		d := utils.Truncate(o.OrderDate)
		seen[utils.DateKey(d)] = d
	}
	for _, l := range snap.OrderLines {
		d := utils.Truncate(l.ShipDate)
		seen[utils.DateKey(d)] = d
	}

	keys := make([]int, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make([]models.DimDate, 0, len(keys))
	for _, k := range keys {
		d := seen[k]
		out = append(out, models.DimDate{
			DateKey:   k,
			FullDate:  d,
			Year:      d.Year(),
			Quarter:   utils.Quarter(d),
			Month:     int(d.Month()),
			MonthName: d.Month().String(),
			Day:       d.Day(),
			ISOWeek:   utils.ISOWeek(d),
			DayOfWeek: d.Weekday().String(),
		})
	}
	return out
}

// salesFacts emits one FactSales per order line, joined to its parent
// order. Profit is taken as extracted, never recomputed.
func (t *Transformer) salesFacts(snap *models.Snapshot, ordersByID map[string]models.Order, returnByOrder map[string]models.Return, batch *models.StarBatch) {
	for _, line := range snap.OrderLines {
		order, ok := ordersByID[line.OrderID]
		if !ok {
			batch.Skips.Add("order_line", line.OrderID+"/"+line.ProductID, "parent order not in batch")
			continue
		}
		customerKey, ok := t.resolver.Lookup(models.DimensionCustomer, order.CustomerID)
		if !ok {
			batch.Skips.Add("order_line", line.OrderID+"/"+line.ProductID, "customer "+order.CustomerID+" unknown")
			continue
		}
		productKey, ok := t.resolver.Lookup(models.DimensionProduct, line.ProductID)
		if !ok {
			batch.Skips.Add("order_line", line.OrderID+"/"+line.ProductID, "product "+line.ProductID+" unknown")
			continue
		}

		var returnKey *int64
		if ret, ok := returnByOrder[line.OrderID]; ok {
			if key, ok := t.resolver.Lookup(models.DimensionReturn, ret.ReturnID); ok {
				returnKey = &key
			}
		}

		batch.FactSales = append(batch.FactSales, models.FactSales{
			OrderID:      line.OrderID,
			ProductID:    line.ProductID,
			CustomerKey:  customerKey,
			ProductKey:   productKey,
			ShipDateKey:  utils.DateKey(line.ShipDate),
			ReturnKey:    returnKey,
			Sales:        line.Sales,
			Quantity:     line.Quantity,
			Discount:     line.Discount,
			Profit:       line.Profit,
			ShippingCost: line.ShippingCost,
		})
	}
}

// returnFacts emits one FactReturn per return event, joined to its
// parent order for the order date and customer.
func (t *Transformer) returnFacts(snap *models.Snapshot, ordersByID map[string]models.Order, batch *models.StarBatch) {
	for _, ret := range snap.Returns {
		order, ok := ordersByID[ret.OrderID]
		if !ok {
			batch.Skips.Add("return", ret.ReturnID, "parent order not in batch")
			continue
		}
		customerKey, ok := t.resolver.Lookup(models.DimensionCustomer, order.CustomerID)
		if !ok {
			batch.Skips.Add("return", ret.ReturnID, "customer "+order.CustomerID+" unknown")
			continue
		}
		returnKey, ok := t.resolver.Lookup(models.DimensionReturn, ret.ReturnID)
		if !ok {
			batch.Skips.Add("return", ret.ReturnID, "return key missing")
			continue
		}

		batch.FactReturns = append(batch.FactReturns, models.FactReturn{
			ReturnID:     ret.ReturnID,
			ReturnKey:    returnKey,
			CustomerKey:  customerKey,
			OrderDateKey: utils.DateKey(order.OrderDate),
			ReturnStatus: ret.ReturnStatus,
			ReturnRegion: ret.ReturnRegion,
		})
	}
}

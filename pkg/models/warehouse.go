package models

import "time"

// Dimension identifies a surrogate-keyed dimension for key resolution.
type Dimension string

const (
	DimensionCustomer Dimension = "customer"
	DimensionProduct  Dimension = "product"
	DimensionReturn   Dimension = "return"
)

// DimDate is one calendar day. Its key is the deterministic YYYYMMDD
// integer; every attribute is a pure function of FullDate.
type DimDate struct {
	DateKey   int
	FullDate  time.Time
	Year      int
	Quarter   int
	Month     int
	MonthName string
	Day       int
	ISOWeek   int
	DayOfWeek string
}

// DimCustomer is a customer dimension row. CustomerKey is assigned by
// the key resolver once per customer id and never renumbered.
type DimCustomer struct {
	CustomerKey  int64
	CustomerID   string
	CustomerName string
	SegmentName  string
	Country      string
	State        string
	City         string
	PostalCode   string
	Region       string
}

// DimProduct is a product dimension row, denormalized with its
// category and subcategory names.
type DimProduct struct {
	ProductKey      int64
	ProductID       string
	ProductName     string
	CategoryName    string
	SubcategoryName string
}

// DimReturn is a return dimension row.
type DimReturn struct {
	ReturnKey    int64
	ReturnID     string
	ReturnStatus string
	ReturnRegion string
	OrderID      string
}

// FactSales is one order line. OrderID and ProductID are carried as
// natural keys so the loader can enforce the (order_id, product_id)
// uniqueness guard that makes fact insertion idempotent.
type FactSales struct {
	OrderID      string
	ProductID    string
	CustomerKey  int64
	ProductKey   int64
	ShipDateKey  int
	ReturnKey    *int64
	Sales        float64
	Quantity     int
	Discount     float64
	Profit       float64
	ShippingCost float64
}

// FactReturn is one return event, unique on ReturnID.
type FactReturn struct {
	ReturnID     string
	ReturnKey    int64
	CustomerKey  int64
	OrderDateKey int
	ReturnStatus string
	ReturnRegion string
}

// StarBatch is the output of the transform phase: every warehouse row
// the run intends to load, plus the per-row skip accounting.
type StarBatch struct {
	DimDates     []DimDate
	DimCustomers []DimCustomer
	DimProducts  []DimProduct
	DimReturns   []DimReturn
	FactSales    []FactSales
	FactReturns  []FactReturn

	Skips SkipReport
}

// FactRows is the number of fact rows in the batch, which is what the
// run log records as rows processed.
func (b *StarBatch) FactRows() int {
	return len(b.FactSales) + len(b.FactReturns)
}

// LoadResult reports rows written per target table.
type LoadResult struct {
	RowsWritten map[string]int
}

// Total sums rows written across all target tables.
func (r LoadResult) Total() int {
	n := 0
	for _, c := range r.RowsWritten {
		n += c
	}
	return n
}

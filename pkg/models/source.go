// Package models defines the row types moved through the pipeline:
// OLTP source rows, the extraction snapshot, and the star-schema
// dimension and fact rows written to the warehouse.
package models

import "time"

// SourceTable identifies a tracked OLTP table.
type SourceTable string

const (
	TableSegment     SourceTable = "segment"
	TableCategory    SourceTable = "category"
	TableSubcategory SourceTable = "subcategory"
	TableProduct     SourceTable = "product"
	TableCustomer    SourceTable = "customer"
	TableOrder       SourceTable = "orders"
	TableOrderLine   SourceTable = "order_product"
	TableReturn      SourceTable = "returns"
)

// ExtractMode is how a table's rows are pulled each run.
type ExtractMode string

const (
	// ExtractFull re-reads the whole table every run. Used for small
	// reference tables; the loader absorbs the repetition via upserts.
	ExtractFull ExtractMode = "full"

	// ExtractIncremental reads only rows with last_modified past the
	// current watermark, ordered by last_modified.
	ExtractIncremental ExtractMode = "incremental"
)

// Segment is a customer segment master row.
type Segment struct {
	SegmentID    string
	SegmentName  string
	LastModified time.Time
}

// Category is a product category master row.
type Category struct {
	CategoryID   string
	CategoryName string
	LastModified time.Time
}

// Subcategory links a product subcategory to its category.
type Subcategory struct {
	SubcategoryID   string
	SubcategoryName string
	CategoryID      string
	LastModified    time.Time
}

// Product is an OLTP product row. Category attributes live on the
// subcategory/category tables and are denormalized during transform.
type Product struct {
	ProductID     string
	ProductName   string
	SubcategoryID string
	LastModified  time.Time
}

// Customer is an OLTP customer row.
type Customer struct {
	CustomerID   string
	CustomerName string
	SegmentID    string
	Country      string
	State        string
	City         string
	PostalCode   string
	Region       string
	LastModified time.Time
}

// Order is an OLTP order header row.
type Order struct {
	OrderID      string
	CustomerID   string
	OrderDate    time.Time
	Priority     string
	LastModified time.Time
}

// OrderLine is one order x product row; the grain of FactSales.
type OrderLine struct {
	OrderID      string
	ProductID    string
	Quantity     int
	Sales        float64
	Discount     float64
	Profit       float64
	ShippingCost float64
	ShipDate     time.Time
	LastModified time.Time
}

// Return is an OLTP return event row.
type Return struct {
	ReturnID     string
	OrderID      string
	ReturnStatus string
	ReturnRegion string
	LastModified time.Time
}

// BatchInfo tags one extracted table batch with its extraction mode and
// the last_modified range it covers.
type BatchInfo struct {
	Table SourceTable
	Mode  ExtractMode
	Rows  int
	From  time.Time
	To    time.Time
}

// Snapshot is the output of the extract phase: one typed batch per
// tracked source table, valid only for the duration of a single run.
type Snapshot struct {
	Segments      []Segment
	Categories    []Category
	Subcategories []Subcategory
	Products      []Product
	Customers     []Customer
	Orders        []Order
	OrderLines    []OrderLine
	Returns       []Return

	Watermark time.Time
	Batches   map[SourceTable]BatchInfo
}

// ChangedRows is the number of rows pulled from the transactional
// tables, i.e. the size of the delta this run has to process.
func (s *Snapshot) ChangedRows() int {
	return len(s.Orders) + len(s.OrderLines) + len(s.Returns)
}

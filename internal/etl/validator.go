package etl

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/awesome-inc/warehouse-etl/pkg/models"
)

// Validator runs the fixed data-quality battery between transform and
// load: orphan detection on pre-load fact rows, null-critical-field
// detection on dimension candidates, and a per-entity referential
// summary. An orphaned fact after dimension creation is a logic
// defect, not a data condition, and blocks the load.
type Validator struct {
	resolver *KeyResolver
	logger   *slog.Logger
}

// NewValidator wires the validator to the run's resolver.
func NewValidator(resolver *KeyResolver, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Validator{resolver: resolver, logger: logger}
}

// Validate checks the batch and returns the structured quality report.
// The caller must not load a batch whose report did not pass.
func (v *Validator) Validate(batch *models.StarBatch) *models.QualityReport {
	report := &models.QualityReport{}

	dateKeys := make(map[int]struct{}, len(batch.DimDates))
	for _, d := range batch.DimDates {
		dateKeys[d.DateKey] = struct{}{}
	}

	v.checkDimensions(batch, report)
	v.checkSalesFacts(batch, dateKeys, report)
	v.checkReturnFacts(batch, dateKeys, report)

	if report.Passed() {
		v.logger.Info("validation passed", slog.Int("checked_facts", batch.FactRows()))
	} else {
		v.logger.Error("validation failed",
			slog.Int("orphaned_facts", report.OrphanedFacts),
			slog.Int("problems", len(report.Problems)))
	}
	return report
}

func (v *Validator) checkDimensions(batch *models.StarBatch, report *models.QualityReport) {
	customers := models.EntitySummary{Entity: "dim_customer"}
	for _, c := range batch.DimCustomers {
		if c.CustomerName == "" {
			customers.NullCritical++
			report.Problems = append(report.Problems,
				fmt.Sprintf("dim_customer %s: missing customer name", c.CustomerID))
			continue
		}
		customers.Valid++
	}

	products := models.EntitySummary{Entity: "dim_product"}
	for _, p := range batch.DimProducts {
		if p.ProductName == "" {
			products.NullCritical++
			report.Problems = append(report.Problems,
				fmt.Sprintf("dim_product %s: missing product name", p.ProductID))
			continue
		}
		products.Valid++
	}

	returns := models.EntitySummary{Entity: "dim_return"}
	for _, r := range batch.DimReturns {
		if r.ReturnStatus == "" {
			returns.NullCritical++
			report.Problems = append(report.Problems,
				fmt.Sprintf("dim_return %s: missing return status", r.ReturnID))
			continue
		}
		returns.Valid++
	}

	report.Summaries = append(report.Summaries, customers, products, returns)
}

func (v *Validator) checkSalesFacts(batch *models.StarBatch, dateKeys map[int]struct{}, report *models.QualityReport) {
	summary := models.EntitySummary{Entity: "fact_sales"}
	for _, f := range batch.FactSales {
		orphaned := false
		if !v.resolver.HasKey(models.DimensionCustomer, f.CustomerKey) {
			report.Problems = append(report.Problems,
				fmt.Sprintf("fact_sales %s/%s: customer key %d has no dimension row", f.OrderID, f.ProductID, f.CustomerKey))
			orphaned = true
		}
		if !v.resolver.HasKey(models.DimensionProduct, f.ProductKey) {
			report.Problems = append(report.Problems,
				fmt.Sprintf("fact_sales %s/%s: product key %d has no dimension row", f.OrderID, f.ProductID, f.ProductKey))
			orphaned = true
		}
		if _, ok := dateKeys[f.ShipDateKey]; !ok {
			report.Problems = append(report.Problems,
				fmt.Sprintf("fact_sales %s/%s: date key %d has no dimension row", f.OrderID, f.ProductID, f.ShipDateKey))
			orphaned = true
		}
		if f.ReturnKey != nil && !v.resolver.HasKey(models.DimensionReturn, *f.ReturnKey) {
			report.Problems = append(report.Problems,
				fmt.Sprintf("fact_sales %s/%s: return key %d has no dimension row", f.OrderID, f.ProductID, *f.ReturnKey))
			orphaned = true
		}
		if orphaned {
			summary.Orphaned++
			report.OrphanedFacts++
			continue
		}
		summary.Valid++
	}
	report.Summaries = append(report.Summaries, summary)
}

func (v *Validator) checkReturnFacts(batch *models.StarBatch, dateKeys map[int]struct{}, report *models.QualityReport) {
	summary := models.EntitySummary{Entity: "fact_return"}
	for _, f := range batch.FactReturns {
		orphaned := false
		if !v.resolver.HasKey(models.DimensionCustomer, f.CustomerKey) {
			report.Problems = append(report.Problems,
				fmt.Sprintf("fact_return %s: customer key %d has no dimension row", f.ReturnID, f.CustomerKey))
			orphaned = true
		}
		if !v.resolver.HasKey(models.DimensionReturn, f.ReturnKey) {
			report.Problems = append(report.Problems,
				fmt.Sprintf("fact_return %s: return key %d has no dimension row", f.ReturnID, f.ReturnKey))
			orphaned = true
		}
		if _, ok := dateKeys[f.OrderDateKey]; !ok {
			report.Problems = append(report.Problems,
				fmt.Sprintf("fact_return %s: date key %d has no dimension row", f.ReturnID, f.OrderDateKey))
			orphaned = true
		}
		if orphaned {
			summary.Orphaned++
			report.OrphanedFacts++
			continue
		}
		summary.Valid++
	}
	report.Summaries = append(report.Summaries, summary)
}

package models

import "time"

// RunStatus is the outcome recorded for a pipeline run.
type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunFailure RunStatus = "FAILURE"
)

// RunOutcome is one append-only run-log row. Only SUCCESS outcomes
// advance the watermark read by later runs.
type RunOutcome struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        RunStatus
	RowsProcessed int
	ErrorClass    string
}

// RowSkip records one row excluded during transform and why.
type RowSkip struct {
	Entity string
	ID     string
	Reason string
}

// SkipReport aggregates per-row transform skips for a run.
type SkipReport struct {
	Skips []RowSkip
}

// Add records a skipped row.
func (r *SkipReport) Add(entity, id, reason string) {
	r.Skips = append(r.Skips, RowSkip{Entity: entity, ID: id, Reason: reason})
}

// Count is the number of skipped rows.
func (r *SkipReport) Count() int { return len(r.Skips) }

// Rate is skipped rows over attempted rows, 0 when nothing was attempted.
func (r *SkipReport) Rate(attempted int) float64 {
	if attempted == 0 {
		return 0
	}
	return float64(r.Count()) / float64(attempted)
}

// EntitySummary is the referential summary for one entity type in the
// data-quality report.
type EntitySummary struct {
	Entity       string
	Valid        int
	Orphaned     int
	NullCritical int
}

// PctValid is the percentage of rows that passed every check.
func (s EntitySummary) PctValid() float64 {
	total := s.Valid + s.Orphaned + s.NullCritical
	if total == 0 {
		return 100
	}
	return float64(s.Valid) / float64(total) * 100
}

// QualityReport is the structured output of the pre-load validation
// battery. The loader runs only when OrphanedFacts is zero.
type QualityReport struct {
	Summaries     []EntitySummary
	OrphanedFacts int
	Problems      []string
}

// Passed reports whether the batch is loadable.
func (q *QualityReport) Passed() bool { return q.OrphanedFacts == 0 }

// Package utils holds small pure helpers shared across the pipeline.
package utils

import "time"

// DateKey derives the warehouse key for a calendar day as the YYYYMMDD
// integer (2024-12-05 -> 20241205). The same date always yields the
// same key; it is never derived any other way.
func DateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// Quarter returns the calendar quarter (1-4) for a date.
func Quarter(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// ISOWeek returns the ISO-8601 week number for a date.
func ISOWeek(t time.Time) int {
	_, week := t.ISOWeek()
	return week
}

// Truncate drops the time-of-day portion, keeping the date in UTC.
func Truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

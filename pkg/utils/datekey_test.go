package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateKey(t *testing.T) {
	tests := []struct {
		name string
		date time.Time
		want int
	}{
		{"regular day", time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC), 20241205},
		{"single digit month and day", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), 20240103},
		{"time of day ignored", time.Date(2024, 12, 5, 23, 59, 59, 0, time.UTC), 20241205},
		{"year boundary", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), 20241231},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DateKey(tt.date))
		})
	}
}

func TestDateKey_Deterministic(t *testing.T) {
	d := time.Date(2024, 12, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, DateKey(d), DateKey(d.Add(6*time.Hour)))
}

func TestQuarter(t *testing.T) {
	assert.Equal(t, 1, Quarter(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, Quarter(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 4, Quarter(time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC)))
}

func TestTruncate(t *testing.T) {
	got := Truncate(time.Date(2024, 12, 5, 17, 42, 9, 123, time.FixedZone("X", 3600)))
	assert.Equal(t, time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC), got)
}

func TestISOWeek(t *testing.T) {
	// 2024-12-30 belongs to ISO week 1 of 2025.
	assert.Equal(t, 1, ISOWeek(time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 49, ISOWeek(time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC)))
}

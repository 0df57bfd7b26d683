package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodStart(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"mid month", time.Date(2026, 3, 17, 13, 4, 0, 0, time.UTC), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"first instant", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"offset zone crosses into next month in UTC", time.Date(2026, 3, 31, 22, 0, 0, 0, est), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(PeriodStart(tt.in)), "got %v", PeriodStart(tt.in))
		})
	}
}

func TestNextPeriodStart_YearBoundary(t *testing.T) {
	got := NextPeriodStart(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestCrossedPeriod(t *testing.T) {
	anchor := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, CrossedPeriod(anchor, time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)))
	assert.True(t, CrossedPeriod(anchor, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, CrossedPeriod(anchor, time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)))
	assert.False(t, CrossedPeriod(anchor, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)), "clock skew backwards is not a rollover")
	assert.True(t, CrossedPeriod(time.Time{}, anchor))
}

func TestInPeriod(t *testing.T) {
	anchor := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, InPeriod(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), anchor))
	assert.False(t, InPeriod(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), anchor))
}

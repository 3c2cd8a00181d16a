package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 2025-01-07 is a Tuesday.
func tuesday(hour, min int) time.Time {
	return time.Date(2025, 1, 7, hour, min, 0, 0, time.UTC)
}

func TestDisabledScheduleAlwaysWithin(t *testing.T) {
	s := Schedule{Enabled: false}
	assert.True(t, s.WithinWindow(tuesday(3, 0)))
	assert.True(t, s.WithinWindow(tuesday(15, 0)))
}

func TestEnabledScheduleWithoutWindowsNeverWithin(t *testing.T) {
	s := Schedule{Enabled: true, Timezone: "UTC"}
	assert.False(t, s.WithinWindow(tuesday(12, 0)))
}

func TestSimpleDaytimeWindow(t *testing.T) {
	s := Schedule{
		Enabled:  true,
		Timezone: "UTC",
		Windows: []Window{
			{Label: "office", Days: []int{1, 2, 3, 4, 5}, Start: "09:00", End: "17:00"},
		},
	}

	assert.True(t, s.WithinWindow(tuesday(9, 0)))
	assert.True(t, s.WithinWindow(tuesday(16, 59)))
	assert.False(t, s.WithinWindow(tuesday(17, 0)))
	assert.False(t, s.WithinWindow(tuesday(8, 59)))

	// 2025-01-05 is a Sunday, outside the weekday set.
	sunday := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
	assert.False(t, s.WithinWindow(sunday))
}

func TestMidnightCrossingWindow(t *testing.T) {
	s := Schedule{
		Enabled:  true,
		Timezone: "UTC",
		Windows: []Window{
			{Label: "night", Days: []int{1, 2, 3, 4, 5}, Start: "22:00", End: "03:00"},
		},
	}

	// Tuesday 23:30 is inside the Tuesday window.
	assert.True(t, s.WithinWindow(tuesday(23, 30)))

	// Wednesday 02:00 is the tail of the Tuesday window.
	wednesday := time.Date(2025, 1, 8, 2, 0, 0, 0, time.UTC)
	assert.True(t, s.WithinWindow(wednesday))

	// Wednesday 04:00 is past the tail.
	assert.False(t, s.WithinWindow(wednesday.Add(2*time.Hour)))

	// Saturday 23:30: Saturday is not a configured day.
	saturday := time.Date(2025, 1, 11, 23, 30, 0, 0, time.UTC)
	assert.False(t, s.WithinWindow(saturday))

	// Saturday 01:00 is the tail of the Friday window.
	assert.True(t, s.WithinWindow(time.Date(2025, 1, 11, 1, 0, 0, 0, time.UTC)))
}

func TestTimezoneConversion(t *testing.T) {
	s := Schedule{
		Enabled:  true,
		Timezone: "Asia/Jakarta", // UTC+7, no DST
		Windows: []Window{
			{Label: "morning", Days: []int{2}, Start: "08:00", End: "10:00"},
		},
	}

	// 01:30 UTC Tuesday is 08:30 Tuesday in Jakarta.
	assert.True(t, s.WithinWindow(tuesday(1, 30)))
	// 08:30 UTC Tuesday is 15:30 in Jakarta.
	assert.False(t, s.WithinWindow(tuesday(8, 30)))
}

func TestWindowIgnoresMalformedClock(t *testing.T) {
	s := Schedule{
		Enabled:  true,
		Timezone: "UTC",
		Windows: []Window{
			{Label: "broken", Days: []int{2}, Start: "9am", End: "17:00"},
		},
	}
	assert.False(t, s.WithinWindow(tuesday(10, 0)))
}

func TestParseClock(t *testing.T) {
	got, err := parseClock("22:05")
	assert.NoError(t, err)
	assert.Equal(t, 22*60+5, got)

	for _, bad := range []string{"", "24:00", "12:60", "noon", "12"} {
		_, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}

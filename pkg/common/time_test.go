package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartOfDay(t *testing.T) {
	ts := time.Date(2024, 3, 31, 14, 25, 3, 0, Stockholm)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, Stockholm), StartOfDay(ts))
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 1, 15, 23, 0, 0, 0, Stockholm)

	assert.Equal(t, 0, DaysBetween(a, a.Add(30*time.Minute)))
	assert.Equal(t, 1, DaysBetween(a, a.Add(2*time.Hour)))
	assert.Equal(t, -1, DaysBetween(a, a.Add(-24*time.Hour)))

	t.Run("DST", func(t *testing.T) {
		// 2024-03-31 only has 23 hours in Stockholm
		d := time.Date(2024, 3, 31, 0, 0, 0, 0, Stockholm)
		assert.Equal(t, 1, DaysBetween(d, d.Add(23*time.Hour)))
	})
}

func TestAtHour(t *testing.T) {
	d := time.Date(2024, 1, 15, 0, 0, 0, 0, Stockholm)
	assert.Equal(t, time.Date(2024, 1, 15, 22, 0, 0, 0, Stockholm), AtHour(d, 22))
	assert.Equal(t, time.Date(2024, 1, 16, 6, 0, 0, 0, Stockholm), AtHour(d, 30))
	assert.Equal(t, time.Date(2024, 1, 16, 22, 0, 0, 0, Stockholm), AtHour(d, 46))
}

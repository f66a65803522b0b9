package prices

import (
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

// Series is the chronological price curve for today and, when published,
// tomorrow. Periods are addressed by index: today's 00:00 is index 0 and
// tomorrow's 00:00 is PerDay(). Indexes are derived from wall-clock time so
// DST days simply have missing or doubled slots instead of shifted ones.
type Series struct {
	// Day is midnight of "today" in the series location.
	Day    time.Time
	Period time.Duration
	Prices []types.Price
}

// PerHour returns the number of periods in an hour.
func (s Series) PerHour() int {
	return int(time.Hour / s.Period)
}

// PerDay returns the number of periods in a day.
func (s Series) PerDay() int {
	return 24 * s.PerHour()
}

// Periods converts a duration in hours into a number of periods.
func (s Series) Periods(hours int) int {
	return hours * s.PerHour()
}

// Index returns the period index of t.
func (s Series) Index(t time.Time) int {
	t = t.In(s.Day.Location())
	minutes := int(s.Period / time.Minute)
	return common.DaysBetween(s.Day, t)*s.PerDay() + t.Hour()*s.PerHour() + t.Minute()/minutes
}

// Range returns the prices with index in [from, to) in chronological order.
// The returned slice is a copy and may be reordered by the caller.
func (s Series) Range(from, to int) []types.Price {
	var out []types.Price
	for _, p := range s.Prices {
		if i := s.Index(p.TSStart); i >= from && i < to {
			out = append(out, p)
		}
	}
	return out
}

// HourRange is Range expressed in hours counted from today's midnight, so
// HourRange(22, 30) is tonight between 22:00 and 06:00.
func (s Series) HourRange(fromHour, toHour int) []types.Price {
	return s.Range(s.Periods(fromHour), s.Periods(toHour))
}

// Between returns the prices starting in [start, end).
func (s Series) Between(start, end time.Time) []types.Price {
	var out []types.Price
	for _, p := range s.Prices {
		if !p.TSStart.Before(start) && p.TSStart.Before(end) {
			out = append(out, p)
		}
	}
	return out
}

// At returns the price of the period containing t.
func (s Series) At(t time.Time) (types.Price, bool) {
	for _, p := range s.Prices {
		if !t.Before(p.TSStart) && t.Before(p.TSEnd) {
			return p, true
		}
	}
	return types.Price{}, false
}

// HasTomorrow returns true if any of tomorrow's prices are present.
func (s Series) HasTomorrow() bool {
	return len(s.Range(s.PerDay(), 2*s.PerDay())) > 0
}

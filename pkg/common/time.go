package common

import (
	"fmt"
	"time"

	"github.com/jinzhu/now"
)

// Stockholm is the local time zone of the price area and the installation.
var Stockholm = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		panic(fmt.Errorf("failed to load stockholm location: %w", err))
	}
	return loc
}()

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	return now.With(t).BeginningOfDay()
}

// DaysBetween returns the number of calendar days from a to b, evaluated in
// a's location. It is negative when b falls on an earlier day.
func DaysBetween(a, b time.Time) int {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da) / (24 * time.Hour))
}

// AtHour returns the wall-clock time hour:00 counted from midnight of day.
// Hours past 23 roll into the following days, so AtHour(d, 30) is 06:00 the
// next day regardless of DST changes.
func AtHour(day time.Time, hour int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d+hour/24, hour%24, 0, 0, 0, day.Location())
}

package types

import (
	"fmt"
	"time"
)

// Price represents the cost of electricity in a single scheduling period.
type Price struct {
	Provider string    `json:"provider"`
	TSStart  time.Time `json:"tsStart"`
	TSEnd    time.Time `json:"tsEnd"`

	// CostPerKWH is the spot price plus any tariff markup, in SEK/kWh.
	CostPerKWH float64 `json:"costPerKWH"`

	// MarkupPerKWH is the portion of CostPerKWH that came from the tariff.
	MarkupPerKWH float64 `json:"markupPerKWH"`

	SampleCount int `json:"-"`
}

// TariffPeriod defines when a particular grid tariff markup applies.
type TariffPeriod struct {
	// Months restricts the period to these months. Empty means every month.
	Months        []time.Month   `json:"months" yaml:"months"`
	DaysOfTheWeek []time.Weekday `json:"daysOfTheWeek" yaml:"daysOfTheWeek"`
	HourStart     int            `json:"hourStart" yaml:"hourStart"`
	HourEnd       int            `json:"hourEnd" yaml:"hourEnd"`
	Location      string         `json:"location" yaml:"location"`
	LocationPtr   *time.Location `json:"-" yaml:"-"`

	MarkupPerKWH float64 `json:"markupPerKWH" yaml:"markupPerKWH"`
	Description  string  `json:"description" yaml:"description"`
}

// Contains checks if a time is within the period.
func (p *TariffPeriod) Contains(t time.Time) (bool, error) {
	if p.LocationPtr != nil {
		t = t.In(p.LocationPtr)
	} else if p.Location != "" {
		loc, err := time.LoadLocation(p.Location)
		if err != nil {
			return false, fmt.Errorf("failed to load location %s: %w", p.Location, err)
		}
		t = t.In(loc)
	}
	if h := t.Hour(); h < p.HourStart || h >= p.HourEnd {
		return false, nil
	}
	if len(p.Months) > 0 {
		var found bool
		for _, m := range p.Months {
			if m == t.Month() {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	if len(p.DaysOfTheWeek) > 0 {
		var found bool
		dow := t.Weekday()
		for _, d := range p.DaysOfTheWeek {
			if d == dow {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

// Tariff is a retail markup table. The first matching period wins and
// BaseMarkupPerKWH applies otherwise.
type Tariff struct {
	BaseMarkupPerKWH float64        `json:"baseMarkupPerKWH" yaml:"baseMarkupPerKWH"`
	Periods          []TariffPeriod `json:"periods" yaml:"periods"`
}

// MarkupAt returns the markup for a period starting at t.
func (t Tariff) MarkupAt(ts time.Time) (float64, error) {
	for i := range t.Periods {
		ok, err := t.Periods[i].Contains(ts)
		if err != nil {
			return 0, err
		}
		if ok {
			return t.Periods[i].MarkupPerKWH, nil
		}
	}
	return t.BaseMarkupPerKWH, nil
}

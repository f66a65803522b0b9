package controller

import (
	"math"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/prices"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

// NightPlan is the overnight charge selected from tonight's prices.
type NightPlan struct {
	// Periods to charge in, chronological.
	Periods []types.Price
	// Cheap is set when the whole night was cheap enough to charge for a
	// fixed number of hours.
	Cheap bool
	// SkipDayDischarge is set when tomorrow's peak is too close to the
	// cheapest night prices for discharging to pay off.
	SkipDayDischarge bool
}

// Mean returns the mean price of the selected periods.
func (n NightPlan) Mean() float64 {
	return meanPrice(n.Periods)
}

// High returns the highest price of the selected periods.
func (n NightPlan) High() float64 {
	return maxPrice(n.Periods)
}

// planNightCharge selects the cheapest periods between 22:00 and 06:00. The
// number of hours depends on how much the price rises when more hours are
// added.
func planNightCharge(cfg Config, s prices.Series) NightPlan {
	night := s.HourRange(nightStartHour, nightEndHour)
	if len(night) == 0 {
		return NightPlan{SkipDayDischarge: true}
	}
	sorted := byPriceAsc(night)
	cheapest := func(hours int) []types.Price {
		return head(sorted, s.Periods(hours))
	}

	var plan NightPlan
	long := cfg.maxChargeHours()
	short := long - 2
	var hours int
	switch {
	case meanPrice(cheapest(cfg.cheapNightHours())) < cfg.CheapNightPrice:
		hours = cfg.cheapNightHours()
		plan.Cheap = true
	case meanPrice(cheapest(long))-meanPrice(cheapest(short)) < cfg.ExtendGap:
		hours = long
	case meanPrice(cheapest(long-1))-meanPrice(cheapest(short)) < cfg.ShortenGap:
		hours = long - 1
	default:
		hours = short
	}
	plan.Periods = chronological(cheapest(hours))

	day := s.HourRange(dayStartHour, dayEndHour)
	peak := meanPrice(head(byPriceDesc(day), s.Periods(4)))
	plan.SkipDayDischarge = len(day) == 0 || peak-meanPrice(cheapest(2)) < cfg.DischargeThreshold
	return plan
}

// chargePower spreads chargeWH over periods with some headroom. When the
// power gets too low to be efficient the most expensive periods are dropped
// until it is not or a single period is left. The returned periods are
// chronological.
func chargePower(cfg Config, periods []types.Price, period time.Duration, chargeWH float64) ([]types.Price, float64) {
	if len(periods) == 0 || chargeWH <= 0 {
		return nil, 0
	}
	periods = byPriceAsc(periods)
	power := roundUpPower(chargeWH / (float64(len(periods)) * period.Hours()) * 1.1)
	for len(periods) > 1 && power < cfg.MinChargePowerW {
		periods = periods[:len(periods)-1]
		power = roundUpPower(chargeWH / (float64(len(periods)) * period.Hours()) * 1.2)
	}
	return chronological(periods), power
}

// roundUpPower rounds w up to the next 100 W.
func roundUpPower(w float64) float64 {
	return math.Ceil(w/100) * 100
}

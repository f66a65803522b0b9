package controller

import (
	"github.com/jingfee/sungrow-scheduler/pkg/prices"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

// selectDischarge returns the periods strictly more expensive than minPrice,
// ranked by descending price starting at 0.
func selectDischarge(ps []types.Price, minPrice float64) []RankedPrice {
	var qualifying []types.Price
	for _, p := range ps {
		if p.CostPerKWH > minPrice {
			qualifying = append(qualifying, p)
		}
	}
	return rankByPrice(qualifying, 0)
}

// planDayDischarge selects tomorrow's periods between 06:00 and 22:00 that are
// worth discharging against a night charge whose highest price is nightHigh.
func planDayDischarge(cfg Config, s prices.Series, nightHigh float64) []RankedPrice {
	return selectDischarge(s.HourRange(dayStartHour, dayEndHour), nightHigh+cfg.DischargeThreshold)
}

// DayChargePlan charges once around midday to discharge both before and
// after it.
type DayChargePlan struct {
	// Charge periods, chronological.
	Charge    []types.Price
	PowerW    float64
	TargetSoC float64
	// Discharge periods before and after the charge, ranked together.
	Discharge []RankedPrice
	// Funded is the number of discharge periods before the charge, which
	// the night charge has to cover.
	Funded int
}

var (
	// dayChargeTargetSoC is indexed by the hours discharged after the
	// charge, 1 through 6.
	dayChargeTargetSoC = [2][6]float64{
		{0.7, 1, 1, 1, 1, 1},
		{0.35, 0.45, 0.55, 0.65, 0.75, 0.85},
	}
	// dayChargePowerW is indexed by the charge hours, 1 or 2, and the hours
	// discharged before the charge, 1 through 6.
	dayChargePowerW = [2][2][6]float64{
		{
			{2500, 5000, 5000, 5000, 5000, 5000},
			{1500, 3000, 3000, 3000, 3000, 3000},
		},
		{
			{3000, 3750, 4500, 5000, 5000, 5000},
			{2000, 2750, 3500, 4250, 5000, 5000},
		},
	}
)

// clampIndex maps v in [1, n] onto a table index, clamping out of range
// values to the nearest bound.
func clampIndex(v, n int) int {
	if v < 1 {
		return 0
	}
	if v > n {
		return n - 1
	}
	return v - 1
}

func ceilHours(periods, perHour int) int {
	return (periods + perHour - 1) / perHour
}

// planDayCharge looks for the cheapest hour between 10:00 and 17:00 tomorrow
// and checks whether enough periods before and after it are expensive enough
// to discharge. ok is false when a day charge does not pay off.
func planDayCharge(cfg Config, s prices.Series, nightHigh float64) (DayChargePlan, bool) {
	window := byPriceAsc(s.HourRange(dayChargeStartHour, dayChargeEndHour))
	perHour := s.PerHour()
	if len(window) < perHour {
		return DayChargePlan{}, false
	}

	chargeHours := 1
	if len(window) >= 2*perHour && meanPrice(window[perHour:2*perHour])-meanPrice(window[:perHour]) <= 0.05 {
		chargeHours = 2
	}
	charge := chronological(head(window, chargeHours*perHour))
	high := nightHigh
	if h := maxPrice(charge); h > high {
		high = h
	}
	first, last := charge[0].TSStart, charge[len(charge)-1].TSEnd

	var before, after []types.Price
	for _, p := range s.HourRange(dayStartHour, dayEndHour) {
		if p.CostPerKWH <= high+cfg.DischargeThreshold {
			continue
		}
		switch {
		case !p.TSEnd.After(first):
			before = append(before, p)
		case !p.TSStart.Before(last):
			after = append(after, p)
		}
	}
	if len(before) < perHour || len(after) < perHour || len(before)+len(after) < 5*perHour {
		return DayChargePlan{}, false
	}
	before = head(byPriceDesc(before), 6*perHour)
	after = head(byPriceDesc(after), 6*perHour)

	upgraded := 0
	if cfg.Upgraded {
		upgraded = 1
	}
	plan := DayChargePlan{
		Charge:    charge,
		TargetSoC: dayChargeTargetSoC[upgraded][clampIndex(ceilHours(len(after), perHour), 6)],
		PowerW:    dayChargePowerW[upgraded][clampIndex(chargeHours, 2)][clampIndex(ceilHours(len(before), perHour), 6)],
		Discharge: rankByPrice(append(append([]types.Price{}, before...), after...), 0),
		Funded:    len(before),
	}
	return plan, true
}

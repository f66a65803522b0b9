package controller

import (
	"math"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

// socInput is what the target SoC depends on.
type socInput struct {
	// ChargeMean is the mean price of the night charge periods.
	ChargeMean float64
	// DischargePeriods is the number of discharge periods the charge funds.
	DischargePeriods int
	// Tomorrow holds tomorrow's prices, used to judge the day's volatility.
	Tomorrow   []types.Price
	BalanceDue bool
	Period     time.Duration
}

// targetSoC returns the SoC to charge to tonight and whether it is a
// balancing charge to full.
func targetSoC(cfg Config, in socInput) (float64, bool) {
	if in.DischargePeriods <= 0 {
		if in.ChargeMean < cfg.CheapNightPrice {
			return 0.8, false
		}
		return 0.4, false
	}

	energy := cfg.EnergyPerHourWH * float64(in.DischargePeriods) * in.Period.Hours()
	target := math.Min((cfg.CapacityWH*cfg.MinSoC+energy)/cfg.CapacityWH, 1)
	if target < 1 {
		return math.Max(target, 0), false
	}
	if in.BalanceDue {
		return 1, true
	}
	perHour := int(time.Hour / in.Period)
	peak := meanPrice(head(byPriceDesc(in.Tomorrow), 7*perHour))
	low := meanPrice(head(byPriceAsc(in.Tomorrow), 3*perHour))
	if peak-low > cfg.SpreadThreshold {
		return 0.99, false
	}
	return 0.98, false
}

// balanceDue returns true when the last full charge is at least the balance
// interval ago. A zero last means it never happened.
func balanceDue(cfg Config, last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= cfg.BalanceInterval
}

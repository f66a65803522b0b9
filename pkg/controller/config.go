package controller

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Windows are expressed in hours counted from today's midnight.
const (
	nightStartHour = 22
	nightEndHour   = 30

	dayStartHour = 30
	dayEndHour   = 46

	dayChargeStartHour = 34
	dayChargeEndHour   = 41
)

// Config holds the tunables of the planning and execution logic. All prices
// are in SEK/kWh, energies in Wh and SoC values are fractions.
type Config struct {
	// CapacityWH is the usable battery capacity.
	CapacityWH float64
	// Upgraded selects the longer night charge and the larger day charge tables.
	Upgraded bool
	// MinSoC is the reserve the battery never discharges below.
	MinSoC float64
	// DischargeThreshold is the margin a period must exceed the charge price
	// by to be worth discharging.
	DischargeThreshold float64
	// DayCharge enables the midday recharge between two discharge blocks.
	DayCharge    bool
	SummerMonths []time.Month

	CheapNightPrice float64
	// ExtendGap and ShortenGap decide how many night hours are charged.
	ExtendGap  float64
	ShortenGap float64

	MinChargePowerW float64
	EnergyPerHourWH float64
	BalanceInterval time.Duration
	// SpreadThreshold picks 0.99 over 0.98 when tomorrow is volatile.
	SpreadThreshold float64

	LeftoverMargin float64
	// SafetyValveSoC keeps one discharge period when revision removed all of them.
	SafetyValveSoC float64
	// FallbackSoC is the SoC needed to discharge against the recorded night
	// high price when nothing beats tonight's.
	FallbackSoC       float64
	MinDischargePrice float64
	// TailDuration is the unranked discharge appended after the solar
	// discharge schedule.
	TailDuration time.Duration
	// FallbackProductionHour is used when no forecast is available.
	FallbackProductionHour int

	LoadSamples int
}

// DefaultConfig returns the configuration for a 9.6 kWh battery.
func DefaultConfig() Config {
	return Config{
		CapacityWH:         9600,
		MinSoC:             0.25,
		DischargeThreshold: 0.3,
		SummerMonths: []time.Month{
			time.April, time.May, time.June, time.July, time.August, time.September,
		},

		CheapNightPrice: 0.1,
		ExtendGap:       0.1,
		ShortenGap:      0.05,

		MinChargePowerW: 800,
		EnergyPerHourWH: 1200,
		BalanceInterval: 7 * 24 * time.Hour,
		SpreadThreshold: 0.75,

		LeftoverMargin:         0.5,
		SafetyValveSoC:         0.9,
		FallbackSoC:            0.4,
		MinDischargePrice:      0.05,
		TailDuration:           time.Hour,
		FallbackProductionHour: 6,

		LoadSamples: 16,
	}
}

// maxChargeHours is the longest night charge.
func (c Config) maxChargeHours() int {
	if c.Upgraded {
		return 6
	}
	return 4
}

// cheapNightHours is the night charge used when the night is cheap overall.
func (c Config) cheapNightHours() int {
	return c.maxChargeHours() - 1
}

func (c Config) isSummer(t time.Time) bool {
	for _, m := range c.SummerMonths {
		if t.Month() == m {
			return true
		}
	}
	return false
}

// parseMonths parses a comma separated list of month numbers. An empty string
// means no summer months.
func parseMonths(v string) ([]time.Month, error) {
	var months []time.Month
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid month %q: %w", part, err)
		}
		if n < 1 || n > 12 {
			return nil, fmt.Errorf("month out of range: %d", n)
		}
		months = append(months, time.Month(n))
	}
	return months, nil
}

func parseFloat(name, v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid %s %q: %v", name, v, err))
	}
	return f
}

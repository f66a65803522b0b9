package ess

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
)

type simulatedMode int

const (
	simSelfConsumption simulatedMode = iota
	simCharging
	simDischarging
)

// Simulated is an in-process battery used for dry runs. It advances a simple
// house load and solar model between calls and applies the commanded mode.
type Simulated struct {
	mu  sync.Mutex
	now func() time.Time

	capacityWH float64
	soc        float64
	loadWH     float64
	last       time.Time

	mode      simulatedMode
	powerW    float64
	targetSoC float64

	commands []string
	fail     error
}

// NewSimulated returns a simulated battery of capacityWH at 50%.
func NewSimulated(capacityWH float64, now func() time.Time) *Simulated {
	return &Simulated{
		now:        now,
		capacityWH: capacityWH,
		soc:        0.5,
	}
}

// SetStateOfCharge overrides the battery level. This is primarily used for testing.
func (s *Simulated) SetStateOfCharge(soc float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(s.now())
	s.soc = soc
}

// SetDailyLoad overrides the load counter. This is primarily used for testing.
func (s *Simulated) SetDailyLoad(wh float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(s.now())
	s.loadWH = wh
}

// SetFailure makes every command fail with err, nil clears it. This is
// primarily used for testing.
func (s *Simulated) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Commands returns the commands issued so far in order.
func (s *Simulated) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// advance steps the model from the last call up to now in at most 5 minute steps.
func (s *Simulated) advance(now time.Time) {
	if s.last.IsZero() || !now.After(s.last) {
		if s.last.IsZero() {
			s.last = now
		}
		return
	}

	maxChargeW := 5000.0
	stepStart := s.last
	for stepStart.Before(now) {
		stepEnd := stepStart.Add(5 * time.Minute)
		if midnight := common.StartOfDay(stepStart).AddDate(0, 0, 1); stepEnd.After(midnight) {
			stepEnd = midnight
		}
		if stepEnd.After(now) {
			stepEnd = now
		}
		hours := stepEnd.Sub(stepStart).Hours()

		mid := stepStart.Add(stepEnd.Sub(stepStart) / 2)
		hour := float64(mid.Hour()) + float64(mid.Minute())/60.0

		// house load 1.0 - 2.0 kW on a sine wave that peaks every 2 hours
		homeW := 1500 + 500*math.Sin(hour*math.Pi)
		if homeW < 1000 {
			homeW = 1000
		}
		// solar bell curve peaking at 13:00
		solarW := 0.0
		if hour >= 6 && hour <= 19 {
			solarW = 3000 * math.Sin((hour-6)/13*math.Pi)
		}

		var batteryW float64 // positive charges
		switch s.mode {
		case simCharging:
			if s.soc < s.targetSoC {
				batteryW = s.powerW
			}
		case simDischarging:
			batteryW = -math.Min(homeW, maxDischargeW)
		default:
			batteryW = solarW - homeW
		}
		if batteryW > maxChargeW {
			batteryW = maxChargeW
		}

		s.soc += batteryW * hours / s.capacityWH
		s.soc = math.Max(0.05, math.Min(1, s.soc))
		s.loadWH += homeW * hours

		stepStart = stepEnd
		if stepStart.Equal(common.StartOfDay(stepStart)) {
			s.loadWH = 0
		}
	}
	s.last = now
}

func (s *Simulated) command(name string, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return fmt.Errorf("%s: %w", name, s.fail)
	}
	s.advance(s.now())
	apply()
	s.commands = append(s.commands, name)
	return nil
}

// GetStateOfCharge returns the simulated battery level.
func (s *Simulated) GetStateOfCharge(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(s.now())
	return s.soc, nil
}

// GetDailyLoad returns the simulated load counter in Wh.
func (s *Simulated) GetDailyLoad(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(s.now())
	return s.loadWH, nil
}

func (s *Simulated) StartCharge(ctx context.Context, powerW, targetSoC float64) error {
	return s.command(fmt.Sprintf("startCharge(%.0f,%.2f)", powerW, targetSoC), func() {
		s.mode = simCharging
		s.powerW = powerW
		s.targetSoC = targetSoC
	})
}

func (s *Simulated) StopCharge(ctx context.Context) error {
	return s.command("stopCharge", func() {
		s.mode = simSelfConsumption
	})
}

func (s *Simulated) StartDischarge(ctx context.Context) error {
	return s.command("startDischarge", func() {
		s.mode = simDischarging
	})
}

func (s *Simulated) StopDischarge(ctx context.Context) error {
	return s.command("stopDischarge", func() {
		s.mode = simSelfConsumption
	})
}

package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanNightCharge(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("Cheap Night", func(t *testing.T) {
		hours := twoDays(0.5, []float64{0.05, 0.05, 0.05, 0.05, 0.20, 0.20, 0.20, 0.20})
		// tomorrow's most expensive 4 hours average 0.10
		for h := dayStartHour; h < dayEndHour; h++ {
			hours[h] = 0.08
		}
		copy(hours[40:44], []float64{0.10, 0.10, 0.10, 0.10})

		plan := planNightCharge(cfg, hourly(testDay, time.Hour, hours))
		assert.True(t, plan.Cheap)
		assert.True(t, plan.SkipDayDischarge)
		require.Len(t, plan.Periods, 3)
		assert.Equal(t, at(22, 0), plan.Periods[0].TSStart)
		assert.Equal(t, at(24, 0), plan.Periods[2].TSStart)
		assert.InDelta(t, 0.05, plan.Mean(), 1e-9)

		target, balance := targetSoC(cfg, socInput{
			ChargeMean: plan.Mean(),
			Period:     time.Hour,
		})
		assert.Equal(t, 0.8, target)
		assert.False(t, balance)
	})

	t.Run("Cheap Night Ignores Other Prices", func(t *testing.T) {
		for _, other := range []float64{0.2, 1, 5, 20} {
			hours := twoDays(2, []float64{other, 0.01, other, 0.02, other, 0.09, other, other})
			plan := planNightCharge(cfg, hourly(testDay, time.Hour, hours))
			assert.True(t, plan.Cheap, "other %v", other)
			assert.Len(t, plan.Periods, cfg.cheapNightHours(), "other %v", other)
		}
	})

	t.Run("Flat Night Charges Long", func(t *testing.T) {
		hours := twoDays(2, []float64{0.5, 0.52, 0.54, 0.56, 0.9, 0.9, 0.9, 0.9})
		plan := planNightCharge(cfg, hourly(testDay, time.Hour, hours))
		assert.False(t, plan.Cheap)
		assert.Len(t, plan.Periods, 4)
		assert.False(t, plan.SkipDayDischarge)
	})

	t.Run("Mid Gap Charges Three", func(t *testing.T) {
		// mean(4)-mean(2) = 0.125, mean(3)-mean(2) = 0.0333
		hours := twoDays(2, []float64{0.5, 0.5, 0.6, 0.9, 0.9, 0.9, 0.9, 0.9})
		plan := planNightCharge(cfg, hourly(testDay, time.Hour, hours))
		assert.Len(t, plan.Periods, 3)
	})

	t.Run("Steep Night Charges Short", func(t *testing.T) {
		hours := twoDays(2, []float64{0.5, 0.5, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9})
		plan := planNightCharge(cfg, hourly(testDay, time.Hour, hours))
		assert.Len(t, plan.Periods, 2)
		assert.Equal(t, 0.5, plan.High())
	})

	t.Run("Quarter Periods", func(t *testing.T) {
		hours := twoDays(2, []float64{0.5, 0.52, 0.54, 0.56, 0.9, 0.9, 0.9, 0.9})
		plan := planNightCharge(cfg, hourly(testDay, 15*time.Minute, hours))
		assert.Len(t, plan.Periods, 16)
	})

	t.Run("Upgraded", func(t *testing.T) {
		cfg := cfg
		cfg.Upgraded = true
		hours := twoDays(2, []float64{0.5, 0.51, 0.52, 0.53, 0.54, 0.55, 0.9, 0.9})
		plan := planNightCharge(cfg, hourly(testDay, time.Hour, hours))
		assert.Len(t, plan.Periods, 6)
	})

	t.Run("Missing Night", func(t *testing.T) {
		plan := planNightCharge(cfg, hourly(testDay, time.Hour, fill(20, 1)))
		assert.Empty(t, plan.Periods)
		assert.True(t, plan.SkipDayDischarge)
	})
}

func TestChargePower(t *testing.T) {
	cfg := DefaultConfig()
	s := hourly(testDay, time.Hour, []float64{0.3, 0.1, 0.2, 0.4})

	t.Run("Spread", func(t *testing.T) {
		periods, power := chargePower(cfg, s.Prices, time.Hour, 5000)
		assert.Len(t, periods, 4)
		// 5000 / 4 * 1.1 = 1375
		assert.Equal(t, 1400.0, power)
		assert.Equal(t, at(0, 0), periods[0].TSStart)
	})

	t.Run("Drops Expensive When Low", func(t *testing.T) {
		periods, power := chargePower(cfg, s.Prices, time.Hour, 1000)
		// 1000 / 4 * 1.1 = 275, / 3 * 1.2 = 400, / 2 * 1.2 = 600, / 1 * 1.2 = 1200
		require.Len(t, periods, 1)
		assert.Equal(t, 0.1, periods[0].CostPerKWH)
		assert.Equal(t, 1200.0, power)
	})

	t.Run("Stops At Minimum", func(t *testing.T) {
		periods, power := chargePower(cfg, s.Prices, time.Hour, 2200)
		// 2200 / 4 * 1.1 = 605, / 3 * 1.2 = 880
		assert.Len(t, periods, 3)
		assert.Equal(t, 900.0, power)
		assert.Equal(t, 0.3, maxPrice(periods))
	})

	t.Run("Nothing To Charge", func(t *testing.T) {
		periods, power := chargePower(cfg, s.Prices, time.Hour, -10)
		assert.Empty(t, periods)
		assert.Zero(t, power)
	})
}

func TestTargetSoC(t *testing.T) {
	cfg := DefaultConfig()
	calm := hourly(testDay.AddDate(0, 0, 1), time.Hour, fill(24, 1)).Prices
	volatile := hourly(testDay.AddDate(0, 0, 1), time.Hour, append(fill(12, 0.2), fill(12, 2)...)).Prices

	t.Run("No Discharge", func(t *testing.T) {
		target, _ := targetSoC(cfg, socInput{ChargeMean: 0.09, Period: time.Hour})
		assert.Equal(t, 0.8, target)
		target, _ = targetSoC(cfg, socInput{ChargeMean: 0.5, Period: time.Hour})
		assert.Equal(t, 0.4, target)
	})

	t.Run("Energy Per Period", func(t *testing.T) {
		target, balance := targetSoC(cfg, socInput{DischargePeriods: 4, Period: time.Hour})
		assert.InDelta(t, (9600*0.25+4*1200)/9600.0, target, 1e-9)
		assert.False(t, balance)

		quarters, _ := targetSoC(cfg, socInput{DischargePeriods: 16, Period: 15 * time.Minute})
		assert.InDelta(t, target, quarters, 1e-9)
	})

	t.Run("Capped", func(t *testing.T) {
		for n := 1; n <= 40; n++ {
			for _, due := range []bool{false, true} {
				target, balance := targetSoC(cfg, socInput{
					DischargePeriods: n,
					Tomorrow:         volatile,
					BalanceDue:       due,
					Period:           time.Hour,
				})
				assert.GreaterOrEqual(t, target, 0.0)
				assert.LessOrEqual(t, target, 1.0)
				if !due {
					assert.NotEqual(t, 1.0, target)
				}
				assert.Equal(t, target == 1, balance)
			}
		}
	})

	t.Run("Spread", func(t *testing.T) {
		target, balance := targetSoC(cfg, socInput{DischargePeriods: 8, Tomorrow: volatile, Period: time.Hour})
		assert.Equal(t, 0.99, target)
		assert.False(t, balance)

		target, _ = targetSoC(cfg, socInput{DischargePeriods: 8, Tomorrow: calm, Period: time.Hour})
		assert.Equal(t, 0.98, target)

		target, _ = targetSoC(cfg, socInput{DischargePeriods: 8, Period: time.Hour})
		assert.Equal(t, 0.98, target)
	})

	t.Run("Balance", func(t *testing.T) {
		target, balance := targetSoC(cfg, socInput{DischargePeriods: 8, Tomorrow: calm, BalanceDue: true, Period: time.Hour})
		assert.Equal(t, 1.0, target)
		assert.True(t, balance)
	})
}

func TestBalanceDue(t *testing.T) {
	cfg := DefaultConfig()
	now := at(19, 55)

	assert.True(t, balanceDue(cfg, time.Time{}, now))
	assert.False(t, balanceDue(cfg, now, now))
	assert.False(t, balanceDue(cfg, now.Add(-7*24*time.Hour+time.Minute), now))
	assert.True(t, balanceDue(cfg, now.Add(-7*24*time.Hour), now))
}

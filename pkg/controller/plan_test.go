package controller

import (
	"context"
	"testing"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/notify"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countOps(msgs []types.ScheduledMessage, op types.Operation) int {
	var n int
	for _, m := range msgs {
		if m.Operation == op {
			n++
		}
	}
	return n
}

func TestPlanWinter(t *testing.T) {
	ctx := context.Background()
	now := at(19, 55)

	t.Run("Cheap Night Skips Discharge", func(t *testing.T) {
		hours := twoDays(0.5, []float64{0.05, 0.05, 0.05, 0.05, 0.20, 0.20, 0.20, 0.20})
		for h := dayStartHour; h < dayEndHour; h++ {
			hours[h] = 0.08
		}
		copy(hours[40:44], []float64{0.10, 0.10, 0.10, 0.10})
		env := newTestEnv(t, DefaultConfig(), hourly(testDay, time.Hour, hours), now)

		require.NoError(t, env.c.Plan(ctx, now))

		pending := env.pending(t)
		require.Len(t, pending, 2)
		assert.Equal(t, types.OperationStartCharge, pending[0].Operation)
		assert.Equal(t, at(22, 0), pending[0].ScheduledAt)
		assert.Equal(t, 0.8, pending[0].TargetSoC)
		// (0.8 - 0.5) * 9600 / 3 * 1.1 = 1056
		assert.Equal(t, 1100.0, pending[0].Power)
		assert.Equal(t, types.OperationStopCharge, pending[1].Operation)
		assert.Equal(t, at(25, 0), pending[1].ScheduledAt)

		high, err := env.db.GetLatestNightHighPrice(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0.05, high)
		ranks, err := env.db.GetRanks(ctx)
		require.NoError(t, err)
		assert.Empty(t, ranks)
		last, err := env.db.GetLastBalance(ctx)
		require.NoError(t, err)
		assert.True(t, last.IsZero())
		assert.Contains(t, env.notifier.kinds(), notify.KindPlan)
	})

	t.Run("Balancing Once", func(t *testing.T) {
		hours := twoDays(2, []float64{0.5, 0.52, 0.54, 0.56, 0.9, 0.9, 0.9, 0.9})
		env := newTestEnv(t, DefaultConfig(), hourly(testDay, time.Hour, hours), now)

		require.NoError(t, env.c.Plan(ctx, now))
		pending := env.pending(t)
		assert.Equal(t, types.OperationStartCharge, pending[0].Operation)
		assert.Equal(t, 1.0, pending[0].TargetSoC)
		assert.Equal(t, 1400.0, pending[0].Power)
		assert.Equal(t, 16, countOps(pending, types.OperationStartDischarge))
		assert.Equal(t, 1, countOps(pending, types.OperationStopDischarge))
		last, err := env.db.GetLastBalance(ctx)
		require.NoError(t, err)
		assert.True(t, last.Equal(now))
		ranks, err := env.db.GetRanks(ctx)
		require.NoError(t, err)
		assert.Len(t, ranks, 16)

		// planning again the same evening does not balance again
		later := now.Add(time.Minute)
		env.now = later
		require.NoError(t, env.c.Plan(ctx, later))
		pending = env.pending(t)
		assert.Equal(t, 0.99, pending[0].TargetSoC)
		assert.Equal(t, 1, countOps(pending, types.OperationStartCharge))
		assert.Equal(t, 16, countOps(pending, types.OperationStartDischarge))
		last, err = env.db.GetLastBalance(ctx)
		require.NoError(t, err)
		assert.True(t, last.Equal(now))
	})

	t.Run("Falls Back To Recorded High Price", func(t *testing.T) {
		hours := twoDays(0.83, []float64{0.5, 0.52, 0.54, 0.56, 0.9, 0.9, 0.9, 0.9})
		env := newTestEnv(t, DefaultConfig(), hourly(testDay, time.Hour, hours), now)
		env.system.SetStateOfCharge(0.92)
		require.NoError(t, env.db.SetLatestNightHighPrice(ctx, 0.2))

		require.NoError(t, env.c.Plan(ctx, now))
		pending := env.pending(t)
		assert.Equal(t, 16, countOps(pending, types.OperationStartDischarge))
		// discharging against an earlier charge needs no charge tonight
		assert.Zero(t, countOps(pending, types.OperationStartCharge))
		high, err := env.db.GetLatestNightHighPrice(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0.2, high)
	})

	t.Run("Nothing Qualifies", func(t *testing.T) {
		hours := twoDays(0.83, []float64{0.5, 0.52, 0.54, 0.56, 0.9, 0.9, 0.9, 0.9})
		env := newTestEnv(t, DefaultConfig(), hourly(testDay, time.Hour, hours), now)
		env.system.SetStateOfCharge(0.92)
		require.NoError(t, env.db.SetLatestNightHighPrice(ctx, 0.6))

		require.NoError(t, env.c.Plan(ctx, now))
		pending := env.pending(t)
		assert.Zero(t, countOps(pending, types.OperationStartDischarge))
		assert.Zero(t, countOps(pending, types.OperationStopDischarge))
	})

	t.Run("Stops Running Discharge", func(t *testing.T) {
		hours := twoDays(0.5, []float64{0.05, 0.05, 0.05, 0.05, 0.20, 0.20, 0.20, 0.20})
		env := newTestEnv(t, DefaultConfig(), hourly(testDay, time.Hour, hours), now)
		require.NoError(t, env.db.SetStatus(ctx, types.StatusDischarging))
		env.enqueue(t, stopDischarge, at(20, 0))

		require.NoError(t, env.c.Plan(ctx, now))
		pending := env.pending(t)
		require.NotEmpty(t, pending)
		assert.Equal(t, types.OperationStopDischarge, pending[0].Operation)
		assert.True(t, pending[0].ScheduledAt.Equal(now))
		for _, p := range pending {
			assert.False(t, p.ScheduledAt.Equal(at(20, 0)))
		}
	})

	t.Run("Solar Message Survives Without Charge", func(t *testing.T) {
		hours := twoDays(0.5, []float64{0.5, 0.52, 0.54, 0.56, 0.9, 0.9, 0.9, 0.9})
		env := newTestEnv(t, DefaultConfig(), hourly(testDay, time.Hour, hours), now)
		env.system.SetStateOfCharge(0.6)
		env.enqueue(t, types.Message{Operation: types.OperationSetDischargeAfterSolar}, at(42, 0))
		env.enqueue(t, startDischarge, at(21, 0))

		require.NoError(t, env.c.Plan(ctx, now))
		pending := env.pending(t)
		assert.Equal(t, []types.Operation{types.OperationSetDischargeAfterSolar}, ops(pending))
	})

	t.Run("Charge Replaces Solar Message", func(t *testing.T) {
		hours := twoDays(0.5, []float64{0.5, 0.52, 0.54, 0.56, 0.9, 0.9, 0.9, 0.9})
		env := newTestEnv(t, DefaultConfig(), hourly(testDay, time.Hour, hours), now)
		env.system.SetStateOfCharge(0.3)
		env.enqueue(t, types.Message{Operation: types.OperationSetDischargeAfterSolar}, at(42, 0))

		require.NoError(t, env.c.Plan(ctx, now))
		pending := env.pending(t)
		assert.Zero(t, countOps(pending, types.OperationSetDischargeAfterSolar))
		assert.Equal(t, 1, countOps(pending, types.OperationStartCharge))
	})

	t.Run("Day Charge", func(t *testing.T) {
		hours := twoDays(0.5, fill(8, 0.3))
		for _, h := range []int{31, 32, 33} {
			hours[h] = 1.5
		}
		for _, h := range []int{41, 42, 43, 44} {
			hours[h] = 1.8
		}
		hours[36] = 0.2
		cfg := DefaultConfig()
		cfg.DayCharge = true
		env := newTestEnv(t, cfg, hourly(testDay, time.Hour, hours), now)

		require.NoError(t, env.c.Plan(ctx, now))
		pending := env.pending(t)
		assert.Equal(t, 2, countOps(pending, types.OperationStartCharge))
		assert.Equal(t, 7, countOps(pending, types.OperationStartDischarge))
		var day types.ScheduledMessage
		for _, p := range pending {
			if p.Operation == types.OperationStartCharge && p.ScheduledAt.Equal(at(36, 0)) {
				day = p
			}
		}
		assert.Equal(t, 5000.0, day.Power)
	})

	t.Run("Missing Tomorrow", func(t *testing.T) {
		env := newTestEnv(t, DefaultConfig(), hourly(testDay, time.Hour, fill(24, 1)), now)
		env.enqueue(t, startDischarge, at(21, 0))

		require.NoError(t, env.c.Plan(ctx, now))
		assert.Len(t, env.pending(t), 1)
	})

	t.Run("Price Failure", func(t *testing.T) {
		env := newTestEnv(t, DefaultConfig(), hourly(testDay, time.Hour, fill(48, 1)), now)
		env.prices.err = assert.AnError
		assert.ErrorIs(t, env.c.Plan(ctx, now), assert.AnError)
	})
}

func TestPlanSummer(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, time.June, 10, 0, 0, 0, 0, common.Stockholm)
	now := day.Add(19*time.Hour + 55*time.Minute)
	tomorrow := day.AddDate(0, 0, 1)

	tests := []struct {
		name    string
		summary types.ForecastSummary
		want    time.Time
	}{
		{
			name: "No Forecast",
			want: tomorrow.Add(18 * time.Hour),
		},
		{
			name:    "Production End",
			summary: types.ForecastSummary{Available: true, ProductionEnd: tomorrow.Add(17*time.Hour + 30*time.Minute)},
			want:    tomorrow.Add(17*time.Hour + 30*time.Minute),
		},
		{
			name:    "Capped",
			summary: types.ForecastSummary{Available: true, ProductionEnd: tomorrow.Add(21 * time.Hour)},
			want:    tomorrow.Add(20 * time.Hour),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, DefaultConfig(), hourly(day, time.Hour, fill(48, 1)), now)
			env.forecast.summary = tt.summary
			env.enqueue(t, startDischarge, now.Add(time.Hour))
			env.enqueue(t, types.Message{Operation: types.OperationStartCharge}, now.Add(2*time.Hour))

			require.NoError(t, env.c.Plan(ctx, now))
			pending := env.pending(t)
			require.Len(t, pending, 2)
			assert.Equal(t, types.OperationStartDischarge, pending[0].Operation)
			assert.Equal(t, types.OperationSetDischargeAfterSolar, pending[1].Operation)
			assert.True(t, pending[1].ScheduledAt.Equal(tt.want), "got %s", pending[1].ScheduledAt)
		})
	}
}

func TestDischargeAfterSolar(t *testing.T) {
	ctx := context.Background()
	now := at(18, 0)

	hours := fill(48, 0.04)
	copy(hours[18:24], []float64{1.2, 1.5, 0.9, 0.03, 0.6, 0.5})
	copy(hours[24:31], []float64{0.4, 0.3, 0.3, 0.2, 0.2, 0.3, 0.9})

	t.Run("Ranks Until Production", func(t *testing.T) {
		env := newTestEnv(t, DefaultConfig(), hourly(testDay, time.Hour, hours), now)
		env.system.SetStateOfCharge(1)
		env.forecast.summary = types.ForecastSummary{Available: true, ProductionStart: at(24+6, 0)}
		env.enqueue(t, types.Message{Operation: types.OperationSetDischargeAfterSolar}, at(20, 0))

		require.NoError(t, env.c.DischargeAfterSolar(ctx, now))

		soc, ok, err := env.db.GetLatestChargeSoC(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1.0, soc)
		last, err := env.db.GetLastBalance(ctx)
		require.NoError(t, err)
		assert.True(t, last.Equal(now))

		pending := env.pending(t)
		assert.Zero(t, countOps(pending, types.OperationSetDischargeAfterSolar))
		// 18-21 and 22-06 except 21:00 which is too cheap
		rankAt := func(ts time.Time) (*int, bool) {
			for _, p := range pending {
				if p.Operation == types.OperationStartDischarge && p.ScheduledAt.Equal(ts) {
					return p.Rank, true
				}
			}
			return nil, false
		}
		for hour, want := range map[int]int{19: 0, 18: 1, 20: 2, 22: 3, 28: 10} {
			rank, ok := rankAt(at(hour, 0))
			require.True(t, ok, "hour %d", hour)
			require.NotNil(t, rank, "hour %d", hour)
			assert.Equal(t, want, *rank, "hour %d", hour)
		}
		_, ok = rankAt(at(21, 0))
		assert.False(t, ok)
		// the tail replaces the last stop at 06:00
		rank, ok := rankAt(at(30, 0))
		assert.True(t, ok)
		assert.Nil(t, rank)
		last2 := pending[len(pending)-1]
		assert.Equal(t, types.OperationStopDischarge, last2.Operation)
		assert.True(t, last2.ScheduledAt.Equal(at(31, 0)))

		ranks, err := env.db.GetRanks(ctx)
		require.NoError(t, err)
		assert.Len(t, ranks, 11)
	})

	t.Run("Fallback Production Hour", func(t *testing.T) {
		env := newTestEnv(t, DefaultConfig(), hourly(testDay, time.Hour, hours), now)
		env.system.SetStateOfCharge(0.9)

		require.NoError(t, env.c.DischargeAfterSolar(ctx, now))
		pending := env.pending(t)
		assert.Equal(t, types.OperationStopDischarge, pending[len(pending)-1].Operation)
		assert.True(t, pending[len(pending)-1].ScheduledAt.Equal(at(31, 0)))
		last, err := env.db.GetLastBalance(ctx)
		require.NoError(t, err)
		assert.True(t, last.IsZero())
	})
}

package controller

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/ess"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/notify"
	"github.com/jingfee/sungrow-scheduler/pkg/prices"
	"github.com/jingfee/sungrow-scheduler/pkg/storage"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

// testDay is a winter weekday without a DST change.
var testDay = time.Date(2026, time.January, 14, 0, 0, 0, 0, common.Stockholm)

type fakePrices struct {
	series prices.Series
	err    error
}

func (f *fakePrices) GetPrices(ctx context.Context, now time.Time) (prices.Series, error) {
	return f.series, f.err
}

func (f *fakePrices) Period() time.Duration {
	return f.series.Period
}

type fakeForecast struct {
	summary types.ForecastSummary
}

func (f *fakeForecast) Summary(ctx context.Context, day time.Time) types.ForecastSummary {
	return f.summary
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

// fill returns n hourly prices of v.
func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// hourly builds a series starting at day with one price per hour, split into
// periods of period.
func hourly(day time.Time, period time.Duration, hours []float64) prices.Series {
	perHour := int(time.Hour / period)
	var ps []types.Price
	for h, v := range hours {
		start := day.Add(time.Duration(h) * time.Hour)
		for q := 0; q < perHour; q++ {
			s := start.Add(time.Duration(q) * period)
			ps = append(ps, types.Price{
				Provider:   "test",
				TSStart:    s,
				TSEnd:      s.Add(period),
				CostPerKWH: v,
			})
		}
	}
	return prices.Series{Day: day, Period: period, Prices: ps}
}

// twoDays returns 48 hourly prices: today at base, tonight from 22:00 to
// 06:00 as night and tomorrow's day hours at base.
func twoDays(base float64, night []float64) []float64 {
	hours := fill(48, base)
	copy(hours[nightStartHour:nightEndHour], night)
	return hours
}

type testEnv struct {
	c        *Controller
	system   *ess.Simulated
	db       storage.Database
	prices   *fakePrices
	forecast *fakeForecast
	notifier *recordingNotifier
	now      time.Time
}

func newTestEnv(t *testing.T, cfg Config, series prices.Series, now time.Time) *testEnv {
	t.Helper()
	env := &testEnv{
		db:       storage.NewMemory(),
		prices:   &fakePrices{series: series},
		forecast: &fakeForecast{},
		notifier: &recordingNotifier{},
		now:      now,
	}
	env.system = ess.NewSimulated(cfg.CapacityWH, func() time.Time { return env.now })
	env.c = New(cfg, env.prices, env.forecast, env.system, env.db, env.notifier)
	return env
}

func (e *testEnv) pending(t *testing.T) []types.ScheduledMessage {
	t.Helper()
	pending, err := e.db.PeekPending(context.Background(), 0)
	require.NoError(t, err)
	return pending
}

func (e *testEnv) enqueue(t *testing.T, msg types.Message, at time.Time) {
	t.Helper()
	_, err := e.db.Enqueue(context.Background(), msg, at)
	require.NoError(t, err)
}

func ranked(op types.Operation, rank int) types.Message {
	return types.Message{Operation: op}.Ranked(rank)
}

func ops(msgs []types.ScheduledMessage) []types.Operation {
	var out []types.Operation
	for _, m := range msgs {
		out = append(out, m.Operation)
	}
	return out
}

func at(hour, minute int) time.Time {
	return testDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

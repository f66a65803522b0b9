package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/ess"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/notify"
	"github.com/jingfee/sungrow-scheduler/pkg/prices"
	"github.com/jingfee/sungrow-scheduler/pkg/storage"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// PriceSource provides the price series used for planning.
type PriceSource interface {
	GetPrices(ctx context.Context, now time.Time) (prices.Series, error)
	Period() time.Duration
}

// ForecastSource provides the solar forecast summary for a day.
type ForecastSource interface {
	Summary(ctx context.Context, day time.Time) types.ForecastSummary
}

// Controller plans charge and discharge operations, revises them and executes
// them as they become due.
type Controller struct {
	cfg      Config
	prices   PriceSource
	forecast ForecastSource
	system   ess.System
	db       storage.Database
	notifier notify.Notifier
}

// New creates a new Controller.
func New(cfg Config, p PriceSource, f ForecastSource, system ess.System, db storage.Database, n notify.Notifier) *Controller {
	if n == nil {
		n = notify.Nop{}
	}
	return &Controller{
		cfg:      cfg,
		prices:   p,
		forecast: f,
		system:   system,
		db:       db,
		notifier: n,
	}
}

// Configured creates a Controller whose Config is set from flags.
func Configured(p PriceSource, f ForecastSource, system ess.System, db storage.Database, n notify.Notifier) *Controller {
	capacity := lflag.String("battery-capacity-wh", "9600", "Usable battery capacity in Wh")
	minSoC := lflag.String("min-soc", "0.25", "Reserve SoC the battery is never discharged below")
	threshold := lflag.String("discharge-threshold", "0.3", "Price margin (SEK/kWh) above the charge price for a period to be discharged")
	upgraded := lflag.Bool("battery-upgraded", false, "Use the upgraded battery charge hours and day charge tables")
	dayCharge := lflag.Bool("day-charge", false, "Plan a midday recharge between two discharge blocks when prices allow it")
	summer := lflag.String("summer-months", "4,5,6,7,8,9", "Comma separated months (1-12) that use solar planning instead of night charging")

	c := New(DefaultConfig(), p, f, system, db, n)

	lflag.Do(func() {
		c.cfg.CapacityWH = parseFloat("battery-capacity-wh", *capacity)
		if c.cfg.CapacityWH <= 0 {
			panic(fmt.Sprintf("battery-capacity-wh must be positive: %s", *capacity))
		}
		c.cfg.MinSoC = parseFloat("min-soc", *minSoC)
		if c.cfg.MinSoC < 0 || c.cfg.MinSoC >= 1 {
			panic(fmt.Sprintf("min-soc must be in [0, 1): %s", *minSoC))
		}
		c.cfg.DischargeThreshold = parseFloat("discharge-threshold", *threshold)
		c.cfg.Upgraded = *upgraded
		c.cfg.DayCharge = *dayCharge
		months, err := parseMonths(*summer)
		if err != nil {
			panic(fmt.Sprintf("invalid summer-months: %v", err))
		}
		c.cfg.SummerMonths = months
	})

	return c
}

// Config returns the active configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// clearPending cancels every pending message for which drop returns true.
func (c *Controller) clearPending(ctx context.Context, drop func(types.ScheduledMessage) bool) ([]types.ScheduledMessage, error) {
	pending, err := c.db.PeekPending(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to peek pending messages: %w", err)
	}
	var cancelled []types.ScheduledMessage
	for _, sm := range pending {
		if !drop(sm) {
			continue
		}
		if err := c.db.Cancel(ctx, sm.SequenceID); err != nil {
			return cancelled, fmt.Errorf("failed to cancel %s: %w", sm.SequenceID, err)
		}
		cancelled = append(cancelled, sm)
	}
	if len(cancelled) > 0 {
		log.Ctx(ctx).InfoContext(ctx, "cancelled pending messages", slog.Int("count", len(cancelled)))
	}
	return cancelled, nil
}

// enqueue adds every entry of schedule to the queue.
func (c *Controller) enqueue(ctx context.Context, schedule *Schedule) error {
	for _, e := range schedule.Entries() {
		id, err := c.db.Enqueue(ctx, e.Message, e.At)
		if err != nil {
			return fmt.Errorf("failed to enqueue %s at %s: %w", e.Message.Operation, e.At.Format(time.RFC3339), err)
		}
		attrs := []any{
			slog.String("operation", e.Message.Operation.String()),
			slog.Time("at", e.At),
			slog.String("sequenceID", id),
		}
		if e.Message.Rank != nil {
			attrs = append(attrs, slog.Int("rank", *e.Message.Rank))
		}
		log.Ctx(ctx).DebugContext(ctx, "enqueued message", attrs...)
	}
	return nil
}

func (c *Controller) setStatus(ctx context.Context, now time.Time, status types.Status) {
	if err := c.db.SetStatus(ctx, status); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to set status", slog.String("status", string(status)), slog.Any("error", err))
		return
	}
	c.notifier.Notify(ctx, notify.Event{
		Kind:      notify.KindStatus,
		Timestamp: now,
		Status:    status,
	})
}

func meanPrice(ps []types.Price) float64 {
	if len(ps) == 0 {
		return 0
	}
	var sum float64
	for _, p := range ps {
		sum += p.CostPerKWH
	}
	return sum / float64(len(ps))
}

func maxPrice(ps []types.Price) float64 {
	var high float64
	for i, p := range ps {
		if i == 0 || p.CostPerKWH > high {
			high = p.CostPerKWH
		}
	}
	return high
}

// byPriceAsc returns a copy of ps sorted by ascending price. Equal prices keep
// their chronological order.
func byPriceAsc(ps []types.Price) []types.Price {
	out := chronological(ps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CostPerKWH < out[j].CostPerKWH
	})
	return out
}

// byPriceDesc returns a copy of ps sorted by descending price. Equal prices
// keep their chronological order.
func byPriceDesc(ps []types.Price) []types.Price {
	out := chronological(ps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CostPerKWH > out[j].CostPerKWH
	})
	return out
}

func chronological(ps []types.Price) []types.Price {
	out := make([]types.Price, len(ps))
	copy(out, ps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TSStart.Before(out[j].TSStart)
	})
	return out
}

// head returns at most n elements of ps.
func head(ps []types.Price, n int) []types.Price {
	if n < 0 {
		n = 0
	}
	if n > len(ps) {
		n = len(ps)
	}
	return ps[:n]
}

func formatPrices(ps []types.Price) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.TSStart.Format("01-02 15:04")+"="+strconv.FormatFloat(p.CostPerKWH, 'f', 3, 64))
	}
	return out
}

package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/notify"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

var (
	startDischarge = types.Message{Operation: types.OperationStartDischarge}
	stopDischarge  = types.Message{Operation: types.OperationStopDischarge}
)

// Plan is the evening planning pass. In summer months it only schedules the
// discharge after solar production ends, otherwise it plans tonight's charge
// and tomorrow's discharge.
func (c *Controller) Plan(ctx context.Context, now time.Time) error {
	if c.cfg.isSummer(now.In(common.Stockholm)) {
		return c.planSummer(ctx, now)
	}
	return c.planWinter(ctx, now)
}

func (c *Controller) planSummer(ctx context.Context, now time.Time) error {
	if _, err := c.clearPending(ctx, func(sm types.ScheduledMessage) bool {
		return !sm.Operation.IsDischarge()
	}); err != nil {
		return err
	}

	tomorrow := common.StartOfDay(now.In(common.Stockholm)).AddDate(0, 0, 1)
	latest := common.AtHour(tomorrow, 20)
	at := common.AtHour(tomorrow, 18)
	if fc := c.forecast.Summary(ctx, tomorrow); fc.Available && !fc.ProductionEnd.IsZero() {
		at = fc.ProductionEnd
	}
	if at.After(latest) {
		at = latest
	}

	var schedule Schedule
	schedule.Set(at, types.Message{Operation: types.OperationSetDischargeAfterSolar})
	if err := c.enqueue(ctx, &schedule); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "scheduled discharge after solar", slog.Time("at", at))
	c.notifier.Notify(ctx, notify.Event{
		Kind:      notify.KindPlan,
		Timestamp: now,
		Operation: types.OperationSetDischargeAfterSolar.String(),
		Message:   "discharge after solar at " + at.Format(time.RFC3339),
	})
	return nil
}

func (c *Controller) planWinter(ctx context.Context, now time.Time) error {
	series, err := c.prices.GetPrices(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to get prices: %w", err)
	}
	if !series.HasTomorrow() {
		log.Ctx(ctx).WarnContext(ctx, "tomorrow's prices are not published, skipping planning")
		return nil
	}

	if _, err := c.clearPending(ctx, func(sm types.ScheduledMessage) bool {
		return sm.Operation != types.OperationSetDischargeAfterSolar
	}); err != nil {
		return err
	}

	soc, err := c.system.GetStateOfCharge(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state of charge: %w", err)
	}
	lastBalance, err := c.db.GetLastBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last balance: %w", err)
	}
	recordedHigh, err := c.db.GetLatestNightHighPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get night high price: %w", err)
	}

	night := planNightCharge(c.cfg, series)
	log.Ctx(ctx).InfoContext(
		ctx,
		"planned night charge",
		slog.Any("periods", formatPrices(night.Periods)),
		slog.Bool("cheap", night.Cheap),
		slog.Bool("skipDayDischarge", night.SkipDayDischarge),
		slog.Float64("mean", night.Mean()),
	)

	var charge, discharge Schedule
	var dischargePeriods []RankedPrice
	funded := 0
	if !night.SkipDayDischarge {
		if c.cfg.DayCharge {
			if dc, ok := planDayCharge(c.cfg, series, night.High()); ok {
				log.Ctx(ctx).InfoContext(
					ctx,
					"planned day charge",
					slog.Any("charge", formatPrices(dc.Charge)),
					slog.Float64("power", dc.PowerW),
					slog.Float64("targetSoC", dc.TargetSoC),
				)
				charge.AddPeriods(
					dc.Charge,
					types.Message{Operation: types.OperationStartCharge, Power: dc.PowerW, TargetSoC: dc.TargetSoC},
					types.Message{Operation: types.OperationStopCharge, TargetSoC: dc.TargetSoC},
				)
				dischargePeriods = dc.Discharge
				funded = dc.Funded
			}
		}
		if dischargePeriods == nil {
			dischargePeriods = planDayDischarge(c.cfg, series, night.High())
			funded = len(dischargePeriods)
			if len(dischargePeriods) == 0 && soc >= c.cfg.FallbackSoC {
				dischargePeriods = planDayDischarge(c.cfg, series, recordedHigh)
				log.Ctx(ctx).InfoContext(
					ctx,
					"using recorded night high price for discharge",
					slog.Float64("soc", soc),
					slog.Float64("recordedHigh", recordedHigh),
					slog.Int("count", len(dischargePeriods)),
				)
			}
		}
	}
	discharge.AddRankedPeriods(dischargePeriods, startDischarge, stopDischarge)
	log.Ctx(ctx).InfoContext(
		ctx,
		"planned day discharge",
		slog.Int("count", len(dischargePeriods)),
		slog.Int("funded", funded),
	)

	due := balanceDue(c.cfg, lastBalance, now)
	target, balance := targetSoC(c.cfg, socInput{
		ChargeMean:       night.Mean(),
		DischargePeriods: funded,
		Tomorrow:         series.Range(series.PerDay(), 2*series.PerDay()),
		BalanceDue:       due,
		Period:           series.Period,
	})
	log.Ctx(ctx).InfoContext(
		ctx,
		"calculated target soc",
		slog.Float64("soc", soc),
		slog.Float64("target", target),
		slog.Bool("balanceDue", due),
		slog.Bool("balance", balance),
	)

	periods, power := chargePower(c.cfg, night.Periods, series.Period, (target-soc)*c.cfg.CapacityWH)
	if len(periods) > 0 {
		log.Ctx(ctx).InfoContext(
			ctx,
			"planned charge power",
			slog.Any("periods", formatPrices(periods)),
			slog.Float64("power", power),
		)
		charge.AddPeriods(
			periods,
			types.Message{Operation: types.OperationStartCharge, Power: power, TargetSoC: target},
			types.Message{Operation: types.OperationStopCharge, TargetSoC: target},
		)
		if err := c.db.SetLatestNightHighPrice(ctx, maxPrice(periods)); err != nil {
			return fmt.Errorf("failed to set night high price: %w", err)
		}
		if target >= 1 {
			if err := c.db.SetLastBalance(ctx, now); err != nil {
				return fmt.Errorf("failed to set last balance: %w", err)
			}
		}
	} else {
		log.Ctx(ctx).InfoContext(ctx, "no charge needed", slog.Float64("soc", soc), slog.Float64("target", target))
	}

	if charge.Len() > 0 {
		if _, err := c.clearPending(ctx, func(sm types.ScheduledMessage) bool {
			return sm.Operation == types.OperationSetDischargeAfterSolar
		}); err != nil {
			return err
		}
	}
	if err := c.enqueue(ctx, &charge); err != nil {
		return err
	}
	if err := c.db.SetRanks(ctx, ranksOf(dischargePeriods)); err != nil {
		return fmt.Errorf("failed to set ranks: %w", err)
	}
	if err := c.enqueue(ctx, &discharge); err != nil {
		return err
	}

	status, err := c.db.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if status == types.StatusDischarging {
		var stop Schedule
		stop.Set(now, stopDischarge)
		if err := c.enqueue(ctx, &stop); err != nil {
			return err
		}
	}

	c.notifier.Notify(ctx, notify.Event{
		Kind:      notify.KindPlan,
		Timestamp: now,
		TargetSoC: target,
		Count:     len(dischargePeriods),
		Message:   fmt.Sprintf("%d charge periods at %.0f W", len(periods), power),
	})
	return nil
}

// DischargeAfterSolar records the SoC solar charged the battery to and
// schedules discharging of tonight's expensive periods until production
// starts again tomorrow.
func (c *Controller) DischargeAfterSolar(ctx context.Context, now time.Time) error {
	soc, err := c.system.GetStateOfCharge(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state of charge: %w", err)
	}
	if err := c.db.SetLatestChargeSoC(ctx, soc); err != nil {
		return fmt.Errorf("failed to set latest charge soc: %w", err)
	}
	if soc >= 1 {
		if err := c.db.SetLastBalance(ctx, now); err != nil {
			return fmt.Errorf("failed to set last balance: %w", err)
		}
	}
	if _, err := c.clearPending(ctx, func(sm types.ScheduledMessage) bool {
		return sm.Operation == types.OperationSetDischargeAfterSolar
	}); err != nil {
		return err
	}

	series, err := c.prices.GetPrices(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to get prices: %w", err)
	}
	tomorrow := series.Day.AddDate(0, 0, 1)
	until := common.AtHour(tomorrow, c.cfg.FallbackProductionHour)
	if fc := c.forecast.Summary(ctx, tomorrow); fc.Available && !fc.ProductionStart.IsZero() {
		until = fc.ProductionStart
	}

	from := now
	if p, ok := series.At(now); ok {
		from = p.TSStart
	}
	var candidates []types.Price
	for _, p := range series.Between(from, until) {
		if p.CostPerKWH > c.cfg.MinDischargePrice {
			candidates = append(candidates, p)
		}
	}
	ranked := rankByPrice(candidates, 0)

	var schedule Schedule
	schedule.AddRankedPeriods(ranked, startDischarge, stopDischarge)
	if len(ranked) > 0 {
		tail := ranked[len(ranked)-1].TSEnd
		schedule.Set(tail, startDischarge)
		schedule.Set(tail.Add(c.cfg.TailDuration), stopDischarge)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"planned discharge after solar",
		slog.Float64("soc", soc),
		slog.Time("until", until),
		slog.Any("periods", formatPrices(candidates)),
	)

	if err := c.db.SetRanks(ctx, ranksOf(ranked)); err != nil {
		return fmt.Errorf("failed to set ranks: %w", err)
	}
	if err := c.enqueue(ctx, &schedule); err != nil {
		return err
	}
	c.notifier.Notify(ctx, notify.Event{
		Kind:      notify.KindPlan,
		Timestamp: now,
		Operation: types.OperationSetDischargeAfterSolar.String(),
		Count:     len(ranked),
	})
	return nil
}

package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/notify"
	"github.com/jingfee/sungrow-scheduler/pkg/prices"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

// ConfirmPrices re-checks the pending discharge schedule against tonight's
// charge price once tomorrow's prices are known. Periods that no longer beat
// the charge price by the discharge threshold are dropped and the survivors
// are re-ranked.
func (c *Controller) ConfirmPrices(ctx context.Context, now time.Time) error {
	pending, err := c.db.PeekPending(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to peek pending messages: %w", err)
	}
	var queued []types.ScheduledMessage
	for _, sm := range pending {
		if sm.Operation.IsDischarge() {
			queued = append(queued, sm)
		}
	}
	if len(queued) == 0 {
		log.Ctx(ctx).InfoContext(ctx, "no pending discharge to confirm")
		return nil
	}

	series, err := c.prices.GetPrices(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to get prices: %w", err)
	}
	night := planNightCharge(c.cfg, series)
	if len(night.Periods) == 0 || !series.HasTomorrow() {
		log.Ctx(ctx).WarnContext(ctx, "tonight's prices are not published, keeping discharge schedule")
		return nil
	}

	sort.SliceStable(queued, func(i, j int) bool {
		return queued[i].ScheduledAt.Before(queued[j].ScheduledAt)
	})
	// stops ahead of the first start end a discharge that is already running
	running := runningStops(queued)
	if running > 0 {
		log.Ctx(ctx).InfoContext(
			ctx,
			"keeping stop of running discharge",
			slog.Time("stopAt", queued[running-1].ScheduledAt),
		)
	}

	candidates := dischargeCandidates(series, queued)
	soc, err := c.system.GetStateOfCharge(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read state of charge", slog.Any("error", err))
		soc = 0
	}
	survivors := reviseDischarge(c.cfg, candidates, night.Mean(), soc)

	var cancelledRanks []int
	for _, sm := range queued[running:] {
		if err := c.db.Cancel(ctx, sm.SequenceID); err != nil {
			return fmt.Errorf("failed to cancel %s: %w", sm.SequenceID, err)
		}
		if sm.Rank != nil {
			cancelledRanks = append(cancelledRanks, *sm.Rank)
		}
	}
	survivors = rerank(survivors, cancelledRanks)

	ranks, err := c.db.GetRanks(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ranks: %w", err)
	}
	ranks = mergeRanks(removeRanks(ranks, cancelledRanks), ranksOf(survivors))
	if err := c.db.SetRanks(ctx, ranks); err != nil {
		return fmt.Errorf("failed to set ranks: %w", err)
	}

	var schedule Schedule
	schedule.AddRankedPeriods(survivors, startDischarge, stopDischarge)
	if err := c.enqueue(ctx, &schedule); err != nil {
		return err
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"confirmed discharge prices",
		slog.Float64("chargeMean", night.Mean()),
		slog.Int("candidates", len(candidates)),
		slog.Int("survivors", len(survivors)),
		slog.Any("ranks", ranks),
	)
	c.notifier.Notify(ctx, notify.Event{
		Kind:      notify.KindRevision,
		Timestamp: now,
		Count:     len(survivors),
		Message:   fmt.Sprintf("%d of %d discharge periods kept", len(survivors), len(candidates)),
	})
	return nil
}

// runningStops returns how many stop messages lead the time ordered queue
// before its first start.
func runningStops(queued []types.ScheduledMessage) int {
	for i, sm := range queued {
		if sm.Operation != types.OperationStopDischarge {
			return i
		}
	}
	return len(queued)
}

// dischargeCandidates expands queued discharge messages into the periods they
// cover. A start covers every period until the next discharge message and a
// start with nothing after it covers a single period. Each period keeps the
// rank of the start covering it.
func dischargeCandidates(s prices.Series, queued []types.ScheduledMessage) []RankedPrice {
	sort.SliceStable(queued, func(i, j int) bool {
		return queued[i].ScheduledAt.Before(queued[j].ScheduledAt)
	})
	var out []RankedPrice
	for i, sm := range queued {
		if sm.Operation != types.OperationStartDischarge {
			continue
		}
		end := sm.ScheduledAt.Add(s.Period)
		if i+1 < len(queued) {
			end = queued[i+1].ScheduledAt
		}
		for _, p := range s.Between(sm.ScheduledAt, end) {
			rp := RankedPrice{Price: p}
			if sm.Rank != nil {
				rp.Rank = intPtr(*sm.Rank)
			}
			out = append(out, rp)
		}
	}
	return out
}

// reviseDischarge keeps the candidates that beat chargeMean by more than the
// discharge threshold. When none do and the battery is nearly full the most
// expensive candidate is kept anyway.
func reviseDischarge(cfg Config, candidates []RankedPrice, chargeMean, soc float64) []RankedPrice {
	var keep []RankedPrice
	for _, p := range candidates {
		if p.CostPerKWH-chargeMean > cfg.DischargeThreshold {
			keep = append(keep, p)
		}
	}
	if len(keep) == 0 && len(candidates) > 0 && soc >= cfg.SafetyValveSoC {
		best := candidates[0]
		for _, p := range candidates[1:] {
			if p.CostPerKWH > best.CostPerKWH {
				best = p
			}
		}
		keep = append(keep, best)
	}
	return keep
}

// rerank renumbers the ranked survivors in their existing order starting at
// the lowest cancelled rank. Unranked survivors stay unranked.
func rerank(survivors []RankedPrice, cancelled []int) []RankedPrice {
	if len(cancelled) == 0 {
		return survivors
	}
	base := cancelled[0]
	for _, r := range cancelled[1:] {
		if r < base {
			base = r
		}
	}

	var ranked []int
	for i, p := range survivors {
		if p.Rank != nil {
			ranked = append(ranked, i)
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return *survivors[ranked[a]].Rank < *survivors[ranked[b]].Rank
	})

	out := make([]RankedPrice, len(survivors))
	copy(out, survivors)
	for n, i := range ranked {
		out[i].Rank = intPtr(base + n)
	}
	return out
}

func removeRanks(ranks, remove []int) []int {
	drop := map[int]bool{}
	for _, r := range remove {
		drop[r] = true
	}
	out := []int{}
	for _, r := range ranks {
		if !drop[r] {
			out = append(out, r)
		}
	}
	return out
}

func mergeRanks(a, b []int) []int {
	seen := map[int]bool{}
	out := []int{}
	for _, r := range append(append([]int{}, a...), b...) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Ints(out)
	return out
}

// DischargeLeftover discharges the current period when the battery has energy
// left and the price is far above what recharging tonight costs.
func (c *Controller) DischargeLeftover(ctx context.Context, now time.Time) error {
	status, err := c.db.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if status == types.StatusDischarging {
		log.Ctx(ctx).InfoContext(ctx, "already discharging, skipping leftover discharge")
		return nil
	}
	soc, err := c.system.GetStateOfCharge(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state of charge: %w", err)
	}
	if soc <= c.cfg.MinSoC {
		log.Ctx(ctx).InfoContext(ctx, "no leftover to discharge", slog.Float64("soc", soc))
		return nil
	}

	series, err := c.prices.GetPrices(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to get prices: %w", err)
	}
	current, ok := series.At(now)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "no price for the current period")
		return nil
	}
	night := series.HourRange(nightStartHour, nightEndHour)
	if len(night) == 0 {
		log.Ctx(ctx).WarnContext(ctx, "no night prices, skipping leftover discharge")
		return nil
	}
	cheapest := meanPrice(head(byPriceAsc(night), series.Periods(2)))
	diff := current.CostPerKWH - cheapest
	log.Ctx(ctx).InfoContext(
		ctx,
		"checked leftover discharge",
		slog.Float64("soc", soc),
		slog.Float64("price", current.CostPerKWH),
		slog.Float64("nightCheapest", cheapest),
		slog.Float64("diff", diff),
	)
	if diff <= c.cfg.LeftoverMargin {
		return nil
	}

	var schedule Schedule
	schedule.Set(now, startDischarge)
	schedule.Set(current.TSEnd, stopDischarge)
	if err := c.enqueue(ctx, &schedule); err != nil {
		return err
	}
	c.notifier.Notify(ctx, notify.Event{
		Kind:      notify.KindPlan,
		Timestamp: now,
		Operation: types.OperationStartDischarge.String(),
		Count:     1,
		Message:   "leftover discharge",
	})
	return nil
}

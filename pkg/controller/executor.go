package controller

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/ess"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/notify"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

// Handle executes a message that became due. Device commands are fired
// once and a failure does not stop the recorded status from being updated.
func (c *Controller) Handle(ctx context.Context, sm types.ScheduledMessage, now time.Time) error {
	log.Ctx(ctx).InfoContext(
		ctx,
		"handling message",
		slog.String("operation", sm.Operation.String()),
		slog.String("sequenceID", sm.SequenceID),
		slog.Time("scheduledAt", sm.ScheduledAt),
	)

	switch sm.Operation {
	case types.OperationStartCharge:
		ess.Fire(ctx, "startCharge", func(ctx context.Context) error {
			return c.system.StartCharge(ctx, sm.Power, sm.TargetSoC)
		})
		c.setStatus(ctx, now, types.StatusCharging)
	case types.OperationStopCharge:
		ess.Fire(ctx, "stopCharge", c.system.StopCharge)
		soc, err := c.system.GetStateOfCharge(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to read state of charge after charge", slog.Any("error", err))
		} else if err := c.db.SetLatestChargeSoC(ctx, soc); err != nil {
			return fmt.Errorf("failed to set latest charge soc: %w", err)
		}
		c.setStatus(ctx, now, types.StatusStopped)
	case types.OperationStartDischarge:
		return c.startDischarge(ctx, sm, now)
	case types.OperationStopDischarge:
		ess.Fire(ctx, "stopDischarge", c.system.StopDischarge)
		c.setStatus(ctx, now, types.StatusStopped)
	case types.OperationSetDischargeAfterSolar:
		return c.DischargeAfterSolar(ctx, now)
	default:
		return fmt.Errorf("unknown operation: %s", sm.Operation)
	}
	return nil
}

func (c *Controller) startDischarge(ctx context.Context, sm types.ScheduledMessage, now time.Time) error {
	status, err := c.db.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	admitted, err := c.admit(ctx, sm, now)
	if err != nil {
		return err
	}
	if sm.Rank != nil {
		c.notifier.Notify(ctx, notify.Event{
			Kind:      notify.KindAdmission,
			Timestamp: now,
			Operation: sm.Operation.String(),
			Rank:      sm.Rank,
			Admitted:  &admitted,
		})
	}

	if !admitted {
		if status == types.StatusDischarging {
			ess.Fire(ctx, "stopDischarge", c.system.StopDischarge)
			c.setStatus(ctx, now, types.StatusStopped)
		}
		return nil
	}
	if status == types.StatusDischarging {
		log.Ctx(ctx).DebugContext(ctx, "already discharging")
		return nil
	}
	ess.Fire(ctx, "startDischarge", c.system.StartDischarge)
	c.setStatus(ctx, now, types.StatusDischarging)
	return nil
}

// consumeRank removes rank from the stored rank list. It returns false when
// the rank was not in the list.
func (c *Controller) consumeRank(ctx context.Context, rank int) (bool, error) {
	ranks, err := c.db.GetRanks(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get ranks: %w", err)
	}
	idx := -1
	for i, r := range ranks {
		if r == rank {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	ranks = append(ranks[:idx:idx], ranks[idx+1:]...)
	if err := c.db.SetRanks(ctx, ranks); err != nil {
		return false, fmt.Errorf("failed to set ranks: %w", err)
	}
	return true, nil
}

// admit decides whether a ranked discharge start should run. It is refused
// only when the battery is not expected to last for its rank and a higher
// priority discharge is still queued before the next charge. Unranked starts
// and ranks no longer in the rank list always run.
func (c *Controller) admit(ctx context.Context, sm types.ScheduledMessage, now time.Time) (bool, error) {
	if sm.Rank == nil {
		return true, nil
	}
	rank := *sm.Rank

	found, err := c.consumeRank(ctx, rank)
	if err != nil {
		return false, err
	}
	if !found {
		log.Ctx(ctx).WarnContext(ctx, "rank not found, discharging unconditionally", slog.Int("rank", rank))
		return true, nil
	}

	affordable, ok := c.affordablePeriods(ctx, now)
	if !ok {
		log.Ctx(ctx).InfoContext(ctx, "load rate unknown, admitting discharge", slog.Int("rank", rank))
		return true, nil
	}
	if rank < affordable {
		log.Ctx(ctx).InfoContext(ctx, "admitting discharge", slog.Int("rank", rank), slog.Int("affordable", affordable))
		return true, nil
	}

	pending, err := c.db.PeekPending(ctx, 0)
	if err != nil {
		return false, fmt.Errorf("failed to peek pending messages: %w", err)
	}
	for _, p := range pending {
		if p.Operation == types.OperationStartCharge {
			break
		}
		if p.Operation == types.OperationStartDischarge && p.Rank != nil && *p.Rank < rank {
			log.Ctx(ctx).InfoContext(
				ctx,
				"refusing discharge, higher priority discharge queued",
				slog.Int("rank", rank),
				slog.Int("affordable", affordable),
				slog.Int("aheadRank", *p.Rank),
				slog.Time("aheadAt", p.ScheduledAt),
			)
			return false, nil
		}
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"admitting discharge, no higher priority discharge queued",
		slog.Int("rank", rank),
		slog.Int("affordable", affordable),
	)
	return true, nil
}

// affordablePeriods estimates how many periods the energy stored by the last
// charge covers at the current load rate.
func (c *Controller) affordablePeriods(ctx context.Context, now time.Time) (int, bool) {
	soc, ok, err := c.db.GetLatestChargeSoC(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get latest charge soc", slog.Any("error", err))
	}
	if !ok {
		soc, err = c.system.GetStateOfCharge(ctx)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to read state of charge", slog.Any("error", err))
			return 0, false
		}
	}
	rate, ok := c.estimateLoadRate(ctx, now)
	if !ok || rate <= 0 {
		return 0, false
	}
	capacityWH := math.Max(soc-c.cfg.MinSoC, 0) * c.cfg.CapacityWH
	perPeriod := rate * c.prices.Period().Hours()
	return int(math.Round(capacityWH / perPeriod)), true
}

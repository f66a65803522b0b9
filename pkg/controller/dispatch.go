package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

const dispatchBatch = 100

// Dispatch claims every message due at now and handles them in scheduled
// order. Start messages that are more than a period late are dropped along
// with their rank, stops always run. It returns the number of handled messages.
func (c *Controller) Dispatch(ctx context.Context, now time.Time) (int, error) {
	due, err := c.db.ClaimDue(ctx, now, dispatchBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to claim due messages: %w", err)
	}

	var handled int
	for _, sm := range due {
		mctx := log.With(ctx, log.Ctx(ctx).With(slog.String("sequenceID", sm.SequenceID)))
		if stale(sm, now, c.prices.Period()) {
			log.Ctx(mctx).WarnContext(
				mctx,
				"dropping stale message",
				slog.String("operation", sm.Operation.String()),
				slog.Time("scheduledAt", sm.ScheduledAt),
			)
			if sm.Operation == types.OperationStartDischarge && sm.Rank != nil {
				if _, err := c.consumeRank(mctx, *sm.Rank); err != nil {
					log.Ctx(mctx).ErrorContext(mctx, "failed to drop rank of stale message", slog.Any("error", err))
				}
			}
			continue
		}
		if err := c.Handle(mctx, sm, now); err != nil {
			log.Ctx(mctx).ErrorContext(
				mctx,
				"failed to handle message",
				slog.String("operation", sm.Operation.String()),
				slog.Any("error", err),
			)
			continue
		}
		handled++
	}
	return handled, nil
}

func stale(sm types.ScheduledMessage, now time.Time, window time.Duration) bool {
	switch sm.Operation {
	case types.OperationStartCharge, types.OperationStartDischarge:
		return now.Sub(sm.ScheduledAt) > window
	default:
		return false
	}
}

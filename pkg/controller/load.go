package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

// RecordLoad reads the daily load counter and appends it to the rolling
// sample list.
func (c *Controller) RecordLoad(ctx context.Context, now time.Time) error {
	wh, err := c.system.GetDailyLoad(ctx)
	if err != nil {
		return fmt.Errorf("failed to read daily load: %w", err)
	}
	if err := c.db.AppendLoadSample(ctx, types.LoadSample{WH: wh, Timestamp: now}, c.cfg.LoadSamples); err != nil {
		return fmt.Errorf("failed to store load sample: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "recorded load sample", slog.Float64("wh", wh))
	return nil
}

// loadRate returns the mean house load in Wh per hour over samples. The
// counter resets at midnight so a decrease counts the later value as the
// delta. ok is false with fewer than 2 samples.
func loadRate(samples []types.LoadSample) (float64, bool) {
	if len(samples) < 2 {
		return 0, false
	}
	sorted := make([]types.LoadSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var total float64
	for i := 1; i < len(sorted); i++ {
		delta := sorted[i].WH - sorted[i-1].WH
		if delta < 0 {
			delta = sorted[i].WH
		}
		total += delta
	}
	elapsed := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp).Hours()
	if elapsed <= 0 {
		return 0, false
	}
	return total / elapsed, true
}

// estimateLoadRate uses the recorded samples and falls back to today's
// counter divided by the hours since midnight.
func (c *Controller) estimateLoadRate(ctx context.Context, now time.Time) (float64, bool) {
	samples, err := c.db.GetLoadSamples(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get load samples", slog.Any("error", err))
	}
	if rate, ok := loadRate(samples); ok {
		return rate, true
	}

	hours := now.Sub(common.StartOfDay(now.In(common.Stockholm))).Hours()
	if hours <= 0 {
		return 0, false
	}
	wh, err := c.system.GetDailyLoad(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read daily load", slog.Any("error", err))
		return 0, false
	}
	return wh / hours, true
}

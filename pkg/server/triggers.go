package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/robfig/cron/v3"
)

// trigger fires a pass on a six field (seconds first) cron spec evaluated in
// Stockholm time.
type trigger struct {
	name string
	spec string
	run  func(ctx context.Context, now time.Time) error
}

func defaultTriggers(c Controller) []trigger {
	return []trigger{
		{name: "monitorPrices", spec: "0 30 13 * * *", run: c.ConfirmPrices},
		{name: "dischargeLeftover", spec: "0 0 19-20 * * *", run: c.DischargeLeftover},
		{name: "schedule", spec: "0 55 19 * * *", run: c.Plan},
		{name: "addLoad", spec: "0 10,25,40,55 * * * *", run: c.RecordLoad},
	}
}

// newCron registers every trigger as a job that runs its pass under ctx. The
// returned cron is not started.
func (s *Server) newCron(ctx context.Context) (*cron.Cron, error) {
	if s.triggers == nil {
		s.triggers = defaultTriggers(s.controller)
	}
	c := cron.New(cron.WithLocation(common.Stockholm), cron.WithSeconds())
	for _, t := range s.triggers {
		if _, err := c.AddFunc(t.spec, func() {
			// errors are logged by runPass and retried at the next instant
			_ = s.runPass(ctx, t.name, t.run)
		}); err != nil {
			return nil, fmt.Errorf("invalid spec for trigger %s: %w", t.name, err)
		}
	}
	return c, nil
}

// runDispatch dispatches due messages every dispatch interval until ctx is
// done.
func (s *Server) runDispatch(ctx context.Context) {
	log.Ctx(ctx).InfoContext(ctx, "starting dispatch loop", slog.Duration("interval", s.dispatchInterval))
	ticker := time.NewTicker(s.dispatchInterval)
	defer ticker.Stop()
	for {
		s.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) dispatch(ctx context.Context) {
	_ = s.runPass(ctx, "dispatch", func(ctx context.Context, now time.Time) error {
		n, err := s.controller.Dispatch(ctx, now)
		if n > 0 {
			log.Ctx(ctx).InfoContext(ctx, "dispatched messages", slog.Int("handled", n))
		}
		return err
	})
}

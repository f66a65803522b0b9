package prices

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Source fetches the day-ahead prices of a single calendar day.
type Source interface {
	// FetchDay returns the prices for day. An error means no data for that
	// day and is never fatal for the caller by itself.
	FetchDay(ctx context.Context, day time.Time) ([]types.Price, error)
}

// Service builds the price Series used by planning.
type Service struct {
	source   Source
	tariff   types.Tariff
	markup   bool
	period   time.Duration
	location *time.Location
}

// Configured sets up the price service based on flags.
func Configured() *Service {
	period := lflag.Duration("period", 15*time.Minute, "Scheduling period length (15m or 1h)")
	markup := lflag.Bool("tariff-markup", true, "Add the grid tariff markup to every price")
	tariffFile := lflag.String("tariff-file", "", "YAML file with a tariff table overriding the built-in one")

	s := &Service{
		location: common.Stockholm,
		tariff:   DefaultTariff(),
	}
	e := configuredElpriset()
	s.source = e

	lflag.Do(func() {
		if err := e.Validate(); err != nil {
			panic(fmt.Sprintf("elpriset validation failed: %v", err))
		}
		if *period <= 0 || time.Hour%*period != 0 {
			panic(fmt.Sprintf("period must evenly divide an hour: %s", *period))
		}
		s.period = *period
		s.markup = *markup
		if *tariffFile != "" {
			t, err := LoadTariff(*tariffFile)
			if err != nil {
				panic(fmt.Sprintf("tariff load failed: %v", err))
			}
			s.tariff = t
		}
	})

	return s
}

// New returns a Service around an explicit source. This is primarily used for testing.
func New(source Source, period time.Duration, tariff *types.Tariff) *Service {
	s := &Service{
		source:   source,
		period:   period,
		location: common.Stockholm,
	}
	if tariff != nil {
		s.tariff = *tariff
		s.markup = true
	}
	return s
}

// Period returns the configured scheduling period.
func (s *Service) Period() time.Duration {
	return s.period
}

// GetPrices returns the series for the day of now and the day after. Today's
// prices are required; tomorrow's are best effort and simply left out when
// they are not published yet or the fetch fails.
func (s *Service) GetPrices(ctx context.Context, now time.Time) (Series, error) {
	today := common.StartOfDay(now.In(s.location))
	tomorrow := today.AddDate(0, 0, 1)

	todayPrices, err := s.fetch(ctx, today)
	if err != nil {
		return Series{}, fmt.Errorf("failed to get today's prices: %w", err)
	}
	if len(todayPrices) == 0 {
		return Series{}, fmt.Errorf("no prices for %s", today.Format(time.DateOnly))
	}

	tomorrowPrices, err := s.fetch(ctx, tomorrow)
	if err != nil {
		log.Ctx(ctx).WarnContext(
			ctx,
			"tomorrow's prices unavailable",
			slog.String("day", tomorrow.Format(time.DateOnly)),
			slog.Any("error", err),
		)
		tomorrowPrices = nil
	}

	series := Series{
		Day:    today,
		Period: s.period,
		Prices: append(todayPrices, tomorrowPrices...),
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"built price series",
		slog.Int("today", len(todayPrices)),
		slog.Int("tomorrow", len(tomorrowPrices)),
		slog.Duration("period", s.period),
	)
	return series, nil
}

func (s *Service) fetch(ctx context.Context, day time.Time) ([]types.Price, error) {
	raw, err := s.source.FetchDay(ctx, day)
	if err != nil {
		return nil, err
	}
	prices := resample(raw, s.period)
	for i := range prices {
		prices[i].TSStart = prices[i].TSStart.In(s.location)
		prices[i].TSEnd = prices[i].TSEnd.In(s.location)
	}
	if s.markup {
		prices, err = applyTariff(prices, s.tariff)
		if err != nil {
			return nil, fmt.Errorf("failed to apply tariff: %w", err)
		}
	}
	return prices, nil
}

package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Source fetches a raw production forecast.
type Source interface {
	Fetch(ctx context.Context) ([]types.ForecastPeriod, error)
}

// Service turns the raw forecast into a ForecastSummary.
type Service struct {
	source Source
	// MaterialKW is the production level above which solar covers the house.
	MaterialKW float64
	// SelfConsumptionKW is subtracted from production before it counts
	// towards the battery.
	SelfConsumptionKW float64
}

// Configured sets up the forecast service based on flags.
func Configured() *Service {
	material := lflag.String("forecast-material-kw", "1.0", "Production (kW) above which solar is considered to cover the load")
	self := lflag.String("forecast-self-consumption-kw", "0.5", "Household self consumption (kW) subtracted before counting battery energy")

	sc := configuredSolcast()
	s := &Service{}

	lflag.Do(func() {
		s.MaterialKW = parseKW("forecast-material-kw", *material)
		s.SelfConsumptionKW = parseKW("forecast-self-consumption-kw", *self)
		if sc.Enabled() {
			s.source = sc
		}
	})

	return s
}

// New returns a Service around an explicit source. This is primarily used for testing.
func New(source Source, materialKW, selfConsumptionKW float64) *Service {
	return &Service{source: source, MaterialKW: materialKW, SelfConsumptionKW: selfConsumptionKW}
}

// Summary returns the forecast summary for the calendar day of day. Any
// failure yields an unavailable summary so callers fall back to defaults.
func (s *Service) Summary(ctx context.Context, day time.Time) types.ForecastSummary {
	if s.source == nil {
		log.Ctx(ctx).DebugContext(ctx, "no forecast source configured")
		return types.ForecastSummary{}
	}
	periods, err := s.source.Fetch(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "forecast unavailable", slog.Any("error", err))
		return types.ForecastSummary{}
	}
	summary := Summarize(periods, day, s.MaterialKW, s.SelfConsumptionKW)
	log.Ctx(ctx).InfoContext(
		ctx,
		"forecast summary",
		slog.String("day", common.StartOfDay(day).Format(time.DateOnly)),
		slog.Bool("available", summary.Available),
		slog.Float64("totalKWH", summary.TotalKWH),
		slog.Float64("batteryKWH", summary.BatteryKWH),
		slog.Time("productionStart", summary.ProductionStart),
		slog.Time("productionEnd", summary.ProductionEnd),
	)
	return summary
}

// Summarize reduces the periods that start on day's calendar date.
func Summarize(periods []types.ForecastPeriod, day time.Time, materialKW, selfConsumptionKW float64) types.ForecastSummary {
	start := common.StartOfDay(day)
	end := start.AddDate(0, 0, 1)

	var summary types.ForecastSummary
	for _, p := range periods {
		if p.TSStart.Before(start) || !p.TSStart.Before(end) {
			continue
		}
		summary.Available = true
		hours := p.TSEnd.Sub(p.TSStart).Hours()
		summary.TotalKWH += p.KW * hours
		if surplus := p.KW - selfConsumptionKW; surplus > 0 {
			summary.BatteryKWH += surplus * hours
		}
		if p.KW > materialKW {
			if summary.ProductionStart.IsZero() {
				summary.ProductionStart = p.TSStart.In(day.Location())
			}
			summary.ProductionEnd = p.TSEnd.In(day.Location())
		}
	}
	return summary
}

func parseKW(name, v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		panic(fmt.Sprintf("invalid %s: %s", name, v))
	}
	return f
}

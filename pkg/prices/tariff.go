package prices

import (
	"fmt"
	"os"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"gopkg.in/yaml.v3"
)

// DefaultTariff is the Vattenfall time-differentiated grid fee: high on
// winter weekdays between 06:00 and 23:00, low otherwise.
func DefaultTariff() types.Tariff {
	return types.Tariff{
		BaseMarkupPerKWH: 0.16,
		Periods: []types.TariffPeriod{
			{
				Months:        []time.Month{time.January, time.February, time.March, time.November, time.December},
				DaysOfTheWeek: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
				HourStart:     6,
				HourEnd:       23,
				LocationPtr:   common.Stockholm,
				MarkupPerKWH:  0.536,
				Description:   "Winter weekday high load",
			},
		},
	}
}

// LoadTariff reads a tariff table from a YAML file. Periods without an
// explicit location are evaluated in Stockholm time.
func LoadTariff(path string) (types.Tariff, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return types.Tariff{}, fmt.Errorf("failed to read tariff file: %w", err)
	}
	var t types.Tariff
	if err := yaml.Unmarshal(b, &t); err != nil {
		return types.Tariff{}, fmt.Errorf("failed to parse tariff file: %w", err)
	}
	for i := range t.Periods {
		p := &t.Periods[i]
		if p.HourEnd == 0 {
			p.HourEnd = 24
		}
		if p.HourStart < 0 || p.HourEnd > 24 || p.HourStart >= p.HourEnd {
			return types.Tariff{}, fmt.Errorf("tariff period %d has invalid hours %d-%d", i, p.HourStart, p.HourEnd)
		}
		if p.Location == "" {
			p.LocationPtr = common.Stockholm
		}
	}
	return t, nil
}

// applyTariff returns copies of prices with the tariff markup added.
func applyTariff(prices []types.Price, tariff types.Tariff) ([]types.Price, error) {
	out := make([]types.Price, len(prices))
	for i, p := range prices {
		m, err := tariff.MarkupAt(p.TSStart)
		if err != nil {
			return nil, err
		}
		p.MarkupPerKWH = m
		p.CostPerKWH += m
		out[i] = p
	}
	return out, nil
}

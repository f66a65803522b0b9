package prices

import (
	"sort"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

// resample converts prices of any granularity into periods of exactly period.
// Finer prices are averaged into their bucket, coarser prices are split into
// equal parts carrying the same price.
func resample(prices []types.Price, period time.Duration) []types.Price {
	type bucket struct {
		start    time.Time
		provider string
		sum      float64
		count    int
	}
	buckets := make(map[int64]*bucket)

	add := func(start time.Time, p types.Price) {
		key := start.Unix()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{start: start, provider: p.Provider}
			buckets[key] = b
		}
		b.sum += p.CostPerKWH
		b.count++
	}

	for _, p := range prices {
		d := p.TSEnd.Sub(p.TSStart)
		if d <= 0 {
			d = period
		}
		if d >= period {
			for ts := p.TSStart; ts.Before(p.TSStart.Add(d)); ts = ts.Add(period) {
				add(ts, p)
			}
			continue
		}
		add(p.TSStart.Truncate(period), p)
	}

	out := make([]types.Price, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, types.Price{
			Provider:    b.provider,
			TSStart:     b.start,
			TSEnd:       b.start.Add(period),
			CostPerKWH:  b.sum / float64(b.count),
			SampleCount: b.count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TSStart.Before(out[j].TSStart)
	})
	return out
}

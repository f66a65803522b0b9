package prices

import (
	"testing"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlySeries(day time.Time, hours int) Series {
	s := Series{Day: day, Period: time.Hour}
	for i := 0; i < hours; i++ {
		start := common.AtHour(day, i)
		s.Prices = append(s.Prices, types.Price{TSStart: start, TSEnd: start.Add(time.Hour), CostPerKWH: float64(i)})
	}
	return s
}

func TestSeries(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, common.Stockholm)

	t.Run("Index", func(t *testing.T) {
		s := Series{Day: day, Period: 15 * time.Minute}
		assert.Equal(t, 96, s.PerDay())
		assert.Equal(t, 0, s.Index(day))
		assert.Equal(t, 22*4+1, s.Index(day.Add(22*time.Hour+15*time.Minute)))
		assert.Equal(t, 96+6*4, s.Index(common.AtHour(day, 30)))
	})

	t.Run("HourRange", func(t *testing.T) {
		s := hourlySeries(day, 48)
		night := s.HourRange(22, 30)
		require.Len(t, night, 8)
		assert.Equal(t, 22.0, night[0].CostPerKWH)
		assert.Equal(t, 29.0, night[7].CostPerKWH)

		night[0].CostPerKWH = 100
		assert.Equal(t, 22.0, s.Prices[22].CostPerKWH, "Range must return a copy")
	})

	t.Run("TodayOnly", func(t *testing.T) {
		s := hourlySeries(day, 24)
		assert.False(t, s.HasTomorrow())
		assert.Len(t, s.HourRange(22, 30), 2, "only tonight's part before midnight")
		assert.Empty(t, s.HourRange(30, 46))
	})

	t.Run("HasTomorrow", func(t *testing.T) {
		assert.True(t, hourlySeries(day, 30).HasTomorrow())
	})

	t.Run("At", func(t *testing.T) {
		s := hourlySeries(day, 24)
		p, ok := s.At(day.Add(13*time.Hour + 20*time.Minute))
		require.True(t, ok)
		assert.Equal(t, 13.0, p.CostPerKWH)

		_, ok = s.At(day.Add(-time.Minute))
		assert.False(t, ok)
	})

	t.Run("Between", func(t *testing.T) {
		s := hourlySeries(day, 24)
		got := s.Between(day.Add(20*time.Hour), day.Add(22*time.Hour))
		require.Len(t, got, 2)
		assert.Equal(t, 20.0, got[0].CostPerKWH)
	})

	t.Run("DST spring forward", func(t *testing.T) {
		// 02:00-03:00 does not exist on 2024-03-31
		dst := time.Date(2024, 3, 31, 0, 0, 0, 0, common.Stockholm)
		s := Series{Day: dst, Period: time.Hour}
		for ts := dst; ts.Before(dst.AddDate(0, 0, 1)); ts = ts.Add(time.Hour) {
			s.Prices = append(s.Prices, types.Price{TSStart: ts, TSEnd: ts.Add(time.Hour)})
		}
		require.Len(t, s.Prices, 23)
		assert.Len(t, s.HourRange(0, 24), 23)
		assert.Equal(t, 3, s.Index(s.Prices[2].TSStart), "03:00 keeps its wall-clock index")
	})
}

package terrain

import (
	"math"
	"sort"
	"time"

	"github.com/lox/pvyield/internal/models"
)

// MonthlyTotals sums GlobalAverage per point per calendar month. Each series
// is ordered by month and dated on the 1st.
func MonthlyTotals(samples []models.RadiationSample) map[string]models.Series {
	sums := make(map[string]map[time.Time]float64)
	for _, s := range samples {
		byMonth, ok := sums[s.PointID]
		if !ok {
			byMonth = make(map[time.Time]float64)
			sums[s.PointID] = byMonth
		}
		byMonth[models.MonthStart(s.Date.Year(), s.Date.Month())] += s.GlobalAverage
	}

	out := make(map[string]models.Series, len(sums))
	for id, byMonth := range sums {
		series := make(models.Series, 0, len(byMonth))
		for month, v := range byMonth {
			series = append(series, models.Sample{Date: month, Value: v})
		}
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
		out[id] = series
	}
	return out
}

// SpreadPeriods turns multi-day interval output into monthly totals. Each
// period value is divided evenly over periodDays and carried forward day by
// day through [start, end]; days before the first sample contribute nothing.
func SpreadPeriods(samples []models.RadiationSample, periodDays int, start, end time.Time) models.Series {
	if periodDays < 1 {
		periodDays = 1
	}
	sorted := make([]models.RadiationSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	sums := make(map[time.Time]float64)
	var months []time.Time
	current := math.NaN()
	next := 0
	for day := models.Day(start); !day.After(models.Day(end)); day = day.AddDate(0, 0, 1) {
		for next < len(sorted) && !models.Day(sorted[next].Date).After(day) {
			current = sorted[next].GlobalAverage / float64(periodDays)
			next++
		}
		month := models.MonthStart(day.Year(), day.Month())
		if _, ok := sums[month]; !ok {
			sums[month] = 0
			months = append(months, month)
		}
		if !math.IsNaN(current) {
			sums[month] += current
		}
	}

	series := make(models.Series, len(months))
	for i, m := range months {
		series[i] = models.Sample{Date: m, Value: sums[m]}
	}
	return series
}

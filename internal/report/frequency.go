package report

import (
	"sort"
	"time"

	"github.com/lox/pvyield/internal/models"
)

// Frequency is the regular spacing of a date index.
type Frequency string

const (
	FreqUnknown    Frequency = ""
	FreqDaily      Frequency = "D"
	FreqWeekly     Frequency = "W" // weeks ending on Sunday
	FreqMonthStart Frequency = "MS"
	FreqMonthEnd   Frequency = "ME"
)

// InferFrequency recognises daily, weekly (Sunday-labelled), month-start and
// month-end indexes. Anything irregular, or fewer than three dates, is
// FreqUnknown.
func InferFrequency(dates []time.Time) Frequency {
	if len(dates) < 3 {
		return FreqUnknown
	}
	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	every := func(ok func(prev, cur time.Time) bool) bool {
		for i := 1; i < len(sorted); i++ {
			if !ok(sorted[i-1], sorted[i]) {
				return false
			}
		}
		return true
	}
	days := func(n int) func(prev, cur time.Time) bool {
		return func(prev, cur time.Time) bool { return prev.AddDate(0, 0, n).Equal(cur) }
	}

	switch {
	case every(days(1)):
		return FreqDaily
	case every(days(7)) && sorted[0].Weekday() == time.Sunday:
		return FreqWeekly
	case every(func(prev, cur time.Time) bool {
		return prev.Day() == 1 && cur.Equal(prev.AddDate(0, 1, 0))
	}):
		return FreqMonthStart
	case every(func(prev, cur time.Time) bool {
		return isMonthEnd(prev) && isMonthEnd(cur) && monthIndex(cur)-monthIndex(prev) == 1
	}):
		return FreqMonthEnd
	}
	return FreqUnknown
}

func isMonthEnd(t time.Time) bool {
	return t.AddDate(0, 0, 1).Day() == 1
}

func monthIndex(t time.Time) int {
	return t.Year()*12 + int(t.Month())
}

// bucket returns the label of the period t falls into.
func (f Frequency) bucket(t time.Time) time.Time {
	t = models.Day(t)
	switch f {
	case FreqWeekly:
		return t.AddDate(0, 0, (7-int(t.Weekday()))%7)
	case FreqMonthStart:
		return models.MonthStart(t.Year(), t.Month())
	case FreqMonthEnd:
		return models.MonthStart(t.Year(), t.Month()).AddDate(0, 1, -1)
	}
	return t
}

// ResampleMean aggregates s to freq by averaging the values in each period.
// Only periods that contain data are returned.
func ResampleMean(s models.Series, freq Frequency) models.Series {
	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	var labels []time.Time
	for _, p := range s {
		b := freq.bucket(p.Date)
		if _, ok := counts[b]; !ok {
			labels = append(labels, b)
		}
		sums[b] += p.Value
		counts[b]++
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Before(labels[j]) })

	out := make(models.Series, len(labels))
	for i, b := range labels {
		out[i] = models.Sample{Date: b, Value: sums[b] / float64(counts[b])}
	}
	return out
}

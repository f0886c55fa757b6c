package report

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lox/pvyield/internal/models"
)

func monthStarts(values ...float64) models.Series {
	s := make(models.Series, len(values))
	for i, v := range values {
		s[i] = models.Sample{Date: models.MonthStart(2024, time.Month(i+1)), Value: v}
	}
	return s
}

func scaled(s models.Series, f float64) models.Series {
	out := make(models.Series, len(s))
	for i, p := range s {
		out[i] = models.Sample{Date: p.Date, Value: p.Value * f}
	}
	return out
}

func singlePanel(production models.Series) []PanelSeries {
	return []PanelSeries{{Panel: "south", Radiation: scaled(production, 10), Production: production}}
}

func TestSelectArea_ExactMatch(t *testing.T) {
	consumption := monthStarts(100, 100, 100)
	table, err := NewEnergyTable(singlePanel(monthStarts(1, 1, 1)), consumption, zap.NewNop())
	require.NoError(t, err)

	candidates := []Candidate{
		{AreaM2: 9, Production: monthStarts(90, 90, 90)},
		{AreaM2: 10, Production: monthStarts(100, 100, 100)},
		{AreaM2: 13, Production: monthStarts(130, 130, 130)},
	}
	sel, err := table.SelectArea(candidates)
	require.NoError(t, err)
	assert.Equal(t, 10.0, sel.Best.AreaM2)
	assert.Zero(t, sel.Deviation)
	assert.Equal(t, []float64{30, 0, -90}, sel.Deviations)
}

func TestSelectArea_SignedDeviationCancels(t *testing.T) {
	consumption := monthStarts(100, 100, 100)
	table, err := NewEnergyTable(singlePanel(monthStarts(1, 1, 1)), consumption, zap.NewNop())
	require.NoError(t, err)

	// Over- and under-production cancel, so this ties with an exact match
	// and wins by coming first.
	candidates := []Candidate{
		{AreaM2: 5, Production: monthStarts(150, 50, 100)},
		{AreaM2: 10, Production: monthStarts(100, 100, 100)},
	}
	sel, err := table.SelectArea(candidates)
	require.NoError(t, err)
	assert.Equal(t, 5.0, sel.Best.AreaM2)
}

func TestSelectArea_NoConsumption(t *testing.T) {
	table, err := NewEnergyTable(singlePanel(monthStarts(1, 2, 3)), nil, zap.NewNop())
	require.NoError(t, err)

	_, err = table.SelectArea([]Candidate{{AreaM2: 1, Production: monthStarts(1, 2, 3)}})
	assert.True(t, errors.Is(err, ErrNoConsumption))

	_, ok := table.TotalConsumption()
	assert.False(t, ok)
	_, ok = table.EnergyBalance()
	assert.False(t, ok)
	assert.False(t, table.HasConsumption())
}

func TestEnergyTable_Metrics(t *testing.T) {
	panels := []PanelSeries{
		{Panel: "east", Radiation: monthStarts(100, 200, 300), Production: monthStarts(10, 20, 30)},
		{Panel: "south", Radiation: monthStarts(100, 100, 100), Production: monthStarts(15, 15, 15)},
	}
	table, err := NewEnergyTable(panels, monthStarts(40, 40), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, FreqMonthStart, table.Frequency())
	assert.InDelta(t, 105, table.TotalProduction(), 1e-9)
	assert.InDelta(t, 900, table.TotalRadiation(), 1e-9)
	assert.InDelta(t, 105.0/900, table.EnergyEfficiency(), 1e-12)

	cons, ok := table.TotalConsumption()
	require.True(t, ok)
	assert.InDelta(t, 80, cons, 1e-9, "only joined dates count")
	balance, _ := table.EnergyBalance()
	assert.InDelta(t, 25, balance, 1e-9)

	rows := table.Rows()
	require.Len(t, rows, 3)
	assert.InDelta(t, 35, rows[1].Production, 1e-9)
	assert.False(t, rows[2].HasConsumption)
	assert.Equal(t, []string{"east", "south"}, table.Panels())
}

func TestEnergyTable_ResamplesConsumptionWithMean(t *testing.T) {
	var daily models.Series
	for d := models.MonthStart(2024, time.January); d.Month() <= time.February; d = d.AddDate(0, 0, 1) {
		v := 10.0
		if d.Month() == time.February {
			v = 20
		}
		daily = append(daily, models.Sample{Date: d, Value: v})
	}
	table, err := NewEnergyTable(singlePanel(monthStarts(300, 300, 300)), daily, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, table.Resampled())
	rows := table.Rows()
	assert.Equal(t, 10.0, rows[0].Consumption, "mean, not sum, of the daily values")
	assert.Equal(t, 20.0, rows[1].Consumption)
	assert.False(t, rows[2].HasConsumption)
}

func TestEnergyTable_DisjointConsumption(t *testing.T) {
	consumption := models.Series{
		{Date: models.MonthStart(2023, time.January), Value: 100},
		{Date: models.MonthStart(2023, time.February), Value: 100},
		{Date: models.MonthStart(2023, time.March), Value: 100},
	}
	table, err := NewEnergyTable(singlePanel(monthStarts(1, 2, 3)), consumption, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, table.Disjoint())
	assert.False(t, table.HasConsumption())

	overlapping, err := NewEnergyTable(singlePanel(monthStarts(1, 2, 3)), monthStarts(5, 5, 5), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, overlapping.Disjoint())
}

func TestEnergyTable_MismatchedLengths(t *testing.T) {
	panels := []PanelSeries{{Panel: "x", Radiation: monthStarts(1), Production: monthStarts(1, 2)}}
	_, err := NewEnergyTable(panels, nil, zap.NewNop())
	assert.ErrorIs(t, err, models.ErrDataQuality)

	_, err = NewEnergyTable(nil, nil, zap.NewNop())
	assert.ErrorIs(t, err, models.ErrDataQuality)
}

func TestPanelPivot(t *testing.T) {
	panels := []PanelSeries{
		{Panel: "east", Radiation: monthStarts(0, 0), Production: monthStarts(12.4, 20.6)},
		{Panel: "west", Radiation: monthStarts(0), Production: monthStarts(7.5)},
	}
	table, err := NewEnergyTable(panels, nil, zap.NewNop())
	require.NoError(t, err)

	pivot := table.PanelPivot()
	require.Len(t, pivot, 2)
	assert.Equal(t, PivotRow{Month: time.January, Values: []float64{12, 8}}, pivot[0])
	assert.Equal(t, PivotRow{Month: time.February, Values: []float64{21, 0}}, pivot[1])
	assert.True(t, math.IsNaN(table.EnergyEfficiency()), "zero radiation has no efficiency")
}

func TestInferFrequency(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	tests := []struct {
		name  string
		dates []time.Time
		want  Frequency
	}{
		{"daily", []time.Time{day(2024, 1, 30), day(2024, 1, 31), day(2024, 2, 1)}, FreqDaily},
		{"weekly on sundays", []time.Time{day(2024, 1, 7), day(2024, 1, 14), day(2024, 1, 21)}, FreqWeekly},
		{"weekly on mondays", []time.Time{day(2024, 1, 1), day(2024, 1, 8), day(2024, 1, 15)}, FreqUnknown},
		{"month start", []time.Time{day(2024, 11, 1), day(2024, 12, 1), day(2025, 1, 1)}, FreqMonthStart},
		{"month end", []time.Time{day(2024, 1, 31), day(2024, 2, 29), day(2024, 3, 31)}, FreqMonthEnd},
		{"unsorted month start", []time.Time{day(2024, 3, 1), day(2024, 1, 1), day(2024, 2, 1)}, FreqMonthStart},
		{"gap", []time.Time{day(2024, 1, 1), day(2024, 3, 1), day(2024, 4, 1)}, FreqUnknown},
		{"too short", []time.Time{day(2024, 1, 1), day(2024, 2, 1)}, FreqUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferFrequency(tt.dates))
		})
	}
}

func TestResampleMean_WeeklyLabels(t *testing.T) {
	// Monday 1 Jan 2024 through Monday 8 Jan 2024.
	var s models.Series
	for i := 0; i < 8; i++ {
		s = append(s, models.Sample{Date: time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC), Value: float64(i)})
	}
	got := ResampleMean(s, FreqWeekly)
	require.Len(t, got, 2)
	assert.Equal(t, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), got[0].Date)
	assert.Equal(t, 3.0, got[0].Value)
	assert.Equal(t, 7.0, got[1].Value)
}

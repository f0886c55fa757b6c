package energy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pvyield/internal/models"
)

func monthly(values ...float64) models.Series {
	s := make(models.Series, len(values))
	for i, v := range values {
		s[i] = models.Sample{Date: models.MonthStart(2024, time.Month(i+1)), Value: v}
	}
	return s
}

func TestConvert(t *testing.T) {
	got, err := Convert(10, 0.15, 0.8, Sizing{AreaM2: 20})
	require.NoError(t, err)
	assert.InDelta(t, 24.0, got, 1e-12)
}

func TestConvert_KWp(t *testing.T) {
	// 3 kWp at 15% needs 20 m², so the output matches the area case.
	assert.InDelta(t, 20.0, AreaForKWp(3, 0.15), 1e-12)

	got, err := Convert(10, 0.15, 0.8, Sizing{KWp: 3})
	require.NoError(t, err)
	assert.InDelta(t, 24.0, got, 1e-9)
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name    string
		srad    float64
		sizing  Sizing
		wantErr error
	}{
		{"both area and kwp", 10, Sizing{AreaM2: 20, KWp: 3}, models.ErrConfiguration},
		{"neither area nor kwp", 10, Sizing{}, models.ErrConfiguration},
		{"negative area", 10, Sizing{AreaM2: -1}, models.ErrConfiguration},
		{"negative radiation", -1, Sizing{AreaM2: 20}, models.ErrDataQuality},
		{"NaN radiation", math.NaN(), Sizing{AreaM2: 20}, models.ErrDataQuality},
		{"infinite radiation", math.Inf(1), Sizing{AreaM2: 20}, models.ErrDataQuality},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Convert(tt.srad, 0.15, 0.8, tt.sizing)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConvertSeries(t *testing.T) {
	radiation := monthly(10, 0, 50)
	got, err := ConvertSeries(radiation, 0.2, 0.75, Sizing{AreaM2: 10})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, radiation.Dates(), got.Dates())
	assert.InDelta(t, 15.0, got[0].Value, 1e-12)
	assert.Zero(t, got[1].Value)
	assert.InDelta(t, 75.0, got[2].Value, 1e-12)

	_, err = ConvertSeries(monthly(10, -3), 0.2, 0.75, Sizing{AreaM2: 10})
	assert.ErrorIs(t, err, models.ErrDataQuality)
	assert.ErrorContains(t, err, "2024-02-01")
}

func TestSample_DegenerateBoundsMatchDeterministic(t *testing.T) {
	radiation := monthly(10, 42.5, 130.25, 0)
	for _, sizing := range []Sizing{{AreaM2: 20}, {KWp: 3}} {
		want, err := ConvertSeries(radiation, 0.15, 0.8, sizing)
		require.NoError(t, err)

		band, err := Sample(radiation, SampleOptions{
			Efficiency: models.Scalar(0.15),
			Loss:       models.Scalar(0.8),
			Sizing:     sizing,
			N:          500,
			Seed:       7,
		})
		require.NoError(t, err)
		assert.Equal(t, want, band.Low)
		assert.Equal(t, want, band.Median)
		assert.Equal(t, want, band.High)
	}
}

func TestSample_BandIsOrderedAndBounded(t *testing.T) {
	radiation := monthly(100, 200)
	band, err := Sample(radiation, SampleOptions{
		Efficiency: models.Range{Lo: 0.15, Hi: 0.2},
		Loss:       models.Range{Lo: 0.75, Hi: 0.85},
		Sizing:     Sizing{AreaM2: 10},
		Seed:       1,
	})
	require.NoError(t, err)

	for i := range radiation {
		lo, mid, hi := band.Low[i].Value, band.Median[i].Value, band.High[i].Value
		assert.Less(t, lo, mid)
		assert.Less(t, mid, hi)
		floor := radiation[i].Value * 10 * 0.15 * 0.75
		ceiling := radiation[i].Value * 10 * 0.2 * 0.85
		assert.GreaterOrEqual(t, lo, floor)
		assert.LessOrEqual(t, hi, ceiling)
		// The median of the product of two independent uniforms sits near
		// the product of their midpoints.
		assert.InDelta(t, radiation[i].Value*10*0.175*0.8, mid, radiation[i].Value*0.05)
	}
	assert.Equal(t, radiation.Dates(), band.Median.Dates())
}

func TestSample_Reproducible(t *testing.T) {
	opts := SampleOptions{
		Efficiency: models.Range{Lo: 0.15, Hi: 0.2},
		Loss:       models.Range{Lo: 0.7, Hi: 0.9},
		Sizing:     Sizing{AreaM2: 20},
		N:          1000,
		Seed:       42,
	}
	a, err := Sample(monthly(80), opts)
	require.NoError(t, err)
	b, err := Sample(monthly(80), opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSample_Errors(t *testing.T) {
	_, err := Sample(monthly(1), SampleOptions{
		Efficiency: models.Range{Lo: 0.2, Hi: 0.1},
		Loss:       models.Scalar(0.8),
		Sizing:     Sizing{AreaM2: 1},
	})
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = Sample(monthly(1), SampleOptions{
		Efficiency: models.Scalar(0.15),
		Loss:       models.Scalar(0.8),
		Sizing:     Sizing{AreaM2: 1, KWp: 1},
	})
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = Sample(monthly(-5), SampleOptions{
		Efficiency: models.Scalar(0.15),
		Loss:       models.Scalar(0.8),
		Sizing:     Sizing{AreaM2: 1},
	})
	assert.ErrorIs(t, err, models.ErrDataQuality)
}

package energy

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/lox/pvyield/internal/models"
)

const DefaultSamples = 10000

// Band percentiles.
const (
	LowQuantile    = 0.1
	MedianQuantile = 0.5
	HighQuantile   = 0.9
)

// Band is the P10, P50 and P90 production series of a sampled conversion,
// aligned to the input radiation index.
type Band struct {
	Low    models.Series
	Median models.Series
	High   models.Series
}

type SampleOptions struct {
	Efficiency models.Range
	Loss       models.Range
	Sizing     Sizing
	N          int    // draws; DefaultSamples when zero
	Seed       uint64 // fixed seed for reproducible reports
}

// Sample draws N efficiencies and N system losses independently and
// uniformly from their ranges, converts the radiation series once per draw
// and returns the 10th, 50th and 90th percentile at every time step.
func Sample(radiation models.Series, opts SampleOptions) (Band, error) {
	if err := ValidateRadiation(radiation); err != nil {
		return Band{}, err
	}
	for _, r := range []struct {
		name string
		rng  models.Range
	}{{"efficiency", opts.Efficiency}, {"system_loss", opts.Loss}} {
		if r.rng.Lo > r.rng.Hi {
			return Band{}, fmt.Errorf("%w: %s range [%v, %v] is inverted", models.ErrConfiguration, r.name, r.rng.Lo, r.rng.Hi)
		}
	}
	n := opts.N
	if n <= 0 {
		n = DefaultSamples
	}

	src := rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)
	effDist := distuv.Uniform{Min: opts.Efficiency.Lo, Max: opts.Efficiency.Hi, Src: src}
	lossDist := distuv.Uniform{Min: opts.Loss.Lo, Max: opts.Loss.Hi, Src: src}

	effs := make([]float64, n)
	areas := make([]float64, n)
	for i := range effs {
		effs[i] = effDist.Rand()
		area, err := opts.Sizing.Area(effs[i])
		if err != nil {
			return Band{}, err
		}
		areas[i] = area
	}
	losses := make([]float64, n)
	for i := range losses {
		losses[i] = lossDist.Rand()
	}

	band := Band{
		Low:    make(models.Series, len(radiation)),
		Median: make(models.Series, len(radiation)),
		High:   make(models.Series, len(radiation)),
	}
	draws := make([]float64, n)
	for t, s := range radiation {
		for i := range draws {
			draws[i] = produce(s.Value, areas[i], effs[i], losses[i])
		}
		sort.Float64s(draws)
		band.Low[t] = models.Sample{Date: s.Date, Value: stat.Quantile(LowQuantile, stat.LinInterp, draws, nil)}
		band.Median[t] = models.Sample{Date: s.Date, Value: stat.Quantile(MedianQuantile, stat.LinInterp, draws, nil)}
		band.High[t] = models.Sample{Date: s.Date, Value: stat.Quantile(HighQuantile, stat.LinInterp, draws, nil)}
	}
	return band, nil
}

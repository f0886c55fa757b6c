package calibrate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/lox/pvyield/internal/models"
)

const (
	MetricRMSE = "rmse"
	MetricMAE  = "mae"
)

// PointError is one (station, month, grid point) row of the error surface.
// RMSE and MAE are the station's error over all its matched months.
type PointError struct {
	StationID         string
	Month             time.Time
	Transmittivity    float64
	DiffuseProportion float64
	Modeled           float64
	Observed          float64
	RMSE              float64
	MAE               float64
}

func (e PointError) Params() models.Parameters {
	return models.Parameters{Transmittivity: e.Transmittivity, DiffuseProportion: e.DiffuseProportion}
}

// Surface is the full error table of a calibration, rows in grid order.
type Surface struct {
	Rows []PointError
}

// Score is the station-averaged error of one grid point.
type Score struct {
	Params   models.Parameters
	RMSE     float64
	MAE      float64
	Stations int
}

func (s Score) Value(metric string) float64 {
	if metric == MetricMAE {
		return s.MAE
	}
	return s.RMSE
}

// Scores collapses the surface to one score per grid point, in the order the
// grid points first appear. Each station counts once per grid point.
func (s *Surface) Scores() []Score {
	type acc struct {
		rmse, mae float64
		stations  map[string]bool
	}
	var order []models.Parameters
	byParams := make(map[models.Parameters]*acc)
	for _, r := range s.Rows {
		p := r.Params()
		a, ok := byParams[p]
		if !ok {
			a = &acc{stations: make(map[string]bool)}
			byParams[p] = a
			order = append(order, p)
		}
		if a.stations[r.StationID] {
			continue
		}
		a.stations[r.StationID] = true
		a.rmse += r.RMSE
		a.mae += r.MAE
	}

	scores := make([]Score, len(order))
	for i, p := range order {
		a := byParams[p]
		n := float64(len(a.stations))
		scores[i] = Score{Params: p, RMSE: a.rmse / n, MAE: a.mae / n, Stations: len(a.stations)}
	}
	return scores
}

// Line is the modeled and observed monthly series of one station.
type Line struct {
	StationID string
	Modeled   models.Series
	Observed  models.Series
}

// Lines returns the per-station modeled and observed series for p, ordered by
// station id.
func (s *Surface) Lines(p models.Parameters) []Line {
	byStation := make(map[string]*Line)
	var ids []string
	for _, r := range s.Rows {
		if r.Params() != p || math.IsNaN(r.Modeled) {
			continue
		}
		l, ok := byStation[r.StationID]
		if !ok {
			l = &Line{StationID: r.StationID}
			byStation[r.StationID] = l
			ids = append(ids, r.StationID)
		}
		l.Modeled = append(l.Modeled, models.Sample{Date: r.Month, Value: r.Modeled})
		l.Observed = append(l.Observed, models.Sample{Date: r.Month, Value: r.Observed})
	}
	sort.Strings(ids)
	lines := make([]Line, len(ids))
	for i, id := range ids {
		lines[i] = *byStation[id]
		lines[i].Modeled = lines[i].Modeled.Sorted()
		lines[i].Observed = lines[i].Observed.Sorted()
	}
	return lines
}

// Select returns the grid point with the lowest metric. Scores are sorted
// ascending with a stable sort, so on ties the grid point that comes first
// in grid order wins. NaN sorts last.
func Select(scores []Score, metric string) (Score, error) {
	if metric != MetricRMSE && metric != MetricMAE {
		return Score{}, fmt.Errorf("%w: unknown metric %q", models.ErrConfiguration, metric)
	}
	if len(scores) == 0 {
		return Score{}, fmt.Errorf("%w: error surface is empty", models.ErrCalibration)
	}

	sorted := make([]Score, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Value(metric), sorted[j].Value(metric)
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		return a < b
	})

	best := sorted[0]
	if v := best.Value(metric); math.IsNaN(v) || math.IsInf(v, 0) {
		return Score{}, fmt.Errorf("%w: no valid grid points", models.ErrCalibration)
	}
	return best, nil
}

// stationErrors computes RMSE and MAE between equal-length series.
func stationErrors(modeled, observed []float64) (rmse, mae float64) {
	n := float64(len(modeled))
	rmse = floats.Distance(modeled, observed, 2) / math.Sqrt(n)
	mae = floats.Distance(modeled, observed, 1) / n
	return rmse, mae
}

// scoreStations matches modeled monthly totals against the climatology by
// station and calendar month. Every requested station must be modeled for
// every month it has a climatology value, so that all grid points are
// scored on the same station-months.
func scoreStations(p models.Parameters, stations []string, modeled map[string]models.Series, clim *models.Climatology) ([]PointError, error) {
	var rows []PointError
	var missing []string
	for _, station := range stations {
		byMonth := make(map[time.Month]float64)
		for _, m := range modeled[station] {
			byMonth[m.Date.Month()] = m.Value
		}

		var months []time.Time
		var mod, obs []float64
		for month := time.January; month <= time.December; month++ {
			o, ok := clim.Get(station, month)
			if !ok {
				continue
			}
			v, ok := byMonth[month]
			if !ok {
				missing = append(missing, station+"/"+month.String()[:3])
				continue
			}
			months = append(months, models.MonthStart(models.ReferenceYear, month))
			mod = append(mod, v)
			obs = append(obs, o)
		}
		if len(mod) == 0 {
			continue
		}
		rmse, mae := stationErrors(mod, obs)
		for i := range mod {
			rows = append(rows, PointError{
				StationID:         station,
				Month:             months[i],
				Transmittivity:    p.Transmittivity,
				DiffuseProportion: p.DiffuseProportion,
				Modeled:           mod[i],
				Observed:          obs[i],
				RMSE:              rmse,
				MAE:               mae,
			})
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", errIncompleteOutput, strings.Join(missing, ", "))
	}
	return rows, nil
}

// invalidRows marks an out-of-bounds grid point with infinite error so it
// can never be selected.
func invalidRows(p models.Parameters, stations []string, clim *models.Climatology) []PointError {
	var rows []PointError
	for _, station := range stations {
		for month := time.January; month <= time.December; month++ {
			o, ok := clim.Get(station, month)
			if !ok {
				continue
			}
			rows = append(rows, PointError{
				StationID:         station,
				Month:             models.MonthStart(models.ReferenceYear, month),
				Transmittivity:    p.Transmittivity,
				DiffuseProportion: p.DiffuseProportion,
				Modeled:           math.NaN(),
				Observed:          o,
				RMSE:              math.Inf(1),
				MAE:               math.Inf(1),
			})
		}
	}
	return rows
}

package calibrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lox/pvyield/internal/metrics"
	"github.com/lox/pvyield/internal/models"
	"github.com/lox/pvyield/internal/terrain"
)

// Station geometry used for every calibration call: a horizontal sensor
// 2 m above the surface.
var stationGeometry = models.Geometry{Offset: 2, Slope: 0, Aspect: 180}

const stationIDField = "st_id"

type Options struct {
	Surface   string
	CRS       int
	Step      float64
	Metric    string
	Workers   int
	OptimFile string // when set, the surface is loaded instead of computed
	Grid      Grid   // overrides NewGrid(Step) when non-empty
	Out       string // when set, a computed surface is written here
}

// Result is the outcome of a calibration.
type Result struct {
	Best     Score
	Metric   string
	Surface  *Surface
	Excluded []models.Parameters
	Source   string // "fresh" or the path a cached surface was read from
}

// Params returns the selected coefficients.
func (r *Result) Params() models.Parameters {
	return r.Best.Params
}

// Lines returns the modeled and observed series at the optimum.
func (r *Result) Lines() []Line {
	return r.Surface.Lines(r.Best.Params)
}

// Calibrator produces the optimal coefficients for a run.
type Calibrator interface {
	Calibrate(ctx context.Context) (*Result, error)
}

// Observations supplies the climatology and station locations a fresh
// calibration scores against.
type Observations func(ctx context.Context) (*models.Climatology, []models.Station, error)

// New picks the strategy: a cached surface when OptimFile is set, otherwise
// a fresh grid search.
func New(opts Options, model terrain.Model, obs Observations, logger *zap.Logger) Calibrator {
	if opts.Metric == "" {
		opts.Metric = MetricRMSE
	}
	if opts.OptimFile != "" {
		return &Cached{Path: opts.OptimFile, Metric: opts.Metric, logger: logger.Named("calibrate")}
	}
	return &Fresh{opts: opts, model: model, observations: obs, logger: logger.Named("calibrate")}
}

// Fresh sweeps the coefficient grid against the terrain model.
type Fresh struct {
	opts         Options
	model        terrain.Model
	observations Observations
	logger       *zap.Logger
}

func (f *Fresh) Calibrate(ctx context.Context) (*Result, error) {
	clim, stations, err := f.observations(ctx)
	if err != nil {
		return nil, err
	}
	if clim.Len() == 0 {
		return nil, fmt.Errorf("%w: climatology is empty", models.ErrCalibration)
	}
	points, unplaced := stationPoints(stations, clim)
	if len(unplaced) > 0 {
		f.logger.Warn("observed stations without coordinates skipped",
			zap.Strings("stations", unplaced))
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no station coordinates match the observed stations", models.ErrCalibration)
	}

	grid := f.opts.Grid
	if len(grid) == 0 {
		grid = NewGrid(f.opts.Step)
	}
	workers := f.opts.Workers
	if workers < 1 {
		workers = 1
	}
	f.logger.Info("calibration started",
		zap.Int("grid_points", len(grid)),
		zap.Int("stations", len(points)),
		zap.Int("workers", workers),
		zap.String("metric", f.opts.Metric))

	start := time.Now()
	results := make([][]PointError, len(grid))
	failed := make([]error, len(grid))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range grid {
		g.Go(func() error {
			rows, err := f.scorePoint(gctx, p, points, clim)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed[i] = err
				return nil
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("calibration interrupted: %w", err)
	}

	surface := &Surface{}
	var excluded []models.Parameters
	for i, p := range grid {
		if failed[i] != nil {
			f.logger.Warn("grid point excluded",
				zap.Float64("transmittivity", p.Transmittivity),
				zap.Float64("diffuse_proportion", p.DiffuseProportion),
				zap.Error(failed[i]))
			metrics.GridPointsTotal.WithLabelValues("excluded").Inc()
			excluded = append(excluded, p)
			continue
		}
		metrics.GridPointsTotal.WithLabelValues("scored").Inc()
		surface.Rows = append(surface.Rows, results[i]...)
	}

	best, err := Select(surface.Scores(), f.opts.Metric)
	if err != nil {
		return nil, fmt.Errorf("%d of %d grid points excluded: %w", len(excluded), len(grid), err)
	}
	metrics.BestError.WithLabelValues(f.opts.Metric).Set(best.Value(f.opts.Metric))

	if f.opts.Out != "" {
		if err := WriteCSV(f.opts.Out, surface); err != nil {
			return nil, err
		}
		f.logger.Info("error surface written", zap.String("path", f.opts.Out), zap.Int("rows", len(surface.Rows)))
	}

	f.logger.Info("calibration finished",
		zap.Float64("transmittivity", best.Params.Transmittivity),
		zap.Float64("diffuse_proportion", best.Params.DiffuseProportion),
		zap.Float64("rmse", best.RMSE),
		zap.Float64("mae", best.MAE),
		zap.Int("excluded", len(excluded)),
		zap.Duration("took", time.Since(start)))

	return &Result{Best: best, Metric: f.opts.Metric, Surface: surface, Excluded: excluded, Source: "fresh"}, nil
}

var (
	errNoMatch          = errors.New("model output matched no observed station-month")
	errIncompleteOutput = errors.New("model output is missing observed station-months")
)

func (f *Fresh) scorePoint(ctx context.Context, p models.Parameters, points []models.Point, clim *models.Climatology) ([]PointError, error) {
	ids := make([]string, len(points))
	for i, pt := range points {
		ids[i] = pt.ID
	}
	if !p.Valid() {
		return invalidRows(p, ids, clim), nil
	}

	samples, err := f.model.Compute(ctx, terrain.Request{
		Surface:       f.opts.Surface,
		CRS:           f.opts.CRS,
		Points:        points,
		Geometry:      stationGeometry,
		Start:         models.MonthStart(models.ReferenceYear, time.January),
		End:           time.Date(models.ReferenceYear, time.December, 31, 0, 0, 0, 0, time.UTC),
		Interval:      terrain.Interval{Unit: "DAY", Count: 1},
		Params:        p,
		UniqueIDField: stationIDField,
		Purpose:       "calibration",
	})
	if err != nil {
		return nil, err
	}

	rows, err := scoreStations(p, ids, terrain.MonthlyTotals(samples), clim)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNoMatch
	}
	return rows, nil
}

// stationPoints keeps the stations that have climatology, as model points.
// Observed stations with no coordinates are returned as unplaced.
func stationPoints(stations []models.Station, clim *models.Climatology) (points []models.Point, unplaced []string) {
	located := make(map[string]models.Station, len(stations))
	for _, s := range stations {
		located[s.StationID] = s
	}
	for _, id := range clim.Stations() {
		s, ok := located[id]
		if !ok {
			unplaced = append(unplaced, id)
			continue
		}
		points = append(points, models.Point{ID: s.StationID, X: s.X, Y: s.Y})
	}
	return points, unplaced
}

// Cached reuses a surface persisted by an earlier calibration.
type Cached struct {
	Path   string
	Metric string
	logger *zap.Logger
}

func (c *Cached) Calibrate(ctx context.Context) (*Result, error) {
	surface, err := ReadCSV(c.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: no usable calibration: %w", models.ErrCalibration, err)
	}
	best, err := Select(surface.Scores(), c.Metric)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Path, err)
	}
	metrics.BestError.WithLabelValues(c.Metric).Set(best.Value(c.Metric))

	c.logger.Info("calibration loaded",
		zap.String("path", c.Path),
		zap.Float64("transmittivity", best.Params.Transmittivity),
		zap.Float64("diffuse_proportion", best.Params.DiffuseProportion),
		zap.Float64(c.Metric, best.Value(c.Metric)))
	return &Result{Best: best, Metric: c.Metric, Surface: surface, Source: c.Path}, nil
}

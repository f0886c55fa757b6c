// Package workflow wires the loaders, calibrator, converter and report
// together for the CLI commands.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lox/pvyield/internal/calibrate"
	"github.com/lox/pvyield/internal/config"
	"github.com/lox/pvyield/internal/ingest"
	"github.com/lox/pvyield/internal/models"
	"github.com/lox/pvyield/internal/report"
	"github.com/lox/pvyield/internal/store"
	"github.com/lox/pvyield/internal/terrain"
)

// Narrator writes the optional summary paragraph of a report.
type Narrator interface {
	Summarize(ctx context.Context, data *report.Data) (string, error)
}

type Runner struct {
	cfg      *config.Config
	model    terrain.Model
	store    *store.Store
	narrator Narrator
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Runner)

// WithModel replaces the configured terrain backend.
func WithModel(m terrain.Model) Option {
	return func(r *Runner) { r.model = m }
}

func WithStore(s *store.Store) Option {
	return func(r *Runner) { r.store = s }
}

func WithNarrator(n Narrator) Option {
	return func(r *Runner) { r.narrator = n }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New builds a runner. Unless WithModel is given, the terrain backend comes
// from the config; either way it is wrapped in a Guard.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Runner, error) {
	r := &Runner{cfg: cfg, logger: logger.Named("workflow"), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}

	if r.model == nil {
		switch {
		case cfg.Terrain.Endpoint != "":
			r.model = terrain.NewHTTPModel(cfg.Terrain.Endpoint, cfg.Terrain.Token, logger)
		case cfg.Terrain.Table != "":
			table, err := terrain.LoadTableModel(cfg.Terrain.Table, logger)
			if err != nil {
				return nil, err
			}
			r.model = table
		default:
			return nil, fmt.Errorf("%w: no terrain backend configured", models.ErrConfiguration)
		}
	}
	r.model = terrain.NewGuard(r.model, terrain.GuardOptions{
		Timeout:    cfg.Optimization.Timeout,
		MaxElapsed: cfg.Optimization.MaxElapsed,
	}, logger)
	return r, nil
}

// Climatology loads the station observations and builds the climatology,
// saving it to the store when one is configured.
func (r *Runner) Climatology(ctx context.Context) (*models.Climatology, []models.Station, error) {
	o := r.cfg.Optimization
	stations, err := ingest.LoadStations(o.Stations)
	if err != nil {
		return nil, nil, err
	}

	ws, err := terrain.NewWorkspace("pvyield-obs", r.logger)
	if err != nil {
		return nil, nil, err
	}
	defer ws.Close()

	var files []string
	if ingest.IsRemote(o.ObservationDir) {
		src, err := ingest.NewFTPSource(o.ObservationDir, r.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: optimization.observation_dir: %v", models.ErrConfiguration, err)
		}
		dir, err := ws.Subdir("observations")
		if err != nil {
			return nil, nil, err
		}
		if files, err = src.Fetch(ctx, dir); err != nil {
			if clim := r.storedClimatology(); clim != nil {
				r.logger.Warn("observation archive unreachable, using stored climatology",
					zap.String("source", o.ObservationDir),
					zap.Int("entries", clim.Len()),
					zap.Error(err))
				return clim, stations, nil
			}
			return nil, nil, fmt.Errorf("%w: %v", models.ErrDataQuality, err)
		}
	} else if files, err = ingest.StationFiles(o.ObservationDir); err != nil {
		return nil, nil, err
	}

	clim, err := ingest.NewLoader(o.ValueColumn, r.logger).LoadClimatology(files)
	if err != nil {
		return nil, nil, err
	}

	if r.store != nil {
		if err := r.store.SaveClimatology(clim); err != nil {
			r.logger.Warn("failed to save climatology", zap.Error(err))
		}
	}
	return clim, stations, nil
}

// storedClimatology returns the climatology saved by an earlier run, or nil
// when there is none.
func (r *Runner) storedClimatology() *models.Climatology {
	if r.store == nil {
		return nil
	}
	clim, err := r.store.GetClimatology()
	if err != nil {
		r.logger.Warn("failed to read stored climatology", zap.Error(err))
		return nil
	}
	if clim.Len() == 0 {
		return nil
	}
	return clim
}

// calibration is a resolved coefficient pair and where it came from.
type calibration struct {
	params models.Parameters
	result *calibrate.Result // nil when the pair did not come from a surface
	runID  string
	source string
}

func (r *Runner) calibrator() calibrate.Calibrator {
	o := r.cfg.Optimization
	return calibrate.New(calibrate.Options{
		Surface:   r.cfg.DEM,
		CRS:       r.cfg.CRS,
		Step:      o.Step,
		Metric:    o.Metric,
		Workers:   o.Workers,
		OptimFile: o.OptimFile,
		Out:       o.Out,
	}, r.model, r.Climatology, r.logger)
}

// Calibrate runs the configured strategy and stores a fresh result.
func (r *Runner) Calibrate(ctx context.Context) (*calibrate.Result, error) {
	res, err := r.calibrator().Calibrate(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info("calibration complete",
		zap.String("source", res.Source),
		zap.Float64("transmittivity", res.Best.Params.Transmittivity),
		zap.Float64("diffuse_proportion", res.Best.Params.DiffuseProportion),
		zap.Float64("rmse", res.Best.RMSE),
		zap.Float64("mae", res.Best.MAE),
		zap.Int("excluded", len(res.Excluded)))
	return res, nil
}

func (r *Runner) save(res *calibrate.Result) string {
	if r.store == nil || r.cfg.Optimization.OptimFile != "" {
		return ""
	}
	id, err := r.store.SaveCalibration(res, r.cfg.Optimization.Step)
	if err != nil {
		r.logger.Warn("failed to save calibration", zap.Error(err))
		return ""
	}
	return id
}

// resolve picks the coefficients for a production run: an in-process result,
// the cached surface, the latest stored run, or the configured pair when
// explicitly allowed. Anything else is a CalibrationError.
func (r *Runner) resolve(ctx context.Context, res *calibrate.Result) (*calibration, error) {
	if res != nil {
		return &calibration{params: res.Params(), result: res, runID: r.save(res), source: res.Source}, nil
	}
	if r.cfg.Optimization.OptimFile != "" {
		res, err := r.Calibrate(ctx)
		if err != nil {
			return nil, err
		}
		return &calibration{params: res.Params(), result: res, source: res.Source}, nil
	}
	if r.store != nil {
		run, err := r.store.LatestCalibration()
		if err != nil {
			return nil, fmt.Errorf("load latest calibration: %w", err)
		}
		if run != nil {
			cal := &calibration{params: run.Params, runID: run.ID, source: "store " + run.ID}
			if surface, err := r.store.ErrorSurface(run.ID); err == nil && len(surface.Rows) > 0 {
				cal.result = &calibrate.Result{
					Best:    calibrate.Score{Params: run.Params, RMSE: run.RMSE, MAE: run.MAE, Stations: run.Stations},
					Metric:  run.Metric,
					Surface: surface,
					Source:  cal.source,
				}
			}
			r.logger.Info("using stored calibration", zap.String("id", run.ID), zap.Time("created_at", run.CreatedAt))
			return cal, nil
		}
	}
	if r.cfg.Radiation.UseConfigured {
		return &calibration{
			params: models.Parameters{
				Transmittivity:    r.cfg.Radiation.Transmittivity,
				DiffuseProportion: r.cfg.Radiation.DiffuseProportion,
			},
			source: "configured",
		}, nil
	}
	return nil, fmt.Errorf("%w: no calibration available; run calibrate first, set optimization.optim_file or radiation.use_configured",
		models.ErrCalibration)
}

// Run calibrates (unless configured coefficients are requested) and writes
// the report.
func (r *Runner) Run(ctx context.Context) (report.Output, error) {
	var res *calibrate.Result
	if !r.cfg.Radiation.UseConfigured {
		var err error
		if res, err = r.Calibrate(ctx); err != nil {
			return report.Output{}, err
		}
	}
	return r.Report(ctx, res)
}

func (r *Runner) interval() terrain.Interval {
	return terrain.Interval{Unit: strings.ToUpper(r.cfg.Radiation.IntervalUnit), Count: r.cfg.Radiation.Interval}
}

// window is the production time window. Validate has already checked both
// dates.
func (r *Runner) window() (time.Time, time.Time) {
	start, _ := r.cfg.Radiation.StartTime()
	end, _ := r.cfg.Radiation.EndTime()
	return start, end
}

// panelRadiation asks the model for one panel orientation and returns its
// monthly radiation totals at the report location.
func (r *Runner) panelRadiation(ctx context.Context, panel models.PanelConfiguration, params models.Parameters) (models.Series, error) {
	start, end := r.window()
	point := r.cfg.Point()
	interval := r.interval()
	samples, err := r.model.Compute(ctx, terrain.Request{
		Surface:       r.cfg.DEM,
		CRS:           r.cfg.CRS,
		Points:        []models.Point{point},
		Geometry:      panel.Geometry,
		Start:         start,
		End:           end,
		Interval:      interval,
		Params:        params,
		UniqueIDField: r.cfg.Radiation.UniqueIDField,
		DiffuseModel:  r.cfg.Radiation.DiffuseModelType,
		TimeZone:      r.cfg.Radiation.TimeZone,
		Purpose:       "production",
	})
	if err != nil {
		return nil, fmt.Errorf("panel %s: %w", panel.Name, err)
	}

	if interval.Unit == "WEEK" {
		return terrain.SpreadPeriods(samples, interval.Days(), start, end), nil
	}
	monthly, ok := terrain.MonthlyTotals(samples)[point.ID]
	if !ok {
		return nil, fmt.Errorf("%w: panel %s: no output for point %s", models.ErrModelInvocation, panel.Name, point.ID)
	}
	return monthly, nil
}

// loadConsumption returns nil when no consumption is configured or the file
// is missing. Malformed data is still fatal.
func (r *Runner) loadConsumption() (models.Series, []string, error) {
	path := r.cfg.Consumption.File
	if path == "" {
		return nil, nil, nil
	}
	series, err := ingest.LoadConsumption(path)
	if err != nil {
		if errors.Is(err, models.ErrDataQuality) || errors.Is(err, models.ErrConfiguration) {
			return nil, nil, err
		}
		r.logger.Warn("consumption unavailable, reporting production only", zap.String("path", path), zap.Error(err))
		return nil, []string{fmt.Sprintf("Consumption file %s could not be read; consumption metrics are omitted.", path)}, nil
	}
	return series, nil, nil
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

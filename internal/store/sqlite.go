// Package store keeps calibration runs, climatologies and report history in
// SQLite so later runs can reuse them.
package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/pvyield/internal/calibrate"
	"github.com/lox/pvyield/internal/models"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("store")}
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA foreign_keys=ON")

	s := New(db, logger)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CalibrationRun is a persisted calibration outcome.
type CalibrationRun struct {
	ID        string
	CreatedAt time.Time
	Source    string
	Metric    string
	Step      float64
	Params    models.Parameters
	RMSE      float64
	MAE       float64
	Stations  int
	Excluded  int
}

// nullable maps NaN to NULL; SQLite cannot hold it.
func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// SaveCalibration stores a calibration result and its error surface in one
// transaction and returns the new run id.
func (s *Store) SaveCalibration(res *calibrate.Result, step float64) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO calibration_runs (id, created_at, source, metric, step, transmittivity, diffuse_proportion, rmse, mae, stations, excluded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, now, res.Source, res.Metric, step,
		res.Best.Params.Transmittivity, res.Best.Params.DiffuseProportion,
		nullable(res.Best.RMSE), nullable(res.Best.MAE), res.Best.Stations, len(res.Excluded)); err != nil {
		return "", fmt.Errorf("insert calibration run: %w", err)
	}

	if res.Surface != nil {
		stmt, err := tx.Prepare(`
			INSERT INTO error_surface (run_id, seq, station_id, month, transmittivity, diffuse_proportion, modeled, observed, rmse, mae)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return "", fmt.Errorf("prepare surface insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range res.Surface.Rows {
			if _, err := stmt.Exec(id, i, r.StationID, r.Month.Format("2006-01-02"), r.Transmittivity, r.DiffuseProportion,
				nullable(r.Modeled), nullable(r.Observed), nullable(r.RMSE), nullable(r.MAE)); err != nil {
				return "", fmt.Errorf("insert surface row %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit calibration: %w", err)
	}
	s.logger.Info("calibration saved", zap.String("id", id), zap.Int("surface_rows", surfaceLen(res.Surface)))
	return id, nil
}

func surfaceLen(s *calibrate.Surface) int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// LatestCalibration returns the most recent run, or nil when none exists.
func (s *Store) LatestCalibration() (*CalibrationRun, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, source, metric, step, transmittivity, diffuse_proportion, rmse, mae, stations, excluded
		FROM calibration_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *Store) ListCalibrations(limit int) ([]CalibrationRun, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, source, metric, step, transmittivity, diffuse_proportion, rmse, mae, stations, excluded
		FROM calibration_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []CalibrationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*CalibrationRun, error) {
	var (
		run       CalibrationRun
		step      sql.NullFloat64
		rmse, mae sql.NullFloat64
	)
	if err := row.Scan(&run.ID, &run.CreatedAt, &run.Source, &run.Metric, &step,
		&run.Params.Transmittivity, &run.Params.DiffuseProportion, &rmse, &mae, &run.Stations, &run.Excluded); err != nil {
		return nil, err
	}
	run.Step = step.Float64
	run.RMSE = fromNullable(rmse)
	run.MAE = fromNullable(mae)
	return &run, nil
}

// ErrorSurface loads the surface of a stored run in its original row order.
func (s *Store) ErrorSurface(runID string) (*calibrate.Surface, error) {
	rows, err := s.db.Query(`
		SELECT station_id, month, transmittivity, diffuse_proportion, modeled, observed, rmse, mae
		FROM error_surface
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	surface := &calibrate.Surface{}
	for rows.Next() {
		var (
			r                            calibrate.PointError
			month                        string
			modeled, observed, rmse, mae sql.NullFloat64
		)
		if err := rows.Scan(&r.StationID, &month, &r.Transmittivity, &r.DiffuseProportion, &modeled, &observed, &rmse, &mae); err != nil {
			return nil, err
		}
		if r.Month, err = time.Parse("2006-01-02", month[:min(len(month), 10)]); err != nil {
			return nil, fmt.Errorf("parse month %q: %w", month, err)
		}
		r.Modeled = fromNullable(modeled)
		r.Observed = fromNullable(observed)
		r.RMSE = fromNullable(rmse)
		r.MAE = fromNullable(mae)
		surface.Rows = append(surface.Rows, r)
	}
	return surface, rows.Err()
}

// SaveClimatology replaces the stored climatology.
func (s *Store) SaveClimatology(clim *models.Climatology) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM climatology`); err != nil {
		return fmt.Errorf("clear climatology: %w", err)
	}
	now := time.Now().UTC()
	for _, e := range clim.Entries() {
		if _, err := tx.Exec(`INSERT INTO climatology (station_id, month, value, loaded_at) VALUES (?, ?, ?, ?)`,
			e.StationID, int(e.Date.Month()), e.Value, now); err != nil {
			return fmt.Errorf("insert climatology %s/%d: %w", e.StationID, e.Date.Month(), err)
		}
	}
	return tx.Commit()
}

// GetClimatology returns the stored climatology, empty when none was saved.
func (s *Store) GetClimatology() (*models.Climatology, error) {
	rows, err := s.db.Query(`SELECT station_id, month, value FROM climatology`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clim := models.NewClimatology()
	for rows.Next() {
		var (
			station string
			month   int
			value   float64
		)
		if err := rows.Scan(&station, &month, &value); err != nil {
			return nil, err
		}
		clim.Set(station, time.Month(month), value)
	}
	return clim, rows.Err()
}

// ReportRecord is one generated report.
type ReportRecord struct {
	ID                string
	CreatedAt         time.Time
	CalibrationID     string
	HTMLPath          string
	TextPath          string
	AreaM2            float64
	AnnualProduction  float64
	AnnualConsumption sql.NullFloat64
	Params            models.Parameters
}

func (s *Store) SaveReport(r ReportRecord) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO reports (id, created_at, calibration_id, html_path, text_path, area_m2, annual_production, annual_consumption, transmittivity, diffuse_proportion)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.CreatedAt.UTC(), sql.NullString{String: r.CalibrationID, Valid: r.CalibrationID != ""},
		r.HTMLPath, sql.NullString{String: r.TextPath, Valid: r.TextPath != ""},
		r.AreaM2, r.AnnualProduction, r.AnnualConsumption, r.Params.Transmittivity, r.Params.DiffuseProportion)
	if err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}
	return r.ID, nil
}

// ListReports returns the most recent reports, newest first.
func (s *Store) ListReports(limit int) ([]ReportRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, calibration_id, html_path, text_path, area_m2, annual_production, annual_consumption, transmittivity, diffuse_proportion
		FROM reports
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []ReportRecord
	for rows.Next() {
		var (
			r                ReportRecord
			calID, textPath  sql.NullString
			area, production sql.NullFloat64
			trans, diffuse   sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.CreatedAt, &calID, &r.HTMLPath, &textPath, &area, &production,
			&r.AnnualConsumption, &trans, &diffuse); err != nil {
			return nil, err
		}
		r.CalibrationID = calID.String
		r.TextPath = textPath.String
		r.AreaM2 = area.Float64
		r.AnnualProduction = production.Float64
		r.Params = models.Parameters{Transmittivity: trans.Float64, DiffuseProportion: diffuse.Float64}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

package store

import (
	"database/sql"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/pvyield/internal/calibrate"
	"github.com/lox/pvyield/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, zap.NewNop())
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}
}

func testResult() *calibrate.Result {
	jan := models.MonthStart(models.ReferenceYear, time.January)
	feb := models.MonthStart(models.ReferenceYear, time.February)
	return &calibrate.Result{
		Best: calibrate.Score{
			Params:   models.Parameters{Transmittivity: 0.6, DiffuseProportion: 0.2},
			RMSE:     4.5,
			MAE:      3.25,
			Stations: 2,
		},
		Metric: calibrate.MetricRMSE,
		Source: "fresh",
		Surface: &calibrate.Surface{Rows: []calibrate.PointError{
			{StationID: "st2", Month: jan, Transmittivity: 0.6, DiffuseProportion: 0.2, Modeled: 50, Observed: 52, RMSE: 4.5, MAE: 3.25},
			{StationID: "st1", Month: feb, Transmittivity: 0.6, DiffuseProportion: 0.2, Modeled: 70, Observed: 66, RMSE: 4.5, MAE: 3.25},
			{StationID: "st1", Month: jan, Transmittivity: 0.3, DiffuseProportion: 0.1, Modeled: math.NaN(), Observed: 52, RMSE: math.Inf(1), MAE: math.Inf(1)},
		}},
		Excluded: []models.Parameters{{Transmittivity: 0.8, DiffuseProportion: 0.6}},
	}
}

func TestSaveAndLoadCalibration(t *testing.T) {
	store := setupTestStore(t)

	latest, err := store.LatestCalibration()
	if err != nil {
		t.Fatalf("LatestCalibration on empty store: %v", err)
	}
	if latest != nil {
		t.Fatalf("LatestCalibration = %+v, want nil", latest)
	}

	id, err := store.SaveCalibration(testResult(), 0.1)
	if err != nil {
		t.Fatalf("SaveCalibration: %v", err)
	}

	latest, err = store.LatestCalibration()
	if err != nil {
		t.Fatalf("LatestCalibration: %v", err)
	}
	if latest == nil || latest.ID != id {
		t.Fatalf("LatestCalibration = %+v, want id %s", latest, id)
	}
	if latest.Params != (models.Parameters{Transmittivity: 0.6, DiffuseProportion: 0.2}) {
		t.Errorf("Params = %+v", latest.Params)
	}
	if latest.RMSE != 4.5 || latest.MAE != 3.25 || latest.Stations != 2 || latest.Excluded != 1 {
		t.Errorf("run = %+v", latest)
	}
	if latest.Step != 0.1 || latest.Metric != "rmse" || latest.Source != "fresh" {
		t.Errorf("run metadata = %+v", latest)
	}

	surface, err := store.ErrorSurface(id)
	if err != nil {
		t.Fatalf("ErrorSurface: %v", err)
	}
	if len(surface.Rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(surface.Rows))
	}
	if surface.Rows[0].StationID != "st2" || surface.Rows[1].Month.Month() != time.February {
		t.Errorf("rows out of order: %+v", surface.Rows[:2])
	}
	bad := surface.Rows[2]
	if !math.IsNaN(bad.Modeled) {
		t.Errorf("Modeled = %v, want NaN", bad.Modeled)
	}
	if !math.IsInf(bad.RMSE, 1) {
		t.Errorf("RMSE = %v, want +Inf", bad.RMSE)
	}

	// The restored surface selects the same optimum.
	best, err := calibrate.Select(surface.Scores(), calibrate.MetricRMSE)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if best.Params != latest.Params {
		t.Errorf("best = %+v, want %+v", best.Params, latest.Params)
	}
}

func TestLatestCalibration_Newest(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.SaveCalibration(testResult(), 0.1); err != nil {
		t.Fatal(err)
	}
	second := testResult()
	second.Best.Params = models.Parameters{Transmittivity: 0.7, DiffuseProportion: 0.3}
	id, err := store.SaveCalibration(second, 0.05)
	if err != nil {
		t.Fatal(err)
	}

	latest, err := store.LatestCalibration()
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != id {
		t.Errorf("latest = %s, want %s", latest.ID, id)
	}

	runs, err := store.ListCalibrations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != id {
		t.Errorf("ListCalibrations = %+v", runs)
	}
}

func TestClimatologyRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	empty, err := store.GetClimatology()
	if err != nil {
		t.Fatal(err)
	}
	if empty.Len() != 0 {
		t.Errorf("empty store Len = %d", empty.Len())
	}

	clim := models.NewClimatology()
	clim.Set("st1", time.January, 31.5)
	clim.Set("st1", time.July, 180)
	clim.Set("st2", time.January, 29)
	if err := store.SaveClimatology(clim); err != nil {
		t.Fatalf("SaveClimatology: %v", err)
	}

	got, err := store.GetClimatology()
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 3 {
		t.Fatalf("Len = %d, want 3", got.Len())
	}
	if v, ok := got.Get("st1", time.July); !ok || v != 180 {
		t.Errorf("st1 July = %v, %v", v, ok)
	}

	replacement := models.NewClimatology()
	replacement.Set("st3", time.March, 90)
	if err := store.SaveClimatology(replacement); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetClimatology()
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 1 {
		t.Errorf("Len after replace = %d, want 1", got.Len())
	}
}

func TestReports(t *testing.T) {
	store := setupTestStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := ReportRecord{
		CreatedAt:        base,
		HTMLPath:         "data/results/report_20240501_120000.html",
		AreaM2:           20,
		AnnualProduction: 4000,
		Params:           models.Parameters{Transmittivity: 0.6, DiffuseProportion: 0.2},
	}
	second := ReportRecord{
		CreatedAt:         base.Add(time.Hour),
		CalibrationID:     "cal-1",
		HTMLPath:          "data/results/report_20240501_130000.html",
		TextPath:          "data/results/report_20240501_130000.txt",
		AreaM2:            25,
		AnnualProduction:  5000,
		AnnualConsumption: sql.NullFloat64{Float64: 4500, Valid: true},
	}
	for _, r := range []ReportRecord{first, second} {
		id, err := store.SaveReport(r)
		if err != nil {
			t.Fatalf("SaveReport: %v", err)
		}
		if id == "" {
			t.Error("SaveReport returned empty id")
		}
	}

	reports, err := store.ListReports(10)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("len = %d, want 2", len(reports))
	}
	if reports[0].AreaM2 != 25 || reports[0].TextPath == "" || reports[0].CalibrationID != "cal-1" {
		t.Errorf("newest = %+v", reports[0])
	}
	if !reports[0].AnnualConsumption.Valid || reports[0].AnnualConsumption.Float64 != 4500 {
		t.Errorf("consumption = %+v", reports[0].AnnualConsumption)
	}
	if reports[1].AnnualConsumption.Valid {
		t.Errorf("older report consumption should be NULL")
	}
	if !reports[1].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", reports[1].CreatedAt, base)
	}

	limited, err := store.ListReports(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}
}

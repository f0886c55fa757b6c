package calibrate

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/lox/pvyield/internal/models"
)

const monthLayout = "2006-01-02"

// surfaceRow is the flat on-disk form of a PointError. Floats are kept as
// text so that the shortest round-trip representation (including +Inf and
// NaN) survives a write and read.
type surfaceRow struct {
	StationID         string `csv:"station_id"`
	Month             string `csv:"month"`
	Transmittivity    string `csv:"transmittivity"`
	DiffuseProportion string `csv:"diffuse_proportion"`
	Modeled           string `csv:"modeled"`
	Observed          string `csv:"observed"`
	RMSE              string `csv:"rmse"`
	MAE               string `csv:"mae"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV persists the surface, creating parent directories as needed.
func WriteCSV(path string, s *Surface) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	rows := make([]surfaceRow, len(s.Rows))
	for i, r := range s.Rows {
		rows[i] = surfaceRow{
			StationID:         r.StationID,
			Month:             r.Month.Format(monthLayout),
			Transmittivity:    formatFloat(r.Transmittivity),
			DiffuseProportion: formatFloat(r.DiffuseProportion),
			Modeled:           formatFloat(r.Modeled),
			Observed:          formatFloat(r.Observed),
			RMSE:              formatFloat(r.RMSE),
			MAE:               formatFloat(r.MAE),
		}
	}

	// Write beside the target and rename so a failed write never leaves a
	// truncated surface at path.
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	tmp := f.Name()
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ReadCSV loads a surface written by WriteCSV.
func ReadCSV(path string) (*Surface, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var rows []surfaceRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrDataQuality, path, err)
	}

	s := &Surface{Rows: make([]PointError, 0, len(rows))}
	for i, r := range rows {
		pe, err := r.decode()
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: %v", models.ErrDataQuality, path, i+2, err)
		}
		s.Rows = append(s.Rows, pe)
	}
	return s, nil
}

func (r surfaceRow) decode() (PointError, error) {
	month, err := time.Parse(monthLayout, r.Month)
	if err != nil {
		return PointError{}, fmt.Errorf("bad month %q", r.Month)
	}
	pe := PointError{StationID: r.StationID, Month: month}
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"transmittivity", r.Transmittivity, &pe.Transmittivity},
		{"diffuse_proportion", r.DiffuseProportion, &pe.DiffuseProportion},
		{"modeled", r.Modeled, &pe.Modeled},
		{"observed", r.Observed, &pe.Observed},
		{"rmse", r.RMSE, &pe.RMSE},
		{"mae", r.MAE, &pe.MAE},
	}
	for _, fd := range fields {
		v, err := strconv.ParseFloat(fd.raw, 64)
		if err != nil {
			return PointError{}, fmt.Errorf("%s %q is not a number", fd.name, fd.raw)
		}
		*fd.dst = v
	}
	return pe, nil
}

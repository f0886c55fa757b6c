package ingest

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/lox/pvyield/internal/models"
)

const (
	// MaxGapDays is the longest run of missing days that is interpolated.
	MaxGapDays = 3
	// MinDaysPerMonth is the number of valid days a month needs to be kept.
	MinDaysPerMonth = 27

	dateColumn = "date"
	dateLayout = "2006-01-02"
)

// StationSeries is the daily record of one station, one entry per calendar
// day between the first and last date in the file.
type StationSeries struct {
	StationID string
	Days      []models.DailyValue
}

type Loader struct {
	valueColumn string
	logger      *zap.Logger
}

func NewLoader(valueColumn string, logger *zap.Logger) *Loader {
	if valueColumn == "" {
		valueColumn = "insol"
	}
	return &Loader{valueColumn: valueColumn, logger: logger.Named("ingest")}
}

// LoadStationFile reads one station CSV. The filename stem is the station id.
func (l *Loader) LoadStationFile(path string) (*StationSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open station file %s: %w", path, err)
	}
	defer f.Close()

	rows, err := gocsv.CSVToMaps(f)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrDataQuality, path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s has no rows", models.ErrDataQuality, path)
	}
	for _, col := range []string{dateColumn, l.valueColumn} {
		if _, ok := rows[0][col]; !ok {
			return nil, fmt.Errorf("%w: %s: missing column %q", models.ErrDataQuality, path, col)
		}
	}

	stationID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	raw := make([]models.DailyValue, 0, len(rows))
	for i, row := range rows {
		date, err := time.Parse(dateLayout, strings.TrimSpace(row[dateColumn]))
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: bad date %q", models.ErrDataQuality, path, i+2, row[dateColumn])
		}
		value, valid, err := parseValue(row[l.valueColumn])
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", models.ErrDataQuality, path, i+2, err)
		}
		raw = append(raw, models.DailyValue{Date: date, Value: value, Valid: valid})
	}

	if flags := ValidateDaily(raw); len(flags) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", models.ErrDataQuality, path, strings.Join(flags, ", "))
	}

	return &StationSeries{StationID: stationID, Days: fillCalendar(raw)}, nil
}

// parseValue treats empty cells and NaN as missing.
func parseValue(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "na") {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("value %q is not numeric", s)
	}
	if math.IsNaN(v) {
		return 0, false, nil
	}
	return v, true, nil
}

// fillCalendar sorts the rows and inserts missing days so that a date absent
// from the file counts as a missing value.
func fillCalendar(raw []models.DailyValue) []models.DailyValue {
	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Date.Before(raw[j].Date) })

	byDay := make(map[time.Time]models.DailyValue, len(raw))
	for _, d := range raw {
		day := models.Day(d.Date)
		byDay[day] = models.DailyValue{Date: day, Value: d.Value, Valid: d.Valid}
	}

	first, last := models.Day(raw[0].Date), models.Day(raw[len(raw)-1].Date)
	var days []models.DailyValue
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if d, ok := byDay[day]; ok {
			days = append(days, d)
		} else {
			days = append(days, models.DailyValue{Date: day})
		}
	}
	return days
}

// Interpolate fills runs of at most maxGap missing days by linear
// interpolation in time between the bracketing valid days. Longer runs, and
// runs at either end of the series, stay missing.
func Interpolate(days []models.DailyValue, maxGap int) []models.DailyValue {
	out := make([]models.DailyValue, len(days))
	copy(out, days)

	i := 0
	for i < len(out) {
		if out[i].Valid {
			i++
			continue
		}
		start := i
		for i < len(out) && !out[i].Valid {
			i++
		}
		end := i // first valid index after the run, or len(out)
		if start == 0 || end == len(out) || end-start > maxGap {
			continue
		}

		left, right := out[start-1], out[end]
		span := right.Date.Sub(left.Date).Hours()
		for j := start; j < end; j++ {
			frac := out[j].Date.Sub(left.Date).Hours() / span
			out[j].Value = left.Value + (right.Value-left.Value)*frac
			out[j].Valid = true
		}
	}
	return out
}

// MonthlyTotals sums valid days per calendar month. Months with fewer than
// minDays valid days are dropped.
func MonthlyTotals(days []models.DailyValue, minDays int) map[time.Time]float64 {
	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	for _, d := range days {
		month := models.MonthStart(d.Date.Year(), d.Date.Month())
		if _, ok := counts[month]; !ok {
			counts[month] = 0
		}
		if !d.Valid {
			continue
		}
		sums[month] += d.Value
		counts[month]++
	}

	out := make(map[time.Time]float64)
	for month, n := range counts {
		if n >= minDays {
			out[month] = sums[month]
		}
	}
	return out
}

// LoadClimatology builds the long-run monthly mean per station from the
// given station files.
func (l *Loader) LoadClimatology(files []string) (*models.Climatology, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no observation files supplied", models.ErrDataQuality)
	}

	clim := models.NewClimatology()
	for _, path := range files {
		series, err := l.LoadStationFile(path)
		if err != nil {
			return nil, err
		}
		filled := Interpolate(series.Days, MaxGapDays)
		totals := MonthlyTotals(filled, MinDaysPerMonth)

		sums := make(map[time.Month]float64)
		years := make(map[time.Month]int)
		for month, total := range totals {
			sums[month.Month()] += total
			years[month.Month()]++
		}
		for month, total := range sums {
			clim.Set(series.StationID, month, total/float64(years[month]))
		}

		l.logger.Debug("station climatology built",
			zap.String("station", series.StationID),
			zap.Int("days", len(series.Days)),
			zap.Int("months_kept", len(totals)),
			zap.Int("calendar_months", len(sums)))
	}

	l.logger.Info("climatology loaded",
		zap.Int("files", len(files)),
		zap.Int("stations", len(clim.Stations())),
		zap.Int("entries", clim.Len()))
	return clim, nil
}

// StationFiles lists the *.csv files in dir in lexical order.
func StationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

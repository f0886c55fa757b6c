package ingest

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"

	"github.com/lox/pvyield/internal/models"
)

const consumptionColumn = "consumption"

// Spreadsheet cells come back formatted by the workbook's number format, so
// several layouts are accepted.
var consumptionDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"01-02-06",
	"1/2/06",
	"1/2/2006",
	"01/02/2006",
	"02.01.2006",
}

// LoadConsumption reads a date/consumption (kWh) table from a .csv or .xlsx
// file. The result is sorted by date.
func LoadConsumption(path string) (models.Series, error) {
	var (
		rows []map[string]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(path)
	case ".csv":
		rows, err = readCSVMaps(path)
	default:
		return nil, fmt.Errorf("%w: consumption file %s: unsupported extension", models.ErrConfiguration, path)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: consumption file %s has no rows", models.ErrDataQuality, path)
	}
	for _, col := range []string{dateColumn, consumptionColumn} {
		if _, ok := rows[0][col]; !ok {
			return nil, fmt.Errorf("%w: %s: missing column %q", models.ErrDataQuality, path, col)
		}
	}

	series := make(models.Series, 0, len(rows))
	for i, row := range rows {
		date, err := parseConsumptionDate(row[dateColumn])
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: %v", models.ErrDataQuality, path, i+2, err)
		}
		raw := strings.TrimSpace(row[consumptionColumn])
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: consumption %q is not numeric", models.ErrDataQuality, path, i+2, raw)
		}
		series = append(series, models.Sample{Date: date, Value: v})
	}

	if flags := ValidateConsumption(series); len(flags) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", models.ErrDataQuality, path, strings.Join(flags, ", "))
	}
	return series.Sorted(), nil
}

func readCSVMaps(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := gocsv.CSVToMaps(f)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrDataQuality, path, err)
	}
	return rows, nil
}

// readWorkbook reads the first sheet, using its first row as the header.
func readWorkbook(path string) ([]map[string]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %s has no sheets", models.ErrDataQuality, path)
	}
	grid, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrDataQuality, path, err)
	}
	if len(grid) < 2 {
		return nil, nil
	}

	header := make([]string, len(grid[0]))
	for i, h := range grid[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	rows := make([]map[string]string, 0, len(grid)-1)
	for _, cells := range grid[1:] {
		if len(cells) == 0 {
			continue
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(cells) {
				row[h] = cells[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseConsumptionDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range consumptionDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.Day(t), nil
		}
	}
	// Unformatted date cells arrive as Excel serial numbers.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && !math.IsInf(serial, 0) {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return models.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad date %q", s)
}

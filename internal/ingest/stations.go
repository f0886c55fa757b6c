package ingest

import (
	"fmt"
	"os"
	"sort"

	"github.com/gocarina/gocsv"

	"github.com/lox/pvyield/internal/models"
)

type stationRow struct {
	StationID string  `csv:"st_id"`
	X         float64 `csv:"x"`
	Y         float64 `csv:"y"`
}

// LoadStations reads the weather-station coordinate table (st_id,x,y).
func LoadStations(path string) ([]models.Station, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stations file %s: %w", path, err)
	}
	defer f.Close()

	var rows []stationRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrDataQuality, path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s lists no stations", models.ErrDataQuality, path)
	}

	seen := make(map[string]bool, len(rows))
	stations := make([]models.Station, 0, len(rows))
	for _, r := range rows {
		if r.StationID == "" {
			return nil, fmt.Errorf("%w: %s: station with empty st_id", models.ErrDataQuality, path)
		}
		if seen[r.StationID] {
			return nil, fmt.Errorf("%w: %s: duplicate station %q", models.ErrDataQuality, path, r.StationID)
		}
		seen[r.StationID] = true
		stations = append(stations, models.Station{StationID: r.StationID, X: r.X, Y: r.Y})
	}
	sort.Slice(stations, func(i, j int) bool { return stations[i].StationID < stations[j].StationID })
	return stations, nil
}

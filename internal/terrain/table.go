package terrain

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/lox/pvyield/internal/models"
)

// TableRow is one precomputed model output row.
type TableRow struct {
	ID                string  `csv:"id"`
	Date              string  `csv:"date"`
	Transmittivity    float64 `csv:"transmittivity"`
	DiffuseProportion float64 `csv:"diffuse_proportion"`
	Offset            float64 `csv:"offset"`
	Slope             float64 `csv:"slope"`
	Aspect            float64 `csv:"aspect"`
	GlobalAverage     float64 `csv:"global_average"`
	DirectAverage     float64 `csv:"direct_average"`
	DiffuseAverage    float64 `csv:"diffuse_average"`
	DirectDuration    float64 `csv:"direct_duration"`
}

type tableKey struct {
	t, d, offset, slope, aspect int64
}

func keyFor(p models.Parameters, g models.Geometry) tableKey {
	q := func(v float64) int64 { return int64(math.Round(v * 1e6)) }
	return tableKey{q(p.Transmittivity), q(p.DiffuseProportion), q(g.Offset), q(g.Slope), q(g.Aspect)}
}

// TableModel answers requests from precomputed output, for offline runs and
// tests. Rows are matched on coefficients, geometry, point id and date window.
type TableModel struct {
	rows   map[tableKey][]models.RadiationSample
	logger *zap.Logger
}

func NewTableModel(rows []TableRow, logger *zap.Logger) (*TableModel, error) {
	m := &TableModel{rows: make(map[tableKey][]models.RadiationSample), logger: logger.Named("terrain.table")}
	for i, r := range rows {
		date, err := time.Parse(sampleLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: table row %d: bad date %q", models.ErrDataQuality, i+1, r.Date)
		}
		k := keyFor(
			models.Parameters{Transmittivity: r.Transmittivity, DiffuseProportion: r.DiffuseProportion},
			models.Geometry{Offset: r.Offset, Slope: r.Slope, Aspect: r.Aspect},
		)
		m.rows[k] = append(m.rows[k], models.RadiationSample{
			PointID:        r.ID,
			Date:           date,
			GlobalAverage:  r.GlobalAverage,
			DirectAverage:  r.DirectAverage,
			DiffuseAverage: r.DiffuseAverage,
			DirectDuration: r.DirectDuration,
		})
	}
	for k := range m.rows {
		s := m.rows[k]
		sort.SliceStable(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
	}
	return m, nil
}

// LoadTableModel reads a precomputed table from a CSV file.
func LoadTableModel(path string, logger *zap.Logger) (*TableModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open terrain table %s: %w", path, err)
	}
	defer f.Close()

	var rows []TableRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrDataQuality, path, err)
	}
	m, err := NewTableModel(rows, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.logger.Info("terrain table loaded", zap.String("path", path), zap.Int("rows", len(rows)))
	return m, nil
}

func (m *TableModel) Compute(ctx context.Context, req Request) ([]models.RadiationSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candidates := m.rows[keyFor(req.Params, req.Geometry)]

	wanted := make(map[string]bool, len(req.Points))
	for _, p := range req.Points {
		wanted[p.ID] = true
	}
	var out []models.RadiationSample
	for _, s := range candidates {
		if !wanted[s.PointID] || s.Date.Before(req.Start) || s.Date.After(req.End) {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no precomputed rows for t=%.2f d=%.2f slope=%.0f aspect=%.0f",
			ErrRejected, req.Params.Transmittivity, req.Params.DiffuseProportion, req.Geometry.Slope, req.Geometry.Aspect)
	}
	return out, nil
}

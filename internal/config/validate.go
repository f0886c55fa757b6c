package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/lox/pvyield/internal/models"
)

// Validate checks ranges, required paths and coordinate pairs. Every problem
// is reported, joined into a single ErrConfiguration.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(c.Location) != 2 {
		add("location must contain exactly 2 coordinates [x, y], got %d", len(c.Location))
	} else {
		for _, v := range c.Location {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				add("location coordinates must be finite")
				break
			}
		}
	}
	if c.CRS <= 0 {
		add("crs must be a positive EPSG code")
	}
	c.DEM = strings.TrimSpace(c.DEM)
	if c.DEM == "" {
		add("dem path cannot be empty")
	}
	if c.Price <= 0 {
		add("price must be > 0")
	}
	c.ReportOut = strings.TrimSpace(c.ReportOut)
	if c.ReportOut == "" {
		add("report_out path cannot be empty")
	}

	if len(c.Panels) == 0 {
		add("at least one panel is required")
	}
	for _, name := range c.PanelNames() {
		for _, p := range validatePanel(c.Panels[name]) {
			add("panels.%s: %s", name, p)
		}
	}

	r := c.Radiation
	if _, err := r.StartTime(); err != nil {
		add("radiation.start_date must be MM/DD/YYYY, got %q", r.StartDate)
	}
	if _, err := r.EndTime(); err != nil {
		add("radiation.end_date must be MM/DD/YYYY, got %q", r.EndDate)
	}
	if s, err1 := r.StartTime(); err1 == nil {
		if e, err2 := r.EndTime(); err2 == nil && e.Before(s) {
			add("radiation.end_date is before start_date")
		}
	}
	if !intervalUnits[strings.ToUpper(r.IntervalUnit)] {
		add("radiation.interval_unit %q is not one of MINUTE, HOUR, DAY, WEEK, MONTH, YEAR", r.IntervalUnit)
	}
	if r.Interval < 1 {
		add("radiation.interval must be >= 1")
	}
	if !inUnit(r.Transmittivity) {
		add("radiation.transmittivity must be within [0, 1]")
	}
	if !inUnit(r.DiffuseProportion) {
		add("radiation.diffuse_proportion must be within [0, 1]")
	}

	o := c.Optimization
	if o.OptimFile == "" {
		if o.ObservationDir == "" {
			add("optimization.observation_dir is required when optim_file is not set")
		}
		if o.Stations == "" {
			add("optimization.stations is required when optim_file is not set")
		}
	}
	if o.Step <= 0 || o.Step > 1 {
		add("optimization.step must be within (0, 1]")
	}
	if o.Metric != "rmse" && o.Metric != "mae" {
		add("optimization.metric must be rmse or mae, got %q", o.Metric)
	}
	if o.Workers < 1 {
		add("optimization.workers must be >= 1")
	}

	if c.Terrain.Endpoint == "" && c.Terrain.Table == "" {
		add("terrain.endpoint or terrain.table is required")
	}
	if c.Terrain.Endpoint != "" && c.Terrain.Table != "" {
		add("terrain.endpoint and terrain.table are mutually exclusive")
	}

	for _, a := range c.Report.Areas {
		if a <= 0 {
			add("report.areas must be positive, got %v", a)
		}
	}
	if c.Report.AreaSelect < 0 {
		add("report.area_select must be >= 0")
	}
	if c.Report.SweepPanel != "" {
		if _, ok := c.Panels[c.Report.SweepPanel]; !ok {
			add("report.sweep_panel %q is not a configured panel", c.Report.SweepPanel)
		}
	}
	if c.Report.Samples < 0 {
		add("report.samples must be >= 0")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", models.ErrConfiguration, errors.New(strings.Join(problems, "; ")))
}

func validatePanel(p PanelConfig) []string {
	var problems []string
	switch {
	case p.Area > 0 && p.KWp > 0:
		problems = append(problems, "only one of area or kwp may be given")
	case p.Area <= 0 && p.KWp <= 0:
		problems = append(problems, "either area or kwp must be given")
	}
	if p.Area < 0 || p.KWp < 0 {
		problems = append(problems, "area and kwp must not be negative")
	}
	if p.Slope < 0 || p.Slope > 90 {
		problems = append(problems, "slope must be within [0, 90]")
	}
	if p.Aspect < 0 || p.Aspect > 360 {
		problems = append(problems, "aspect must be within [0, 360]")
	}
	if !validRange(p.Efficiency) || p.Efficiency.Lo == 0 {
		problems = append(problems, "efficiency must be within (0, 1] with lo <= hi")
	}
	if !validRange(p.SystemLoss) {
		problems = append(problems, "system_loss must be within [0, 1] with lo <= hi")
	}
	return problems
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

func validRange(r models.Range) bool {
	return inUnit(r.Lo) && inUnit(r.Hi) && r.Lo <= r.Hi
}

package workflow

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/lox/pvyield/internal/calibrate"
	"github.com/lox/pvyield/internal/energy"
	"github.com/lox/pvyield/internal/metrics"
	"github.com/lox/pvyield/internal/models"
	"github.com/lox/pvyield/internal/report"
	"github.com/lox/pvyield/internal/store"
)

// bandSeed keeps the P10/P90 band identical between runs on the same inputs.
const bandSeed = 20240101

// Report computes production with the resolved coefficients and writes the
// HTML report. res may be nil; see resolve for where coefficients come from.
func (r *Runner) Report(ctx context.Context, res *calibrate.Result) (report.Output, error) {
	renderer, err := report.NewRenderer(r.cfg.TemplateDir)
	if err != nil {
		return report.Output{}, err
	}
	cal, err := r.resolve(ctx, res)
	if err != nil {
		return report.Output{}, err
	}

	data, err := r.buildReport(ctx, cal)
	if err != nil {
		return report.Output{}, err
	}

	out, err := renderer.WriteFiles(r.cfg.ReportOut, data, r.cfg.Report.Text)
	if err != nil {
		return report.Output{}, err
	}
	metrics.ReportsGenerated.Inc()
	r.logger.Info("report written", zap.String("path", out.HTML), zap.String("text", out.Text))

	if r.store != nil {
		rec := store.ReportRecord{
			CreatedAt:        data.GeneratedAt,
			CalibrationID:    cal.runID,
			HTMLPath:         out.HTML,
			TextPath:         out.Text,
			AreaM2:           data.Financials.AreaM2,
			AnnualProduction: data.Financials.AnnualProduction,
			Params:           cal.params,
		}
		if data.Financials.HasConsumption {
			rec.AnnualConsumption = sql.NullFloat64{Float64: data.Financials.AnnualConsumption, Valid: true}
		}
		if _, err := r.store.SaveReport(rec); err != nil {
			r.logger.Warn("failed to record report", zap.Error(err))
		}
	}
	return out, nil
}

func (r *Runner) buildReport(ctx context.Context, cal *calibration) (*report.Data, error) {
	panels := r.cfg.PanelConfigurations()
	data := &report.Data{
		GeneratedAt: r.now(),
		Location:    r.cfg.Location,
		CRS:         r.cfg.CRS,
		DEM:         r.cfg.DEM,
		Calibration: calibrationView(cal),
	}
	warn := func(msg string, err error) {
		r.logger.Warn(msg, zap.Error(err))
		data.Warnings = append(data.Warnings, fmt.Sprintf("%s: %v", msg, err))
	}

	if cal.result != nil {
		chart, err := report.RenderCalibrationChart(cal.result.Lines(), cal.params)
		if err != nil {
			warn("calibration chart skipped", err)
		}
		data.Calibration.Chart = chart
	}

	series := make([]report.PanelSeries, 0, len(panels))
	radiation := make(map[string]models.Series, len(panels))
	var bands []energy.Band
	for _, p := range panels {
		rad, err := r.panelRadiation(ctx, p, cal.params)
		if err != nil {
			return nil, err
		}
		radiation[p.Name] = rad

		sizing := energy.SizingOf(p)
		production, err := energy.ConvertSeries(rad, p.Efficiency.Mid(), p.SystemLoss.Mid(), sizing)
		if err != nil {
			return nil, fmt.Errorf("panel %s: %w", p.Name, err)
		}
		series = append(series, report.PanelSeries{Panel: p.Name, Radiation: rad, Production: production})

		area, _ := sizing.Area(p.Efficiency.Mid())
		data.Panels = append(data.Panels, report.PanelView{
			Name:       p.Name,
			AreaM2:     area,
			KWp:        area * p.Efficiency.Mid(),
			Offset:     p.Geometry.Offset,
			Slope:      p.Geometry.Slope,
			Aspect:     p.Geometry.Aspect,
			Efficiency: p.Efficiency,
			SystemLoss: p.SystemLoss,
		})

		if r.cfg.Report.Samples > 0 && (!p.Efficiency.IsScalar() || !p.SystemLoss.IsScalar()) {
			band, err := energy.Sample(rad, energy.SampleOptions{
				Efficiency: p.Efficiency,
				Loss:       p.SystemLoss,
				Sizing:     sizing,
				N:          r.cfg.Report.Samples,
				Seed:       bandSeed,
			})
			if err != nil {
				return nil, fmt.Errorf("panel %s: %w", p.Name, err)
			}
			bands = append(bands, band)
		} else {
			bands = append(bands, energy.Band{Low: production, Median: production, High: production})
		}
	}

	consumption, warnings, err := r.loadConsumption()
	if err != nil {
		return nil, err
	}
	data.Warnings = append(data.Warnings, warnings...)

	table, err := report.NewEnergyTable(series, consumption, r.logger)
	if err != nil {
		return nil, err
	}
	if table.Disjoint() {
		data.Warnings = append(data.Warnings,
			"No consumption dates overlap the production period; consumption metrics are omitted.")
	}
	if table.Resampled() {
		data.Warnings = append(data.Warnings,
			"Consumption was resampled to the production frequency by averaging; sums across resampled periods are not comparable to totals.")
	}

	var band *energy.Band
	if r.cfg.Report.Samples > 0 && len(bands) > 0 {
		total := sumBands(bands)
		band = &total
	}
	chart, err := report.RenderProductionChart(table, band)
	if err != nil {
		warn("production chart skipped", err)
	}
	data.ProductionChart = chart

	data.Months = monthViews(table, band)
	data.PivotPanels = table.Panels()
	data.Pivot = table.PanelPivot()
	data.Metrics = energyMetrics(table)

	sweepPanel := r.sweepPanel(panels)
	if err := r.sweep(data, table, sweepPanel, radiation[sweepPanel.Name], consumption); err != nil {
		return nil, err
	}

	card, err := report.RenderSummaryCard(report.CardData{
		AnnualProduction: data.Financials.AnnualProduction,
		AreaM2:           data.Financials.AreaM2,
		Coverage:         data.Financials.Coverage,
		Location:         fmt.Sprintf("EPSG:%d  %.0f, %.0f", r.cfg.CRS, r.cfg.Location[0], r.cfg.Location[1]),
	})
	if err != nil {
		warn("summary card skipped", err)
	} else {
		data.Card = base64.StdEncoding.EncodeToString(card)
	}

	if r.narrator != nil && r.cfg.Report.Narrative {
		text, err := r.narrator.Summarize(ctx, data)
		if err != nil {
			warn("narrative skipped", err)
		}
		data.Narrative = text
	}
	return data, nil
}

func calibrationView(cal *calibration) *report.CalibrationView {
	view := &report.CalibrationView{
		Transmittivity:    cal.params.Transmittivity,
		DiffuseProportion: cal.params.DiffuseProportion,
		RMSE:              math.NaN(),
		MAE:               math.NaN(),
		Source:            cal.source,
	}
	if cal.result != nil {
		view.RMSE = cal.result.Best.RMSE
		view.MAE = cal.result.Best.MAE
		view.Metric = cal.result.Metric
		view.Excluded = len(cal.result.Excluded)
	}
	return view
}

// sumBands adds the per-panel percentile series. Summing percentiles treats
// the panels as perfectly correlated, which widens the band.
func sumBands(bands []energy.Band) energy.Band {
	add := func(dst, src models.Series) models.Series {
		if dst == nil {
			out := make(models.Series, len(src))
			copy(out, src)
			return out
		}
		for i := range dst {
			if i < len(src) {
				dst[i].Value += src[i].Value
			}
		}
		return dst
	}
	var total energy.Band
	for _, b := range bands {
		total.Low = add(total.Low, b.Low)
		total.Median = add(total.Median, b.Median)
		total.High = add(total.High, b.High)
	}
	return total
}

func monthViews(table *report.EnergyTable, band *energy.Band) []report.MonthView {
	low := make(map[int64]float64)
	high := make(map[int64]float64)
	if band != nil {
		for i, s := range band.Low {
			low[s.Date.Unix()] = s.Value
			high[s.Date.Unix()] = band.High[i].Value
		}
	}

	rows := table.Rows()
	views := make([]report.MonthView, len(rows))
	for i, row := range rows {
		lo, ok := low[row.Date.Unix()]
		views[i] = report.MonthView{
			Month:          row.Date,
			Radiation:      row.Radiation,
			Production:     row.Production,
			Consumption:    row.Consumption,
			HasConsumption: row.HasConsumption,
			Low:            lo,
			High:           high[row.Date.Unix()],
			HasBand:        ok,
		}
	}
	return views
}

func energyMetrics(table *report.EnergyTable) []report.Metric {
	out := []report.Metric{
		{Label: "Total Energy Produced", Value: table.TotalProduction(), Unit: "kWh"},
	}
	if cons, ok := table.TotalConsumption(); ok {
		out = append(out, report.Metric{Label: "Total Energy Consumed", Value: cons, Unit: "kWh"})
	}
	out = append(out, report.Metric{Label: "Total Radiation", Value: table.TotalRadiation(), Unit: "kWh/m²"})
	if balance, ok := table.EnergyBalance(); ok {
		out = append(out, report.Metric{Label: "Energy Balance", Value: balance, Unit: "kWh"})
	}
	out = append(out, report.Metric{Label: "Energy per Radiation", Value: finiteOr(table.EnergyEfficiency(), 0), Unit: "kWh per kWh/m²"})
	return out
}

func (r *Runner) sweepPanel(panels []models.PanelConfiguration) models.PanelConfiguration {
	for _, p := range panels {
		if p.Name == r.cfg.Report.SweepPanel {
			return p
		}
	}
	return panels[0]
}

// sweep converts the sweep panel's radiation at every candidate area, picks
// the best match to consumption and fills the financials.
func (r *Runner) sweep(data *report.Data, table *report.EnergyTable, panel models.PanelConfiguration, radiation, consumption models.Series) error {
	eff, loss := panel.Efficiency.Mid(), panel.SystemLoss.Mid()

	candidates := make([]report.Candidate, 0, len(r.cfg.Report.Areas))
	for _, area := range r.cfg.Report.Areas {
		production, err := energy.ConvertSeries(radiation, eff, loss, energy.Sizing{AreaM2: area})
		if err != nil {
			return err
		}
		candidates = append(candidates, report.Candidate{AreaM2: area, Production: production})
	}

	var (
		selection    report.Selection
		hasSelection bool
	)
	if len(candidates) > 0 {
		sel, err := table.SelectArea(candidates)
		switch {
		case err == nil:
			selection, hasSelection = sel, true
		case errors.Is(err, report.ErrNoConsumption):
		default:
			return err
		}

		for i, c := range candidates {
			row := report.SweepRow{AreaM2: c.AreaM2, Production: c.Production.Sum(), Deviation: math.NaN()}
			if hasSelection {
				row.Deviation = selection.Deviations[i]
				row.Best = c.AreaM2 == selection.Best.AreaM2
			}
			data.Sweep = append(data.Sweep, row)
		}

		var deviations []float64
		if hasSelection {
			deviations = selection.Deviations
		}
		chart, err := report.RenderSweepChart(consumption, candidates, deviations)
		if err != nil {
			r.logger.Warn("sweep chart skipped", zap.Error(err))
		}
		data.SweepChart = chart
	}

	f := report.Financials{PricePerKWh: r.cfg.Price}
	switch {
	case r.cfg.Report.AreaSelect > 0:
		production, err := energy.ConvertSeries(radiation, eff, loss, energy.Sizing{AreaM2: r.cfg.Report.AreaSelect})
		if err != nil {
			return err
		}
		f.AreaM2 = r.cfg.Report.AreaSelect
		f.AnnualProduction = production.Sum()
		f.Efficiency = eff
		f.SystemLoss = loss
	default:
		for _, p := range data.Panels {
			f.AreaM2 += p.AreaM2
			f.KWp += p.KWp
		}
		f.AnnualProduction = table.TotalProduction()
		if f.AreaM2 > 0 {
			f.Efficiency = f.KWp / f.AreaM2
		}
		f.SystemLoss = loss
	}
	if f.KWp == 0 {
		f.KWp = f.AreaM2 * f.Efficiency
	}
	f.AvoidedCosts = f.AnnualProduction * f.PricePerKWh / 100
	if cons, ok := table.TotalConsumption(); ok && cons > 0 {
		f.HasConsumption = true
		f.AnnualConsumption = cons
		f.Coverage = f.AnnualProduction / cons
	}
	data.Financials = f
	return nil
}

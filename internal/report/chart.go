package report

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/lox/pvyield/internal/calibrate"
	"github.com/lox/pvyield/internal/energy"
	"github.com/lox/pvyield/internal/models"
)

var palette = []drawing.Color{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
	{R: 140, G: 86, B: 75, A: 255},
	{R: 227, G: 119, B: 194, A: 255},
	{R: 127, G: 127, B: 127, A: 255},
	{R: 188, G: 189, B: 34, A: 255},
}

var consumptionColor = drawing.Color{R: 214, G: 39, B: 40, A: 255}

func paletteColor(i int) drawing.Color {
	return palette[i%len(palette)]
}

var errTooFewPoints = errors.New("chart needs at least two dates")

func monthTicks(dates []time.Time) []chart.Tick {
	ticks := make([]chart.Tick, len(dates))
	for i, d := range dates {
		ticks[i] = chart.Tick{Value: chart.TimeToFloat64(d), Label: d.Format("Jan")}
	}
	return ticks
}

func baseChart(title, yName string, dates []time.Time) chart.Chart {
	return chart.Chart{
		Title:      title,
		TitleStyle: chart.Style{FontSize: 14, FontColor: drawing.ColorBlack},
		Width:      1000,
		Height:     520,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "Month",
			Style: chart.Style{FontSize: 9},
			Ticks: monthTicks(dates),
		},
		YAxis: chart.YAxis{
			Name:      yName,
			NameStyle: chart.Style{FontSize: 11},
			Style:     chart.Style{FontSize: 9},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f", f)
				}
				return ""
			},
		},
	}
}

// encodePNG renders the chart and returns it base64 encoded for an <img>
// data URI.
func encodePNG(graph chart.Chart) (string, error) {
	graph.Elements = []chart.Renderable{chart.LegendLeft(&graph)}
	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return "", fmt.Errorf("render chart %q: %w", graph.Title, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func timeSeries(name string, s models.Series, style chart.Style) chart.TimeSeries {
	return chart.TimeSeries{Name: name, Style: style, XValues: s.Dates(), YValues: s.Values()}
}

// RenderProductionChart draws per-panel production stacked on top of each
// other, the consumption line when present, and the P10/P90 band of the total
// when band is not nil.
func RenderProductionChart(table *EnergyTable, band *energy.Band) (string, error) {
	rows := table.Rows()
	if len(rows) < 2 {
		return "", errTooFewPoints
	}
	dates := make([]time.Time, len(rows))
	for i, r := range rows {
		dates[i] = r.Date
	}
	graph := baseChart("Monthly energy production", "Energy (kWh)", dates)

	// Stack by drawing cumulative totals, largest first so every fill stays
	// visible.
	cumulative := make([]float64, len(rows))
	var layers []chart.Series
	for i, p := range table.panels {
		byDate := make(map[time.Time]float64, len(p.Production))
		for _, s := range p.Production {
			byDate[s.Date] = s.Value
		}
		ys := make([]float64, len(rows))
		for j, r := range rows {
			cumulative[j] += byDate[r.Date]
			ys[j] = cumulative[j]
		}
		color := paletteColor(i)
		layers = append([]chart.Series{chart.TimeSeries{
			Name:    p.Panel,
			Style:   chart.Style{StrokeColor: color, StrokeWidth: 1.5, FillColor: color.WithAlpha(170)},
			XValues: dates,
			YValues: ys,
		}}, layers...)
	}
	graph.Series = layers

	if band != nil && len(band.Low) >= 2 {
		dashed := chart.Style{StrokeColor: drawing.ColorBlack, StrokeWidth: 1, StrokeDashArray: []float64{4, 3}}
		graph.Series = append(graph.Series,
			timeSeries("P10", band.Low, dashed),
			timeSeries("P90", band.High, dashed),
		)
	}

	if table.HasConsumption() {
		var cx []time.Time
		var cy []float64
		for _, r := range rows {
			if r.HasConsumption {
				cx = append(cx, r.Date)
				cy = append(cy, r.Consumption)
			}
		}
		if len(cx) >= 2 {
			graph.Series = append(graph.Series, chart.TimeSeries{
				Name: "Consumption",
				Style: chart.Style{
					StrokeColor:     consumptionColor,
					StrokeWidth:     3,
					StrokeDashArray: []float64{8, 4},
					DotColor:        consumptionColor,
					DotWidth:        4,
				},
				XValues: cx,
				YValues: cy,
			})
		}
	}
	return encodePNG(graph)
}

// RenderSweepChart draws consumption against production at each candidate
// area, labelling each line with its summed deviation from consumption.
func RenderSweepChart(consumption models.Series, candidates []Candidate, deviations []float64) (string, error) {
	if len(candidates) == 0 || len(candidates[0].Production) < 2 {
		return "", errTooFewPoints
	}
	graph := baseChart("Production by panel area", "Energy (kWh)", candidates[0].Production.Dates())

	if len(consumption) >= 2 {
		graph.Series = append(graph.Series, timeSeries("Consumption", consumption,
			chart.Style{StrokeColor: drawing.ColorBlack, StrokeWidth: 2.5}))
	}
	for i, c := range candidates {
		name := fmt.Sprintf("%gm²", c.AreaM2)
		if i < len(deviations) {
			name = fmt.Sprintf("%gm² (%.2fkWh)", c.AreaM2, deviations[i])
		}
		graph.Series = append(graph.Series, timeSeries(name, c.Production,
			chart.Style{StrokeColor: paletteColor(i), StrokeWidth: 1.5}))
	}
	return encodePNG(graph)
}

// RenderCalibrationChart draws modeled against observed monthly radiation
// for each station at the selected coefficients.
func RenderCalibrationChart(lines []calibrate.Line, params models.Parameters) (string, error) {
	var dates []time.Time
	for _, l := range lines {
		if len(l.Modeled) >= 2 {
			dates = l.Modeled.Dates()
			break
		}
	}
	if dates == nil {
		return "", errTooFewPoints
	}
	title := fmt.Sprintf("Modeled vs observed radiation (t=%.2f, d=%.2f)", params.Transmittivity, params.DiffuseProportion)
	graph := baseChart(title, "Radiation (kWh/m²)", dates)

	for i, l := range lines {
		if len(l.Modeled) < 2 {
			continue
		}
		color := paletteColor(i)
		graph.Series = append(graph.Series,
			timeSeries(l.StationID+" modeled", l.Modeled, chart.Style{StrokeColor: color, StrokeWidth: 2}),
			timeSeries(l.StationID+" observed", l.Observed, chart.Style{
				StrokeColor:     color,
				StrokeWidth:     1.5,
				StrokeDashArray: []float64{5, 3},
				DotColor:        color,
				DotWidth:        3,
			}),
		)
	}
	return encodePNG(graph)
}

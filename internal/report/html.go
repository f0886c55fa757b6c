package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lox/pvyield/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

const templateName = "report.html"

type PanelView struct {
	Name       string
	AreaM2     float64
	KWp        float64
	Offset     float64
	Slope      float64
	Aspect     float64
	Efficiency models.Range
	SystemLoss models.Range
}

type Metric struct {
	Label string
	Value float64
	Unit  string
}

// MonthView is one line of the monthly table.
type MonthView struct {
	Month          time.Time
	Radiation      float64
	Production     float64
	Consumption    float64
	HasConsumption bool
	Low            float64
	High           float64
	HasBand        bool
}

type CalibrationView struct {
	Transmittivity    float64
	DiffuseProportion float64
	RMSE              float64
	MAE               float64
	Metric            string
	Source            string
	Excluded          int
	Chart             string
}

type Financials struct {
	AreaM2            float64
	KWp               float64
	Efficiency        float64
	SystemLoss        float64
	AnnualProduction  float64
	AnnualConsumption float64
	PricePerKWh       float64 // ct/kWh
	AvoidedCosts      float64
	Coverage          float64 // production / consumption
	HasConsumption    bool
}

type SweepRow struct {
	AreaM2     float64
	Production float64
	Deviation  float64
	Best       bool
}

// Data is everything the report template renders.
type Data struct {
	GeneratedAt     time.Time
	Location        []float64
	CRS             int
	DEM             string
	Calibration     *CalibrationView
	Panels          []PanelView
	Metrics         []Metric
	Months          []MonthView
	PivotPanels     []string
	Pivot           []PivotRow
	ProductionChart string
	SweepChart      string
	Sweep           []SweepRow
	Card            string
	Financials      Financials
	Narrative       string
	Warnings        []string
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"num": func(decimals int, v float64) string {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return "n/a"
			}
			return fmt.Sprintf("%.*f", decimals, v)
		},
		"thousands": thousands,
		"pct": func(v float64) string {
			return fmt.Sprintf("%.0f%%", v*100)
		},
		"abs": math.Abs,
		"month": func(t time.Time) string {
			return t.Format("Jan 2006")
		},
		"monthName": func(m time.Month) string {
			return m.String()[:3]
		},
		"rng": func(r models.Range) string {
			if r.IsScalar() {
				return fmt.Sprintf("%g", r.Lo)
			}
			return fmt.Sprintf("%g–%g", r.Lo, r.Hi)
		},
		"datauri": func(b64 string) template.URL {
			return template.URL("data:image/png;base64," + b64)
		},
		"upper": strings.ToUpper,
	}
}

// Renderer renders report documents from the embedded template, or from
// templateDir when one is configured.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer(templateDir string) (*Renderer, error) {
	base := template.New("").Funcs(templateFuncs())
	var (
		tmpl *template.Template
		err  error
	)
	if templateDir == "" {
		tmpl, err = base.ParseFS(templateFS, "templates/*.html")
	} else {
		tmpl, err = base.ParseGlob(filepath.Join(templateDir, "*.html"))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse templates: %v", models.ErrConfiguration, err)
	}
	if tmpl.Lookup(templateName) == nil {
		return nil, fmt.Errorf("%w: template dir %s has no %s", models.ErrConfiguration, templateDir, templateName)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Render(w io.Writer, data *Data) error {
	if err := r.tmpl.ExecuteTemplate(w, templateName, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// Output is the set of files written for one report.
type Output struct {
	HTML string
	Text string
}

// WriteFiles renders the report into dir as report_YYYYMMDD_HHMMSS.html,
// plus a plain-text companion when withText is set.
func (r *Renderer) WriteFiles(dir string, data *Data, withText bool) (Output, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, data); err != nil {
		return Output{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create %s: %w", dir, err)
	}

	stem := "report_" + data.GeneratedAt.Format("20060102_150405")
	out := Output{HTML: filepath.Join(dir, stem+".html")}
	if err := os.WriteFile(out.HTML, buf.Bytes(), 0o644); err != nil {
		return Output{}, fmt.Errorf("write %s: %w", out.HTML, err)
	}

	if withText {
		out.Text = filepath.Join(dir, stem+".txt")
		if err := os.WriteFile(out.Text, []byte(Text(buf.String())), 0o644); err != nil {
			return Output{}, fmt.Errorf("write %s: %w", out.Text, err)
		}
	}
	return out, nil
}

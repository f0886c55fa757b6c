package report

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lox/pvyield/internal/models"
)

// ErrNoConsumption is returned by consumption-dependent metrics when the
// table was built without consumption data or none of it overlaps production.
var ErrNoConsumption = errors.New("no consumption data")

// PanelSeries is the radiation and production of one panel orientation.
type PanelSeries struct {
	Panel      string
	Radiation  models.Series // kWh/m²
	Production models.Series // kWh
}

// Row is one date of the joined table.
type Row struct {
	Date           time.Time
	Radiation      float64
	Production     float64
	Consumption    float64
	HasConsumption bool
}

// EnergyTable joins production and consumption on the production dates.
// It is read-only after construction.
type EnergyTable struct {
	panels    []PanelSeries
	rows      []Row
	frequency Frequency
	resampled bool
	disjoint  bool
	logger    *zap.Logger
}

// NewEnergyTable builds the table. consumption may be nil. When consumption
// is sampled at a different frequency than production it is resampled to
// the production frequency by averaging each period. That keeps the scale of
// a per-period mean, not of a total, so monthly totals resampled to weekly
// periods are not comparable one to one.
func NewEnergyTable(panels []PanelSeries, consumption models.Series, logger *zap.Logger) (*EnergyTable, error) {
	if len(panels) == 0 {
		return nil, fmt.Errorf("%w: no production series", models.ErrDataQuality)
	}
	logger = logger.Named("table")

	byDate := make(map[time.Time]*Row)
	for _, p := range panels {
		if len(p.Radiation) != len(p.Production) {
			return nil, fmt.Errorf("%w: panel %s has %d radiation and %d production values",
				models.ErrDataQuality, p.Panel, len(p.Radiation), len(p.Production))
		}
		for i, s := range p.Production {
			r, ok := byDate[s.Date]
			if !ok {
				r = &Row{Date: s.Date}
				byDate[s.Date] = r
			}
			r.Production += s.Value
			r.Radiation += p.Radiation[i].Value
		}
	}
	rows := make([]Row, 0, len(byDate))
	for _, r := range byDate {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	t := &EnergyTable{panels: panels, rows: rows, logger: logger}
	dates := make([]time.Time, len(rows))
	for i, r := range rows {
		dates[i] = r.Date
	}
	t.frequency = InferFrequency(dates)

	if len(consumption) > 0 {
		t.join(consumption)
	}
	return t, nil
}

func (t *EnergyTable) join(consumption models.Series) {
	consFreq := InferFrequency(consumption.Dates())
	if consFreq != t.frequency {
		if t.frequency == FreqUnknown {
			t.logger.Warn("production frequency unknown, joining consumption on exact dates",
				zap.String("consumption_frequency", string(consFreq)))
		} else {
			t.logger.Warn("consumption frequency differs from production, resampling consumption with mean",
				zap.String("production_frequency", string(t.frequency)),
				zap.String("consumption_frequency", string(consFreq)))
			consumption = ResampleMean(consumption, t.frequency)
			t.resampled = true
		}
	}

	byDate := make(map[time.Time]float64, len(consumption))
	for _, s := range consumption {
		byDate[models.Day(s.Date)] = s.Value
	}
	matched := 0
	for i := range t.rows {
		if v, ok := byDate[models.Day(t.rows[i].Date)]; ok {
			t.rows[i].Consumption = v
			t.rows[i].HasConsumption = true
			matched++
		}
	}
	if matched == 0 {
		t.disjoint = true
		t.logger.Warn("no consumption dates overlap production",
			zap.Time("production_start", t.rows[0].Date),
			zap.Time("consumption_start", consumption[0].Date))
	}
}

func (t *EnergyTable) Rows() []Row {
	return t.rows
}

func (t *EnergyTable) Frequency() Frequency {
	return t.frequency
}

// Disjoint reports whether consumption was supplied but none of its dates
// matched a production date.
func (t *EnergyTable) Disjoint() bool {
	return t.disjoint
}

// Resampled reports whether consumption was resampled during the join.
func (t *EnergyTable) Resampled() bool {
	return t.resampled
}

// Panels returns the panel names in input order.
func (t *EnergyTable) Panels() []string {
	names := make([]string, len(t.panels))
	for i, p := range t.panels {
		names[i] = p.Panel
	}
	return names
}

func (t *EnergyTable) HasConsumption() bool {
	for _, r := range t.rows {
		if r.HasConsumption {
			return true
		}
	}
	return false
}

func (t *EnergyTable) TotalProduction() float64 {
	var total float64
	for _, r := range t.rows {
		total += r.Production
	}
	return total
}

func (t *EnergyTable) TotalRadiation() float64 {
	var total float64
	for _, r := range t.rows {
		total += r.Radiation
	}
	return total
}

// TotalConsumption sums consumption over the joined dates. ok is false when
// there is none.
func (t *EnergyTable) TotalConsumption() (total float64, ok bool) {
	for _, r := range t.rows {
		if r.HasConsumption {
			total += r.Consumption
			ok = true
		}
	}
	return total, ok
}

// EnergyBalance is production minus consumption.
func (t *EnergyTable) EnergyBalance() (float64, bool) {
	cons, ok := t.TotalConsumption()
	if !ok {
		return 0, false
	}
	return t.TotalProduction() - cons, true
}

// EnergyEfficiency is production per unit of radiation.
func (t *EnergyTable) EnergyEfficiency() float64 {
	rad := t.TotalRadiation()
	if rad == 0 {
		return math.NaN()
	}
	return t.TotalProduction() / rad
}

// PivotRow holds the mean production per panel for one calendar month,
// aligned with Panels().
type PivotRow struct {
	Month  time.Month
	Values []float64
}

// PanelPivot averages each panel's production by calendar month and rounds
// to whole kWh. Months a panel has no data for are 0.
func (t *EnergyTable) PanelPivot() []PivotRow {
	type acc struct {
		sum float64
		n   int
	}
	seen := make(map[time.Month]bool)
	cells := make(map[time.Month][]acc)
	for pi, p := range t.panels {
		for _, s := range p.Production {
			m := s.Date.Month()
			if !seen[m] {
				seen[m] = true
				cells[m] = make([]acc, len(t.panels))
			}
			cells[m][pi].sum += s.Value
			cells[m][pi].n++
		}
	}

	var months []time.Month
	for m := range seen {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i] < months[j] })

	pivot := make([]PivotRow, len(months))
	for i, m := range months {
		values := make([]float64, len(t.panels))
		for pi, c := range cells[m] {
			if c.n > 0 {
				values[pi] = math.Round(c.sum / float64(c.n))
			}
		}
		pivot[i] = PivotRow{Month: m, Values: values}
	}
	return pivot
}

// Candidate is the production of one candidate panel area.
type Candidate struct {
	AreaM2     float64
	Production models.Series
}

// Selection is the outcome of SelectArea. Deviations are aligned with the
// candidates passed in.
type Selection struct {
	Best       Candidate
	Deviation  float64
	Deviations []float64
}

// SelectArea picks the candidate whose summed signed deviation from
// consumption, sum(consumption - production), is closest to zero. Months of
// over- and under-production cancel out. On ties the earlier candidate wins.
func (t *EnergyTable) SelectArea(candidates []Candidate) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("%w: no candidate areas", models.ErrConfiguration)
	}
	consumption := make(map[time.Time]float64)
	for _, r := range t.rows {
		if r.HasConsumption {
			consumption[r.Date] = r.Consumption
		}
	}
	if len(consumption) == 0 {
		return Selection{}, ErrNoConsumption
	}

	sel := Selection{Deviations: make([]float64, len(candidates))}
	best := -1
	for i, c := range candidates {
		var dev float64
		for _, s := range c.Production {
			if cons, ok := consumption[s.Date]; ok {
				dev += cons - s.Value
			}
		}
		sel.Deviations[i] = dev
		if best < 0 || math.Abs(dev) < math.Abs(sel.Deviations[best]) {
			best = i
		}
	}
	sel.Best = candidates[best]
	sel.Deviation = sel.Deviations[best]
	return sel, nil
}

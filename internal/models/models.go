package models

import (
	"math"
	"sort"
	"time"
)

// ReferenceYear is the synthetic year every climatology entry is anchored to.
const ReferenceYear = 2024

type Station struct {
	StationID string
	X         float64
	Y         float64
}

// Point is a location handed to the terrain radiation model.
type Point struct {
	ID string
	X  float64
	Y  float64
}

// Geometry describes the surface a radiation value is computed for.
type Geometry struct {
	Offset float64 // height above the elevation surface, m
	Slope  float64 // degrees from horizontal
	Aspect float64 // compass degrees, 180 = south
}

// RadiationSample is one row of terrain model output or observation input.
type RadiationSample struct {
	PointID        string
	Date           time.Time
	GlobalAverage  float64
	DirectAverage  float64
	DiffuseAverage float64
	DirectDuration float64
}

// Parameters is an atmospheric coefficient pair.
type Parameters struct {
	Transmittivity    float64
	DiffuseProportion float64
}

// Valid reports whether both coefficients lie in [0.1, 1.0].
func (p Parameters) Valid() bool {
	return p.Transmittivity >= 0.1 && p.Transmittivity <= 1.0 &&
		p.DiffuseProportion >= 0.1 && p.DiffuseProportion <= 1.0
}

type DailyValue struct {
	Date  time.Time
	Value float64
	Valid bool
}

type ClimatologyKey struct {
	StationID string
	Month     time.Month
}

type ClimatologyEntry struct {
	StationID string
	Date      time.Time // 1st of the month in ReferenceYear
	Value     float64
}

// Climatology holds the long-run mean monthly radiation per station.
type Climatology struct {
	values map[ClimatologyKey]float64
}

func NewClimatology() *Climatology {
	return &Climatology{values: make(map[ClimatologyKey]float64)}
}

func (c *Climatology) Set(stationID string, month time.Month, value float64) {
	c.values[ClimatologyKey{StationID: stationID, Month: month}] = value
}

func (c *Climatology) Get(stationID string, month time.Month) (float64, bool) {
	v, ok := c.values[ClimatologyKey{StationID: stationID, Month: month}]
	return v, ok
}

func (c *Climatology) Len() int {
	return len(c.values)
}

// Stations returns the station ids in ascending order.
func (c *Climatology) Stations() []string {
	seen := make(map[string]bool)
	var ids []string
	for k := range c.values {
		if !seen[k.StationID] {
			seen[k.StationID] = true
			ids = append(ids, k.StationID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Entries returns every value ordered by station then month.
func (c *Climatology) Entries() []ClimatologyEntry {
	entries := make([]ClimatologyEntry, 0, len(c.values))
	for k, v := range c.values {
		entries = append(entries, ClimatologyEntry{
			StationID: k.StationID,
			Date:      MonthStart(ReferenceYear, k.Month),
			Value:     v,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].StationID != entries[j].StationID {
			return entries[i].StationID < entries[j].StationID
		}
		return entries[i].Date.Before(entries[j].Date)
	})
	return entries
}

// Range is an inclusive [Lo, Hi] interval. A scalar is a range with Lo == Hi.
type Range struct {
	Lo float64
	Hi float64
}

func Scalar(v float64) Range {
	return Range{Lo: v, Hi: v}
}

func (r Range) IsScalar() bool {
	return r.Lo == r.Hi
}

func (r Range) Mid() float64 {
	return (r.Lo + r.Hi) / 2
}

// PanelConfiguration is the read-only descriptor of one panel orientation.
// Exactly one of AreaM2 and KWp is set.
type PanelConfiguration struct {
	Name       string
	AreaM2     float64
	KWp        float64
	Geometry   Geometry
	Efficiency Range
	SystemLoss Range
}

type Sample struct {
	Date  time.Time
	Value float64
}

// Series is a date-ordered sequence of values.
type Series []Sample

func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

func (s Series) Dates() []time.Time {
	out := make([]time.Time, len(s))
	for i, p := range s {
		out[i] = p.Date
	}
	return out
}

// Sum adds every finite value.
func (s Series) Sum() float64 {
	var total float64
	for _, p := range s {
		if !math.IsNaN(p.Value) {
			total += p.Value
		}
	}
	return total
}

func (s Series) Sorted() Series {
	out := make(Series, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func MonthStart(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

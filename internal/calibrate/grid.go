// Package calibrate fits the atmospheric transmittivity and diffuse proportion
// of the terrain radiation model to observed station climatology.
package calibrate

import (
	"math"

	"github.com/lox/pvyield/internal/models"
)

// Axis is a half-open range [Start, Stop) walked in steps of Step.
type Axis struct {
	Start float64
	Stop  float64
	Step  float64
}

var (
	TransmittivityAxis = Axis{Start: 0.3, Stop: 0.9}
	DiffuseAxis        = Axis{Start: 0.1, Stop: 0.7}
)

const DefaultStep = 0.1

// Values returns Start, Start+Step, ... for every value below Stop. Values
// within a float rounding error of Stop count as reaching it and are left
// out, so the axis never includes its nominal endpoint.
func (a Axis) Values() []float64 {
	if a.Step <= 0 || a.Stop <= a.Start {
		return nil
	}
	eps := a.Step * 1e-9
	var out []float64
	for i := 0; ; i++ {
		v := a.Start + float64(i)*a.Step
		if v >= a.Stop-eps {
			break
		}
		out = append(out, roundCoef(v))
	}
	return out
}

// roundCoef trims float stepping noise so 0.3+3*0.1 is stored as 0.6.
func roundCoef(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

// Grid is the ordered set of coefficient pairs swept by a calibration.
// Transmittivity is the outer loop.
type Grid []models.Parameters

// NewGrid builds the default grid at the given step.
func NewGrid(step float64) Grid {
	if step <= 0 {
		step = DefaultStep
	}
	t, d := TransmittivityAxis, DiffuseAxis
	t.Step, d.Step = step, step
	return NewGridFromAxes(t, d)
}

func NewGridFromAxes(transmittivity, diffuse Axis) Grid {
	var grid Grid
	for _, t := range transmittivity.Values() {
		for _, d := range diffuse.Values() {
			grid = append(grid, models.Parameters{Transmittivity: t, DiffuseProportion: d})
		}
	}
	return grid
}

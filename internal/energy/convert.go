// Package energy converts solar radiation into electrical output.
package energy

import (
	"fmt"
	"math"

	"github.com/lox/pvyield/internal/models"
)

// standardIrradiance is the 1 kW/m² test condition nameplate ratings refer to.
const standardIrradiance = 1.0

// Sizing describes a panel either by its area in m² or by its nameplate
// system size in kWp. Zero means unset; exactly one must be set.
type Sizing struct {
	AreaM2 float64
	KWp    float64
}

func SizingOf(p models.PanelConfiguration) Sizing {
	return Sizing{AreaM2: p.AreaM2, KWp: p.KWp}
}

// AreaForKWp is the panel area needed to reach kWp at standard irradiance.
func AreaForKWp(kwp, efficiency float64) float64 {
	return kwp / (standardIrradiance * efficiency)
}

// Area resolves the sizing to square metres at the given efficiency.
func (s Sizing) Area(efficiency float64) (float64, error) {
	switch {
	case s.AreaM2 != 0 && s.KWp != 0:
		return 0, fmt.Errorf("%w: only one of area or kWp may be given", models.ErrConfiguration)
	case s.AreaM2 == 0 && s.KWp == 0:
		return 0, fmt.Errorf("%w: either area or kWp must be given", models.ErrConfiguration)
	case s.AreaM2 < 0 || s.KWp < 0:
		return 0, fmt.Errorf("%w: area and kWp must be positive", models.ErrConfiguration)
	case s.KWp != 0:
		if efficiency <= 0 {
			return 0, fmt.Errorf("%w: efficiency must be > 0 to size by kWp", models.ErrConfiguration)
		}
		return AreaForKWp(s.KWp, efficiency), nil
	}
	return s.AreaM2, nil
}

// produce is the single conversion formula shared by every mode.
func produce(srad, area, efficiency, loss float64) float64 {
	return srad * area * efficiency * loss
}

// Convert returns the electrical output in kWh for srad kWh/m² of radiation.
func Convert(srad, efficiency, loss float64, sizing Sizing) (float64, error) {
	if err := checkRadiation(srad); err != nil {
		return 0, err
	}
	area, err := sizing.Area(efficiency)
	if err != nil {
		return 0, err
	}
	return produce(srad, area, efficiency, loss), nil
}

// ConvertSeries applies Convert to every sample, keeping the time index.
func ConvertSeries(radiation models.Series, efficiency, loss float64, sizing Sizing) (models.Series, error) {
	if err := ValidateRadiation(radiation); err != nil {
		return nil, err
	}
	area, err := sizing.Area(efficiency)
	if err != nil {
		return nil, err
	}
	out := make(models.Series, len(radiation))
	for i, s := range radiation {
		out[i] = models.Sample{Date: s.Date, Value: produce(s.Value, area, efficiency, loss)}
	}
	return out, nil
}

// ValidateRadiation rejects negative and non-finite radiation.
func ValidateRadiation(radiation models.Series) error {
	for _, s := range radiation {
		if err := checkRadiation(s.Value); err != nil {
			return fmt.Errorf("%s: %w", s.Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

func checkRadiation(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: radiation %v is not a finite number", models.ErrDataQuality, v)
	}
	if v < 0 {
		return fmt.Errorf("%w: radiation %v is negative", models.ErrDataQuality, v)
	}
	return nil
}

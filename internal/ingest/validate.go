package ingest

import (
	"math"
	"time"

	"github.com/lox/pvyield/internal/models"
)

const (
	FlagRadiationNegative   = "radiation_negative"
	FlagRadiationNotFinite  = "radiation_not_finite"
	FlagDuplicateDate       = "duplicate_date"
	FlagConsumptionNegative = "consumption_negative"
	FlagConsumptionInvalid  = "consumption_not_finite"
	FlagNoValidValues       = "no_valid_values"
)

// ValidateDaily returns the data-quality flags raised by a station record.
// Each flag is reported once.
func ValidateDaily(days []models.DailyValue) []string {
	var flags []string
	raised := make(map[string]bool)
	raise := func(flag string) {
		if !raised[flag] {
			raised[flag] = true
			flags = append(flags, flag)
		}
	}

	seen := make(map[time.Time]bool, len(days))
	valid := 0
	for _, d := range days {
		day := models.Day(d.Date)
		if seen[day] {
			raise(FlagDuplicateDate)
		}
		seen[day] = true

		if !d.Valid {
			continue
		}
		valid++
		if math.IsInf(d.Value, 0) {
			raise(FlagRadiationNotFinite)
		}
		if d.Value < 0 {
			raise(FlagRadiationNegative)
		}
	}
	if valid == 0 {
		raise(FlagNoValidValues)
	}
	return flags
}

// ValidateConsumption flags negative or non-finite consumption values.
func ValidateConsumption(series models.Series) []string {
	var flags []string
	for _, s := range series {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return append(flags, FlagConsumptionInvalid)
		}
		if s.Value < 0 {
			return append(flags, FlagConsumptionNegative)
		}
	}
	return flags
}

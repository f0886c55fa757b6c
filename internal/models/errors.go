package models

import "errors"

// Error classes. Callers wrap these with fmt.Errorf("...: %w", ...) and
// classify with errors.Is.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrDataQuality     = errors.New("data quality error")
	ErrModelInvocation = errors.New("model invocation error")
	ErrCalibration     = errors.New("calibration error")
)

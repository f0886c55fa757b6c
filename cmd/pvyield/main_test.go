package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lox/pvyield/internal/models"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"configuration", fmt.Errorf("%w: both area and kwp", models.ErrConfiguration), 2},
		{"data quality", fmt.Errorf("load: %w", fmt.Errorf("%w: bad date", models.ErrDataQuality)), 3},
		{"model invocation", fmt.Errorf("%w: timeout", models.ErrModelInvocation), 4},
		{"calibration", fmt.Errorf("%w: empty surface", models.ErrCalibration), 5},
		{"other", errors.New("disk full"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		if _, err := newLogger("debug", format); err != nil {
			t.Errorf("newLogger(debug, %s): %v", format, err)
		}
	}
	if _, err := newLogger("loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
}

// Package terrain wraps the external terrain radiation model: the capability
// interface, its HTTP and precomputed-table backends, and the guard that
// bounds every invocation with a timeout, retries and a circuit breaker.
package terrain

import (
	"context"
	"errors"
	"time"

	"github.com/lox/pvyield/internal/models"
)

// ErrRejected marks a model failure that retrying cannot fix: a rejected
// request or output that cannot be parsed.
var ErrRejected = errors.New("request rejected by terrain model")

type Interval struct {
	Unit  string // MINUTE, HOUR, DAY, WEEK, MONTH or YEAR
	Count int
}

// Days is the length of one interval in days, or 0 for sub-daily and
// calendar-length units.
func (i Interval) Days() int {
	switch i.Unit {
	case "DAY":
		return i.Count
	case "WEEK":
		return 7 * i.Count
	}
	return 0
}

type Request struct {
	Surface       string // elevation surface reference
	CRS           int
	Points        []models.Point
	Geometry      models.Geometry
	Start         time.Time
	End           time.Time
	Interval      Interval
	Params        models.Parameters
	UniqueIDField string
	DiffuseModel  string
	TimeZone      string

	// Purpose labels metrics and logs, e.g. "calibration" or "production".
	Purpose string
}

// Model computes radiation for a set of points over a time window. Output is
// one sample per point and timestamp.
type Model interface {
	Compute(ctx context.Context, req Request) ([]models.RadiationSample, error)
}

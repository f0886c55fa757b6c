package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvyield_model_calls_total",
			Help: "Total terrain radiation model invocations",
		},
		[]string{"purpose", "status"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pvyield_model_latency_seconds",
			Help:    "Terrain radiation model latency in seconds, including retries",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"purpose"},
	)

	ModelRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pvyield_model_retries_total",
			Help: "Terrain radiation model attempts that were retried",
		},
	)

	GridPointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvyield_grid_points_total",
			Help: "Calibration grid points by outcome",
		},
		[]string{"outcome"},
	)

	BestError = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pvyield_calibration_best_error",
			Help: "Error of the selected calibration parameters",
		},
		[]string{"metric"},
	)

	ReportsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pvyield_reports_generated_total",
			Help: "Total HTML reports written",
		},
	)
)

// WriteTextfile dumps the default registry in the node_exporter textfile
// format so batch runs can be scraped after they exit.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

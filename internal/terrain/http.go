package terrain

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/lox/pvyield/internal/models"
)

const (
	computePath  = "/v1/solar-radiation"
	sampleLayout = "2006-01-02"
)

type pointPayload struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type requestPayload struct {
	Surface           string         `json:"surface"`
	CRS               int            `json:"crs"`
	Points            []pointPayload `json:"points"`
	HeightOffset      float64        `json:"height_offset"`
	Slope             float64        `json:"slope"`
	Aspect            float64        `json:"aspect"`
	StartDate         string         `json:"start_date"`
	EndDate           string         `json:"end_date"`
	IntervalUnit      string         `json:"interval_unit"`
	Interval          int            `json:"interval"`
	Transmittivity    float64        `json:"transmittivity"`
	DiffuseProportion float64        `json:"diffuse_proportion"`
	DiffuseModel      string         `json:"diffuse_model_type,omitempty"`
	TimeZone          string         `json:"time_zone,omitempty"`
	UniqueIDField     string         `json:"unique_id_field"`
}

type sampleRow struct {
	ID             string  `json:"id"`
	Date           string  `json:"date"`
	GlobalAverage  float64 `json:"global_average"`
	DirectAverage  float64 `json:"direct_average"`
	DiffuseAverage float64 `json:"diffuse_average"`
	DirectDuration float64 `json:"direct_duration"`
}

type responsePayload struct {
	Rows []sampleRow `json:"rows"`
}

// HTTPModel calls a remote terrain radiation service.
type HTTPModel struct {
	client   *resty.Client
	endpoint string
	logger   *zap.Logger
}

func NewHTTPModel(endpoint, token string, logger *zap.Logger) *HTTPModel {
	client := resty.New()
	client.SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPModel{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		logger:   logger.Named("terrain.http"),
	}
}

func (m *HTTPModel) Compute(ctx context.Context, req Request) ([]models.RadiationSample, error) {
	payload := requestPayload{
		Surface:           req.Surface,
		CRS:               req.CRS,
		HeightOffset:      req.Geometry.Offset,
		Slope:             req.Geometry.Slope,
		Aspect:            req.Geometry.Aspect,
		StartDate:         req.Start.Format(sampleLayout),
		EndDate:           req.End.Format(sampleLayout),
		IntervalUnit:      req.Interval.Unit,
		Interval:          req.Interval.Count,
		Transmittivity:    req.Params.Transmittivity,
		DiffuseProportion: req.Params.DiffuseProportion,
		DiffuseModel:      req.DiffuseModel,
		TimeZone:          req.TimeZone,
		UniqueIDField:     req.UniqueIDField,
	}
	for _, p := range req.Points {
		payload.Points = append(payload.Points, pointPayload{ID: p.ID, X: p.X, Y: p.Y})
	}

	var out responsePayload
	start := time.Now()
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		Post(m.endpoint + computePath)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", computePath, err)
	}

	m.logger.Debug("model responded",
		zap.Int("status", resp.StatusCode()),
		zap.Duration("took", time.Since(start)),
		zap.Int("rows", len(out.Rows)))

	switch {
	case resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests:
		return nil, fmt.Errorf("terrain model status %d", resp.StatusCode())
	case resp.StatusCode() != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode(), truncate(resp.String(), 200))
	}

	return decodeRows(out.Rows)
}

func decodeRows(rows []sampleRow) ([]models.RadiationSample, error) {
	samples := make([]models.RadiationSample, 0, len(rows))
	for _, r := range rows {
		date, err := time.Parse(sampleLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: bad sample date %q", ErrRejected, r.Date)
		}
		samples = append(samples, models.RadiationSample{
			PointID:        r.ID,
			Date:           date,
			GlobalAverage:  r.GlobalAverage,
			DirectAverage:  r.DirectAverage,
			DiffuseAverage: r.DiffuseAverage,
			DirectDuration: r.DirectDuration,
		})
	}
	return samples, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

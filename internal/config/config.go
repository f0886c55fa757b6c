package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lox/pvyield/internal/models"
)

const envPrefix = "PVYIELD"

type Config struct {
	Location     []float64              `mapstructure:"location"`
	CRS          int                    `mapstructure:"crs"`
	DEM          string                 `mapstructure:"dem"`
	Price        float64                `mapstructure:"price"` // ct/kWh
	TemplateDir  string                 `mapstructure:"template_dir"`
	ReportOut    string                 `mapstructure:"report_out"`
	Consumption  ConsumptionConfig      `mapstructure:"consumption"`
	Optimization OptimizationConfig     `mapstructure:"optimization"`
	Panels       map[string]PanelConfig `mapstructure:"panels"`
	Radiation    RadiationConfig        `mapstructure:"radiation"`
	Terrain      TerrainConfig          `mapstructure:"terrain"`
	Report       ReportConfig           `mapstructure:"report"`
	Store        StoreConfig            `mapstructure:"store"`
}

type ConsumptionConfig struct {
	File string `mapstructure:"file"` // .csv or .xlsx, optional
}

type OptimizationConfig struct {
	ObservationDir string        `mapstructure:"observation_dir"` // local dir or ftp:// URL
	ValueColumn    string        `mapstructure:"value_column"`
	Stations       string        `mapstructure:"stations"` // CSV of st_id,x,y
	OptimFile      string        `mapstructure:"optim_file"`
	Out            string        `mapstructure:"out"`
	Step           float64       `mapstructure:"step"`
	Metric         string        `mapstructure:"metric"`
	Workers        int           `mapstructure:"workers"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxElapsed     time.Duration `mapstructure:"max_elapsed"`
}

type PanelConfig struct {
	Area       float64      `mapstructure:"area"`
	KWp        float64      `mapstructure:"kwp"`
	Offset     float64      `mapstructure:"offset"`
	Slope      float64      `mapstructure:"slope"`
	Aspect     float64      `mapstructure:"aspect"`
	Efficiency models.Range `mapstructure:"efficiency"`
	SystemLoss models.Range `mapstructure:"system_loss"`
}

// RadiationConfig carries the production-run settings for the terrain model.
type RadiationConfig struct {
	UniqueIDField     string  `mapstructure:"unique_id_field"`
	TimeZone          string  `mapstructure:"time_zone"`
	StartDate         string  `mapstructure:"start_date"` // MM/DD/YYYY
	EndDate           string  `mapstructure:"end_date"`
	IntervalUnit      string  `mapstructure:"interval_unit"`
	Interval          int     `mapstructure:"interval"`
	DiffuseModelType  string  `mapstructure:"diffuse_model_type"`
	Transmittivity    float64 `mapstructure:"transmittivity"`
	DiffuseProportion float64 `mapstructure:"diffuse_proportion"`
	UseConfigured     bool    `mapstructure:"use_configured"` // skip calibration and use the pair above
}

type TerrainConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
	Table    string `mapstructure:"table"`
}

type ReportConfig struct {
	Areas      []float64 `mapstructure:"areas"`
	AreaSelect float64   `mapstructure:"area_select"`
	SweepPanel string    `mapstructure:"sweep_panel"`
	Samples    int       `mapstructure:"samples"`
	Narrative  bool      `mapstructure:"narrative"`
	Text       bool      `mapstructure:"text"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

const dateLayout = "01/02/2006"

var intervalUnits = map[string]bool{
	"MINUTE": true, "HOUR": true, "DAY": true, "WEEK": true, "MONTH": true, "YEAR": true,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("report_out", "data/results")
	v.SetDefault("optimization.value_column", "insol")
	v.SetDefault("optimization.step", 0.1)
	v.SetDefault("optimization.metric", "rmse")
	v.SetDefault("optimization.workers", 1)
	v.SetDefault("optimization.timeout", "10m")
	v.SetDefault("optimization.max_elapsed", "30m")
	v.SetDefault("radiation.unique_id_field", "ID")
	v.SetDefault("radiation.time_zone", "UTC")
	v.SetDefault("radiation.start_date", "01/01/2024")
	v.SetDefault("radiation.end_date", "12/31/2024")
	v.SetDefault("radiation.interval_unit", "DAY")
	v.SetDefault("radiation.interval", 1)
	v.SetDefault("radiation.diffuse_model_type", "UNIFORM_SKY")
	v.SetDefault("radiation.transmittivity", 0.5)
	v.SetDefault("radiation.diffuse_proportion", 0.3)
	v.SetDefault("report.areas", []float64{5, 10, 15, 20, 25, 30})
	v.SetDefault("report.samples", 10000)
}

// Load reads and validates the YAML configuration at path. Environment
// variables prefixed with PVYIELD_ override file values.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: config file %s: %v", models.ErrConfiguration, path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("terrain.token", envPrefix+"_TERRAIN_TOKEN")
	v.BindEnv("store.path", envPrefix+"_STORE_PATH")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrConfiguration, path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", models.ErrConfiguration, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	rangeType    = reflect.TypeOf(models.Range{})
	durationType = reflect.TypeOf(time.Duration(0))
)

// decodeHook accepts `efficiency: 0.15` as well as `efficiency: [0.15, 0.2]`,
// and duration strings such as "90s".
func decodeHook(from, to reflect.Type, data any) (any, error) {
	switch to {
	case durationType:
		if s, ok := data.(string); ok {
			return time.ParseDuration(s)
		}
	case rangeType:
		switch d := data.(type) {
		case float64:
			return models.Scalar(d), nil
		case int:
			return models.Scalar(float64(d)), nil
		case []any:
			if len(d) != 2 {
				return nil, fmt.Errorf("range needs 2 values, got %d", len(d))
			}
			lo, ok1 := toFloat(d[0])
			hi, ok2 := toFloat(d[1])
			if !ok1 || !ok2 {
				return nil, errors.New("range values must be numeric")
			}
			return models.Range{Lo: lo, Hi: hi}, nil
		}
	}
	return data, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// StartTime parses the configured start date.
func (c RadiationConfig) StartTime() (time.Time, error) {
	return time.Parse(dateLayout, c.StartDate)
}

func (c RadiationConfig) EndTime() (time.Time, error) {
	return time.Parse(dateLayout, c.EndDate)
}

// PanelNames returns the configured panel names in ascending order.
func (c *Config) PanelNames() []string {
	names := make([]string, 0, len(c.Panels))
	for name := range c.Panels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PanelConfigurations converts the panel map into domain descriptors.
func (c *Config) PanelConfigurations() []models.PanelConfiguration {
	var panels []models.PanelConfiguration
	for _, name := range c.PanelNames() {
		p := c.Panels[name]
		panels = append(panels, models.PanelConfiguration{
			Name:       name,
			AreaM2:     p.Area,
			KWp:        p.KWp,
			Geometry:   models.Geometry{Offset: p.Offset, Slope: p.Slope, Aspect: p.Aspect},
			Efficiency: p.Efficiency,
			SystemLoss: p.SystemLoss,
		})
	}
	return panels
}

// Point is the report location as a terrain model point.
func (c *Config) Point() models.Point {
	return models.Point{ID: "1", X: c.Location[0], Y: c.Location[1]}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lox/pvyield/internal/config"
	"github.com/lox/pvyield/internal/metrics"
	"github.com/lox/pvyield/internal/models"
	"github.com/lox/pvyield/internal/report"
	"github.com/lox/pvyield/internal/store"
	"github.com/lox/pvyield/internal/workflow"
)

type CLI struct {
	Config      string                   `short:"c" default:"config.yaml" type:"path" help:"Path to the YAML configuration."`
	LogLevel    string                   `default:"info" enum:"debug,info,warn,error" help:"Log level (${enum})."`
	LogFormat   string                   `default:"console" enum:"console,json" help:"Log format (${enum})."`
	MetricsFile string                   `type:"path" help:"Write Prometheus metrics in textfile format here on exit."`
	EnvFile     kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file.'"`

	Calibrate   CalibrateCmd   `cmd:"" help:"Calibrate atmospheric coefficients against station observations."`
	Climatology ClimatologyCmd `cmd:"" help:"Build the station climatology and print it."`
	Report      ReportCmd      `cmd:"" help:"Write the yield report using the latest calibration."`
	Run         RunCmd         `cmd:"" default:"1" help:"Calibrate, then write the yield report."`
	History     HistoryCmd     `cmd:"" help:"List stored calibrations and reports."`
}

// app holds what every command needs once flags and config are resolved.
type app struct {
	ctx    context.Context
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

func (a *app) runner() (*workflow.Runner, error) {
	opts := []workflow.Option{}
	if a.store != nil {
		opts = append(opts, workflow.WithStore(a.store))
	}
	if a.cfg.Report.Narrative {
		n, err := report.NewNarrator(os.Getenv("OPENAI_API_KEY"), a.logger)
		if err != nil {
			a.logger.Warn("narrative disabled", zap.Error(err))
		} else {
			opts = append(opts, workflow.WithNarrator(n))
		}
	}
	return workflow.New(a.cfg, a.logger, opts...)
}

type CalibrateCmd struct{}

func (c *CalibrateCmd) Run(a *app) error {
	r, err := a.runner()
	if err != nil {
		return err
	}
	res, err := r.Calibrate(a.ctx)
	if err != nil {
		return err
	}
	if a.store != nil && a.cfg.Optimization.OptimFile == "" {
		id, err := a.store.SaveCalibration(res, a.cfg.Optimization.Step)
		if err != nil {
			return fmt.Errorf("save calibration: %w", err)
		}
		a.logger.Info("calibration stored", zap.String("id", id))
	}
	fmt.Printf("transmittivity=%.2f diffuse_proportion=%.2f rmse=%.3f mae=%.3f excluded=%d\n",
		res.Best.Params.Transmittivity, res.Best.Params.DiffuseProportion, res.Best.RMSE, res.Best.MAE, len(res.Excluded))
	return nil
}

type ClimatologyCmd struct{}

func (c *ClimatologyCmd) Run(a *app) error {
	r, err := a.runner()
	if err != nil {
		return err
	}
	clim, _, err := r.Climatology(a.ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATION\tMONTH\tRADIATION")
	for _, e := range clim.Entries() {
		fmt.Fprintf(w, "%s\t%s\t%.2f\n", e.StationID, e.Date.Format("Jan"), e.Value)
	}
	return w.Flush()
}

type ReportCmd struct{}

func (c *ReportCmd) Run(a *app) error {
	r, err := a.runner()
	if err != nil {
		return err
	}
	out, err := r.Report(a.ctx, nil)
	if err != nil {
		return err
	}
	fmt.Println(out.HTML)
	return nil
}

type RunCmd struct{}

func (c *RunCmd) Run(a *app) error {
	r, err := a.runner()
	if err != nil {
		return err
	}
	out, err := r.Run(a.ctx)
	if err != nil {
		return err
	}
	fmt.Println(out.HTML)
	return nil
}

type HistoryCmd struct {
	Limit int `default:"10" help:"Number of entries to show."`
}

func (c *HistoryCmd) Run(a *app) error {
	if a.store == nil {
		return fmt.Errorf("%w: store.path is not configured", models.ErrConfiguration)
	}
	runs, err := a.store.ListCalibrations(c.Limit)
	if err != nil {
		return err
	}
	reports, err := a.store.ListReports(c.Limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CALIBRATION\tCREATED\tSOURCE\tT\tD\tRMSE\tMAE")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%.3f\t%.3f\n", run.ID, run.CreatedAt.Format("2006-01-02 15:04"),
			run.Source, run.Params.Transmittivity, run.Params.DiffuseProportion, run.RMSE, run.MAE)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "REPORT\tCREATED\tAREA\tPRODUCTION\tPATH")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%.0f\t%s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.AreaM2, r.AnnualProduction, r.HTMLPath)
	}
	return w.Flush()
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// exitCode maps the error taxonomy to process exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, models.ErrConfiguration):
		return 2
	case errors.Is(err, models.ErrDataQuality):
		return 3
	case errors.Is(err, models.ErrModelInvocation):
		return 4
	case errors.Is(err, models.ErrCalibration):
		return 5
	}
	return 1
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("pvyield"),
		kong.Description("Estimate rooftop PV yield from calibrated terrain radiation."),
		kong.UsageOnError(),
	)
	os.Exit(run(kctx, &cli))
}

func run(kctx *kong.Context, cli *CLI) int {
	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 2
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{ctx: ctx, logger: logger}
	err = func() error {
		cfg, err := config.Load(cli.Config)
		if err != nil {
			return err
		}
		a.cfg = cfg

		if cfg.Store.Path != "" {
			st, err := store.Open(cfg.Store.Path, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			a.store = st
		}
		return kctx.Run(a)
	}()

	if cli.MetricsFile != "" {
		if err := metrics.WriteTextfile(cli.MetricsFile); err != nil {
			logger.Warn("metrics not written", zap.Error(err))
		}
	}
	if err != nil {
		logger.Error("command failed", zap.String("command", kctx.Command()), zap.Error(err))
	}
	return exitCode(err)
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/findataops/internal/anomaly"
	"github.com/dvloznov/findataops/internal/config"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/extract"
	"github.com/dvloznov/findataops/internal/forecast"
	infrabq "github.com/dvloznov/findataops/internal/infra/bigquery"
	"github.com/dvloznov/findataops/internal/institution"
	"github.com/dvloznov/findataops/internal/logger"
	"github.com/dvloznov/findataops/internal/metrics"
	"github.com/dvloznov/findataops/internal/pipeline"
	"github.com/dvloznov/findataops/internal/source"
	"github.com/dvloznov/findataops/internal/store"
	"github.com/dvloznov/findataops/internal/store/sqlstore"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app is the state shared by every subcommand once the config is loaded.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "findataops",
		Short:         "Transaction ETL, anomaly detection and spend forecasting",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "override log.level (trace, debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "override log.format (console, json)")

	root.AddCommand(
		newIngestCmd(a),
		newDetectCmd(a),
		newForecastCmd(a),
		newRunCmd(a),
		newAckCmd(a),
		newAnomaliesCmd(a),
		newSummaryCmd(a),
		newServeCmd(a),
		newMigrateCmd(a),
		newUploadCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	a.cfg = cfg
	a.log = logger.NewWithOptions(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    cmd.ErrOrStderr(),
	})
	a.metrics = metrics.New()
	cmd.SetContext(logger.WithContext(cmd.Context(), a.log))
	return nil
}

// openStore connects to the configured backend and brings its schema up to date.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	s, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.Migrate(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("openStore: migrating %s: %w", a.cfg.Store.Driver, err)
	}
	if n > 0 {
		a.log.Info().Int("applied", n).Str("driver", a.cfg.Store.Driver).Msg("Schema migrations applied")
	}
	return s, nil
}

// connect opens the backend without touching its schema.
func (a *app) connect(ctx context.Context) (store.Store, error) {
	sc := a.cfg.Store
	switch sc.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		s, err := sqlstore.Open(ctx, sc.Driver, sc.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverBigQuery:
		repo, err := infrabq.NewRepository(ctx, sc.Project, sc.Dataset, sc.Location)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("connect: unknown store driver %q", sc.Driver)
	}
}

func (a *app) registry() (*institution.Registry, error) {
	return institution.LoadRegistry(a.cfg.Ingest.InstitutionsFile)
}

func (a *app) newIngester(s pipeline.IngestStore, opener source.Opener) (*pipeline.Ingester, error) {
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	return &pipeline.Ingester{
		Store:       s,
		Opener:      opener,
		Registry:    reg,
		Extractor:   extract.NewExtractor(a.cfg.Ingest.MerchantSalt, a.cfg.Ingest.DefaultAccountID),
		Metrics:     a.metrics,
		Concurrency: a.cfg.Ingest.Concurrency,
	}, nil
}

func (a *app) detectStage(s pipeline.DetectStore) *pipeline.DetectStage {
	return &pipeline.DetectStage{
		Store:        s,
		Detector:     &anomaly.Detector{LookbackDays: a.cfg.Anomaly.LookbackDays},
		Metrics:      a.metrics,
		TrailingDays: a.cfg.Anomaly.TrailingDays,
		LookbackDays: a.cfg.Anomaly.LookbackDays,
	}
}

func (a *app) forecastStage(s pipeline.ForecastStore) *pipeline.ForecastStage {
	return &pipeline.ForecastStage{
		Store:         s,
		Forecaster:    &forecast.Forecaster{Horizon: a.cfg.Forecast.Horizon},
		Metrics:       a.metrics,
		HistoryMonths: a.cfg.Forecast.HistoryMonths,
	}
}

// parseAsOf reads a YYYY-MM-DD flag value; empty means today (UTC).
func parseAsOf(raw string) (time.Time, error) {
	if raw == "" {
		return domain.Date(time.Now().UTC()), nil
	}
	t, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q, want YYYY-MM-DD", raw)
	}
	return t, nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FINDATAOPS_STORE_DRIVER.
const EnvPrefix = "FINDATAOPS"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBigQuery = "bigquery"
)

// Config is the full application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Anomaly  AnomalyConfig  `yaml:"anomaly" mapstructure:"anomaly"`
	Forecast ForecastConfig `yaml:"forecast" mapstructure:"forecast"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	Project  string `yaml:"project" mapstructure:"project"`
	Dataset  string `yaml:"dataset" mapstructure:"dataset"`
	Location string `yaml:"location" mapstructure:"location"`
}

type IngestConfig struct {
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
	InstitutionsFile string `yaml:"institutions_file" mapstructure:"institutions_file"`
	MerchantSalt     string `yaml:"merchant_salt" mapstructure:"merchant_salt"`
	DefaultAccountID string `yaml:"default_account_id" mapstructure:"default_account_id"`
}

type AnomalyConfig struct {
	TrailingDays int `yaml:"trailing_days" mapstructure:"trailing_days"`
	LookbackDays int `yaml:"lookback_days" mapstructure:"lookback_days"`
}

type ForecastConfig struct {
	Horizon       int `yaml:"horizon" mapstructure:"horizon"`
	HistoryMonths int `yaml:"history_months" mapstructure:"history_months"`
}

type ServerConfig struct {
	Addr       string `yaml:"addr" mapstructure:"addr"`
	QueueSize  int    `yaml:"queue_size" mapstructure:"queue_size"`
	JobWorkers int    `yaml:"job_workers" mapstructure:"job_workers"`
	// AuthToken, when set, is required as a bearer token on /api routes.
	AuthToken string `yaml:"auth_token" mapstructure:"auth_token"`
}

// defaults lists every key viper should know about so env overrides bind on Unmarshal.
var defaults = map[string]interface{}{
	"log.level":                 "info",
	"log.format":                "console",
	"store.driver":              DriverSQLite,
	"store.dsn":                 "findataops.db",
	"store.project":             "",
	"store.dataset":             "findataops",
	"store.location":            "US",
	"ingest.concurrency":        4,
	"ingest.institutions_file":  "",
	"ingest.merchant_salt":      "finops_salt",
	"ingest.default_account_id": "",
	"anomaly.trailing_days":     30,
	"anomaly.lookback_days":     90,
	"forecast.horizon":          3,
	"forecast.history_months":   6,
	"server.addr":               ":8080",
	"server.queue_size":         100,
	"server.job_workers":        2,
	"server.auth_token":         "",
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	cfg, err := load(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return cfg
}

// Load reads the optional YAML file at path, applies FINDATAOPS_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("Load: reading %s: %w", path, err)
		}
	}

	cfg, err := load(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: config validation failed: %w", err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn cannot be empty for %s", c.Store.Driver)
		}
	case DriverBigQuery:
		if c.Store.Project == "" {
			return fmt.Errorf("store project cannot be empty for bigquery")
		}
		if c.Store.Dataset == "" {
			return fmt.Errorf("store dataset cannot be empty for bigquery")
		}
	default:
		return fmt.Errorf("unknown store driver %q (want sqlite, postgres or bigquery)", c.Store.Driver)
	}

	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest concurrency must be greater than 0")
	}
	if c.Anomaly.TrailingDays <= 0 {
		return fmt.Errorf("anomaly trailing_days must be greater than 0")
	}
	if c.Anomaly.LookbackDays <= 0 {
		return fmt.Errorf("anomaly lookback_days must be greater than 0")
	}
	if c.Forecast.Horizon <= 0 {
		return fmt.Errorf("forecast horizon must be greater than 0")
	}
	if c.Forecast.HistoryMonths < 2 {
		return fmt.Errorf("forecast history_months must be at least 2")
	}
	if c.Server.QueueSize <= 0 || c.Server.JobWorkers <= 0 {
		return fmt.Errorf("server queue_size and job_workers must be greater than 0")
	}
	return nil
}

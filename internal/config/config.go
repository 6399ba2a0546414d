package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chatlift/funnel-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Window    WindowConfig    `yaml:"window" mapstructure:"window"`
	Data      DataConfig      `yaml:"data" mapstructure:"data"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Files     FilesConfig     `yaml:"files" mapstructure:"files"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Aggregate AggregateConfig `yaml:"aggregate" mapstructure:"aggregate"`
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// WindowConfig bounds the analysis interval. Both bounds are bare dates
// in the reporting timezone; End may be empty for an open upper bound.
type WindowConfig struct {
	Start string `yaml:"start" mapstructure:"start"`
	End   string `yaml:"end" mapstructure:"end"`
}

// TimeWindow parses the configured bounds. The upper bound is inclusive
// of the whole end date.
func (w WindowConfig) TimeWindow() (model.TimeWindow, error) {
	start, err := time.Parse("2006-01-02", w.Start)
	if err != nil {
		return model.TimeWindow{}, eris.Wrapf(err, "config: parse window start %q", w.Start)
	}
	var end time.Time
	if w.End != "" {
		end, err = time.Parse("2006-01-02", w.End)
		if err != nil {
			return model.TimeWindow{}, eris.Wrapf(err, "config: parse window end %q", w.End)
		}
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return model.Window(start, end), nil
}

// DataConfig locates the extract drop directory.
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// OutputConfig names the dataset output files. An empty XLSX path skips
// the workbook.
type OutputConfig struct {
	CSV  string `yaml:"csv" mapstructure:"csv"`
	XLSX string `yaml:"xlsx" mapstructure:"xlsx"`
}

// FilesConfig points at the declarative override files. Empty paths
// fall back to the built-in declarations.
type FilesConfig struct {
	Sources    string `yaml:"sources" mapstructure:"sources"`
	Stages     string `yaml:"stages" mapstructure:"stages"`
	Exclusions string `yaml:"exclusions" mapstructure:"exclusions"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AggregateConfig bounds the per-source fan-out.
type AggregateConfig struct {
	Parallelism int `yaml:"parallelism" mapstructure:"parallelism"`
}

// RetentionConfig bounds the serialized retention matrix.
type RetentionConfig struct {
	MaxWeeks int `yaml:"max_weeks" mapstructure:"max_weeks"`
}

// FetchConfig configures the extract pull boundary. Endpoints maps a
// source name to the URL its export job publishes (http, https, or ftp).
type FetchConfig struct {
	Endpoints  map[string]string `yaml:"endpoints" mapstructure:"endpoints"`
	UserAgent  string            `yaml:"user_agent" mapstructure:"user_agent"`
	MaxRetries int               `yaml:"max_retries" mapstructure:"max_retries"`
	FTPUser    string            `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPass    string            `yaml:"ftp_pass" mapstructure:"ftp_pass"`
}

// ServerConfig configures the trigger/query HTTP surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitorConfig configures run health checks and webhook alerting.
type MonitorConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StalenessHours       int     `yaml:"staleness_hours" mapstructure:"staleness_hours"`
	UnresolvedThreshold  int64   `yaml:"unresolved_threshold" mapstructure:"unresolved_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Digest fingerprints the settings that shape a reconciliation, so the run
// log records which configuration produced each dataset. Only inputs the
// engine reads participate; output paths and server settings do not.
func (c *Config) Digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "window=%s..%s|dir=%s|sources=%s|stages=%s|exclusions=%s|parallelism=%d|max_weeks=%d",
		c.Window.Start, c.Window.End, c.Data.Dir,
		c.Files.Sources, c.Files.Stages, c.Files.Exclusions,
		c.Aggregate.Parallelism, c.Retention.MaxWeeks,
	)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FUNNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. The window start matches the platform relaunch; rows
	// before it predate the funnel being measured.
	v.SetDefault("window.start", "2025-11-15")
	v.SetDefault("data.dir", "extracts")
	v.SetDefault("output.csv", "combined_dataset.csv")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "funnel.db")
	v.SetDefault("aggregate.parallelism", 4)
	v.SetDefault("retention.max_weeks", 8)
	v.SetDefault("fetch.user_agent", "funnel-cli growth@chatlift.io")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("monitor.lookback_hours", 24)
	v.SetDefault("monitor.failure_rate_threshold", 0.25)
	v.SetDefault("monitor.staleness_hours", 48)
	v.SetDefault("monitor.unresolved_threshold", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Package config loads application configuration from config.yaml and the
// environment, and owns global logger setup.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine"`
	TDX     TDXConfig     `yaml:"tdx" mapstructure:"tdx"`
	Sheet   SheetConfig   `yaml:"sheet" mapstructure:"sheet"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// EngineConfig sizes the ingestion engine. All fields are explicit; the
// engine never reads ambient globals.
type EngineConfig struct {
	BatchSize                 int  `yaml:"batch_size" mapstructure:"batch_size"`
	MaxConcurrentFetches      int  `yaml:"max_concurrent_fetches" mapstructure:"max_concurrent_fetches"`
	MaxConcurrentPersists     int  `yaml:"max_concurrent_persists" mapstructure:"max_concurrent_persists"`
	RateLimitDelayMs          int  `yaml:"rate_limit_delay_ms" mapstructure:"rate_limit_delay_ms"`
	CallTimeoutSecs           int  `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	RunDeadlineSecs           int  `yaml:"run_deadline_secs" mapstructure:"run_deadline_secs"`
	MaxErrors                 int  `yaml:"max_errors" mapstructure:"max_errors"`
	HardFailureThreshold      int  `yaml:"hard_failure_threshold" mapstructure:"hard_failure_threshold"`
	FullSync                  bool `yaml:"full_sync" mapstructure:"full_sync"`
	DryRun                    bool `yaml:"dry_run" mapstructure:"dry_run"`
	EnableContentVerification bool `yaml:"enable_content_verification" mapstructure:"enable_content_verification"`
}

// RateLimitDelay converts the configured delay to a duration.
func (e EngineConfig) RateLimitDelay() time.Duration {
	return time.Duration(e.RateLimitDelayMs) * time.Millisecond
}

// CallTimeout converts the configured per-call timeout to a duration.
func (e EngineConfig) CallTimeout() time.Duration {
	return time.Duration(e.CallTimeoutSecs) * time.Second
}

// RunDeadline converts the configured overall deadline to a duration.
func (e EngineConfig) RunDeadline() time.Duration {
	return time.Duration(e.RunDeadlineSecs) * time.Second
}

// TDXConfig holds the ticketing/asset system API settings.
type TDXConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	AppID       int    `yaml:"app_id" mapstructure:"app_id"`
	Token       string `yaml:"token" mapstructure:"token"`
	MaxPerCall  int    `yaml:"max_per_call" mapstructure:"max_per_call"`
	RatePerSec  int    `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// SheetConfig locates the periodic spreadsheet exports (lab funding).
type SheetConfig struct {
	Path      string `yaml:"path" mapstructure:"path"`
	SheetName string `yaml:"sheet_name" mapstructure:"sheet_name"`
	SkipRows  int    `yaml:"skip_rows" mapstructure:"skip_rows"`
	FTPHost   string `yaml:"ftp_host" mapstructure:"ftp_host"`
	FTPUser   string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPass   string `yaml:"ftp_pass" mapstructure:"ftp_pass"`
	FTPDir    string `yaml:"ftp_dir" mapstructure:"ftp_dir"`
}

// RetryConfig configures transient-error retry for source calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields required for the given mode ("sync",
// "consolidate", "serve", "migrate"). Shared bounds are always checked.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Engine.BatchSize < 1 || c.Engine.BatchSize > 1000 {
		problems = append(problems, "engine.batch_size must be between 1 and 1000")
	}
	if c.Engine.MaxConcurrentFetches < 1 || c.Engine.MaxConcurrentFetches > 64 {
		problems = append(problems, "engine.max_concurrent_fetches must be between 1 and 64")
	}
	if c.Engine.MaxConcurrentPersists < 1 || c.Engine.MaxConcurrentPersists > 64 {
		problems = append(problems, "engine.max_concurrent_persists must be between 1 and 64")
	}
	if c.Engine.RateLimitDelayMs < 0 {
		problems = append(problems, "engine.rate_limit_delay_ms must be >= 0")
	}

	switch mode {
	case "sync":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.TDX.BaseURL == "" {
			problems = append(problems, "tdx.base_url is required")
		}
	case "consolidate", "migrate":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "serve":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ORGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("engine.batch_size", 100)
	v.SetDefault("engine.max_concurrent_fetches", 4)
	v.SetDefault("engine.max_concurrent_persists", 8)
	v.SetDefault("engine.rate_limit_delay_ms", 250)
	v.SetDefault("engine.call_timeout_secs", 60)
	v.SetDefault("engine.run_deadline_secs", 3600)
	v.SetDefault("engine.max_errors", 25)
	v.SetDefault("engine.hard_failure_threshold", 50)
	v.SetDefault("tdx.max_per_call", 100)
	v.SetDefault("tdx.rate_per_sec", 4)
	v.SetDefault("sheet.sheet_name", "Funding")
	v.SetDefault("sheet.skip_rows", 0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("server.port", 8080)
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

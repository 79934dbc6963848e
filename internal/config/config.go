// Package config loads the mart configuration from config.yaml and
// MART_* environment variables and initializes the global logger.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Refresh  RefreshConfig  `yaml:"refresh" mapstructure:"refresh"`
	Lock     LockConfig     `yaml:"lock" mapstructure:"lock"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the mart database backend.
type StoreConfig struct {
	// Kind is one of postgres, sqlite, mssql.
	Kind string `yaml:"kind" mapstructure:"kind"`
	DSN  string `yaml:"dsn" mapstructure:"dsn"`
}

// SourceConfig points at the operational CSV extracts.
type SourceConfig struct {
	Dir                  string `yaml:"dir" mapstructure:"dir"`
	Customers            string `yaml:"customers" mapstructure:"customers"`
	Sellers              string `yaml:"sellers" mapstructure:"sellers"`
	Products             string `yaml:"products" mapstructure:"products"`
	CategoryTranslations string `yaml:"category_translations" mapstructure:"category_translations"`
	Orders               string `yaml:"orders" mapstructure:"orders"`
	OrderItems           string `yaml:"order_items" mapstructure:"order_items"`
	Reviews              string `yaml:"reviews" mapstructure:"reviews"`
}

// PipelineConfig tunes the loaders.
type PipelineConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	StageTimeoutSecs int `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
}

// RefreshConfig tunes the view refresher.
type RefreshConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
	TimeoutSecs  int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LockConfig configures cross-process refresh locking. Empty RedisAddr
// keeps locking in-process.
type LockConfig struct {
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr"`
}

// MetricsConfig selects the metrics sink.
type MetricsConfig struct {
	// Backend is "none" or "datadog".
	Backend   string `yaml:"backend" mapstructure:"backend"`
	JobName   string `yaml:"job_name" mapstructure:"job_name"`
	Tags      string `yaml:"tags" mapstructure:"tags"`
	FlushSecs int    `yaml:"flush_secs" mapstructure:"flush_secs"`
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml (optional) and the environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.kind", "sqlite")
	v.SetDefault("store.dsn", "file:mart.db")
	v.SetDefault("source.dir", "data")
	v.SetDefault("source.customers", "customers.csv")
	v.SetDefault("source.sellers", "sellers.csv")
	v.SetDefault("source.products", "products.csv")
	v.SetDefault("source.category_translations", "product_category_name_translation.csv")
	v.SetDefault("source.orders", "orders.csv")
	v.SetDefault("source.order_items", "order_items.csv")
	v.SetDefault("source.reviews", "order_reviews.csv")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.batch_size", 500)
	v.SetDefault("pipeline.stage_timeout_secs", 1800)
	v.SetDefault("refresh.interval_secs", 300)
	v.SetDefault("refresh.timeout_secs", 300)
	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.job_name", "mart")
	v.SetDefault("metrics.flush_secs", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
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
		return fmt.Errorf("config: parse log level: %w", err)
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("config: build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	return nil
}

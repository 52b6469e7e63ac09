package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"energy-ingest/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Elexon    UpstreamConfig  `mapstructure:"elexon"`
	Carbon    UpstreamConfig  `mapstructure:"carbon"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// UpstreamConfig covers connectivity to a single upstream API.
type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// FetchConfig tunes the ingestion pipeline.
type FetchConfig struct {
	DaysBack          int           `mapstructure:"days_back"`
	SourceTimeout     time.Duration `mapstructure:"source_timeout"`
	BackfillChunkDays int           `mapstructure:"backfill_chunk_days"`
	MarketProviders   []string      `mapstructure:"market_providers"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// SchedulerConfig governs fetch cadence per source.
type SchedulerConfig struct {
	PricesInterval   time.Duration `mapstructure:"prices_interval"`
	DayAheadInterval time.Duration `mapstructure:"dayahead_interval"`
	CarbonInterval   time.Duration `mapstructure:"carbon_interval"`
	FuelMixSpec      string        `mapstructure:"fuelmix_spec"`
	MaintenanceSpec  string        `mapstructure:"maintenance_spec"`
	MaintenanceDays  int           `mapstructure:"maintenance_days"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENERGYINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "energy-ingest")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("elexon.base_url", "https://data.elexon.co.uk/bmrs/api/v1")
	v.SetDefault("elexon.request_timeout", "30s")
	v.SetDefault("elexon.max_attempts", 3)

	v.SetDefault("carbon.base_url", "https://api.carbonintensity.org.uk")
	v.SetDefault("carbon.request_timeout", "30s")
	v.SetDefault("carbon.max_attempts", 3)

	v.SetDefault("fetch.days_back", 2)
	v.SetDefault("fetch.source_timeout", "10m")
	v.SetDefault("fetch.backfill_chunk_days", 7)
	v.SetDefault("fetch.market_providers", []string{"APXMIDP", "N2EXMIDP"})
	v.SetDefault("fetch.user_agent", "energy-ingest/1.0")

	v.SetDefault("scheduler.prices_interval", "30m")
	v.SetDefault("scheduler.dayahead_interval", "1h")
	v.SetDefault("scheduler.carbon_interval", "30m")
	v.SetDefault("scheduler.fuelmix_spec", "30 1 * * *")
	v.SetDefault("scheduler.maintenance_spec", "0 3 * * *")
	v.SetDefault("scheduler.maintenance_days", 7)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Fetch.DaysBack < 0 {
		return fmt.Errorf("fetch.days_back cannot be negative")
	}
	if c.Fetch.SourceTimeout <= 0 {
		return fmt.Errorf("fetch.source_timeout must be greater than zero")
	}
	if c.Fetch.BackfillChunkDays <= 0 {
		return fmt.Errorf("fetch.backfill_chunk_days must be greater than zero")
	}
	if len(c.Fetch.MarketProviders) == 0 {
		return fmt.Errorf("fetch.market_providers must name at least one provider")
	}
	if c.Scheduler.PricesInterval <= 0 || c.Scheduler.DayAheadInterval <= 0 || c.Scheduler.CarbonInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than zero")
	}
	if c.Scheduler.MaintenanceDays <= 0 {
		return fmt.Errorf("scheduler.maintenance_days must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

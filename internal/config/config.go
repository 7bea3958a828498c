// Package config loads river-monitor settings from an optional YAML file, an optional .env and RIVER_* environment variables
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Retention RetentionConfig `mapstructure:"retention"`
	API       APIConfig       `mapstructure:"api"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
}

type SourceConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	Location  string        `mapstructure:"location"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type ScheduleConfig struct {
	Cron       string `mapstructure:"cron"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

type RetentionConfig struct {
	Window time.Duration `mapstructure:"window"`
}

type APIConfig struct {
	Addr         string `mapstructure:"addr"`
	DebugEnabled bool   `mapstructure:"debug_enabled"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// OpenAIConfig enables free-text interpretation in the bot when APIKey is set
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Load reads configuration, applying defaults where unset.
// An empty configPath searches for config.yaml in . and /etc/river-monitor; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	// A .env in the working directory fills in variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("source.url", "https://hydro.chmi.cz/hppsoldv/hpps_prfdata.php?seq=307338")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("source.location", "Europe/Prague")
	v.SetDefault("database.path", "data/measurements.db")
	v.SetDefault("schedule.cron", "*/30 * * * *")
	v.SetDefault("schedule.run_on_start", true)
	v.SetDefault("retention.window", "168h")
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.debug_enabled", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/river-monitor")
	}

	// Environment variables override (RIVER_SOURCE_URL, RIVER_API_ADDR, ...)
	v.SetEnvPrefix("RIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Secrets also answer to their conventional names
	_ = v.BindEnv("telegram.token", "RIVER_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("openai.api_key", "RIVER_OPENAI_API_KEY", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail much later at runtime
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return errors.New("source.url is required")
	}
	if c.Source.Timeout <= 0 {
		return errors.New("source.timeout must be positive")
	}
	if _, err := time.LoadLocation(c.Source.Location); err != nil {
		return fmt.Errorf("invalid source.location %q: %w", c.Source.Location, err)
	}
	if c.Retention.Window <= 0 {
		return errors.New("retention.window must be positive")
	}
	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		return fmt.Errorf("invalid schedule.cron %q: %w", c.Schedule.Cron, err)
	}
	return nil
}

// SourceLocation returns the location the source publishes its civil timestamps in
func (c *Config) SourceLocation() *time.Location {
	loc, err := time.LoadLocation(c.Source.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/livedoc/internal/engine"
)

// EnvPrefix prefixes environment overrides: LIVEDOC_GOODWILL_CEILING and so on.
const EnvPrefix = "LIVEDOC"

// GoodwillConfig bounds how much work document logic may do.
type GoodwillConfig struct {
	Ceiling   int64 `mapstructure:"ceiling"`
	Allowance int64 `mapstructure:"allowance"`
}

// CeilingConfig is a single upper bound.
type CeilingConfig struct {
	Ceiling int `mapstructure:"ceiling"`
}

// HistoryConfig bounds the in-memory change history kept per document.
type HistoryConfig struct {
	Limit int `mapstructure:"limit"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // text | json
}

// Config holds runtime configuration for livedoc.
// Values are populated from livedoc.yaml, LIVEDOC_* env vars, and CLI flags.
type Config struct {
	Database string         `mapstructure:"database"`
	Workers  int            `mapstructure:"workers"`
	Goodwill GoodwillConfig `mapstructure:"goodwill"`
	Messages CeilingConfig  `mapstructure:"messages"`
	Inflight CeilingConfig  `mapstructure:"inflight"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      LogConfig      `mapstructure:"log"`
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database", "livedoc.db")
	v.SetDefault("workers", engine.DefaultWorkers)
	v.SetDefault("goodwill.ceiling", engine.DefaultGoodwillCeiling)
	v.SetDefault("goodwill.allowance", engine.DefaultGoodwillAllowance)
	v.SetDefault("messages.ceiling", engine.DefaultMessageCeiling)
	v.SetDefault("inflight.ceiling", engine.DefaultInflightLimit)
	v.SetDefault("history.limit", engine.DefaultHistoryLimit)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with defaults and env overrides wired.
// When file is non-empty it is read as the config file; otherwise
// livedoc.yaml is looked up in the working directory and its absence is
// not an error.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		return v, nil
	}

	v.SetConfigName("livedoc")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.Goodwill.Ceiling <= 0:
		return fmt.Errorf("goodwill.ceiling must be positive, got %d", c.Goodwill.Ceiling)
	case c.Goodwill.Allowance < 0:
		return fmt.Errorf("goodwill.allowance must not be negative, got %d", c.Goodwill.Allowance)
	case c.Messages.Ceiling <= 0:
		return fmt.Errorf("messages.ceiling must be positive, got %d", c.Messages.Ceiling)
	case c.Inflight.Ceiling <= 0:
		return fmt.Errorf("inflight.ceiling must be positive, got %d", c.Inflight.Ceiling)
	case c.History.Limit < 0:
		return fmt.Errorf("history.limit must not be negative, got %d", c.History.Limit)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// DocumentOptions translates the document limits into engine options.
func (c Config) DocumentOptions() []engine.Option {
	return []engine.Option{
		engine.WithGoodwill(c.Goodwill.Ceiling, c.Goodwill.Allowance),
		engine.WithMessageCeiling(c.Messages.Ceiling),
		engine.WithHistoryLimit(c.History.Limit),
	}
}

// ServiceOptions translates the executor settings into service options.
func (c Config) ServiceOptions() []engine.ServiceOption {
	return []engine.ServiceOption{
		engine.WithWorkers(c.Workers),
		engine.WithInflightLimit(c.Inflight.Ceiling),
		engine.WithDocumentOptions(c.DocumentOptions()...),
	}
}

// ParseLevel reads a slog level name.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

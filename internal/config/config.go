// Package config holds the CLI configuration: a YAML file created with
// defaults on first run, overridable through CALSEAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cyp0633/libcalseal/batch"
	"github.com/cyp0633/libcalseal/recurrence"
	"github.com/cyp0633/libcalseal/timezone"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CALSEAL_"

// APIConfig is the calendar API session. Token is never written back to disk.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	UID     string `yaml:"uid,omitempty"`
	Token   string `yaml:"-"`
}

// BatchConfig tunes the bulk decryption pipeline
type BatchConfig struct {
	PageSize int           `yaml:"page_size"`
	Delay    time.Duration `yaml:"delay"`
}

// EngineConfig tunes the recurrence engine
type EngineConfig struct {
	// MaxOccurrences bounds one expansion call
	MaxOccurrences int  `yaml:"max_occurrences"`
	Cache          bool `yaml:"cache"`
}

// Config is the top-level CLI configuration
type Config struct {
	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	// DefaultTimezone resolves floating times on import
	DefaultTimezone string       `yaml:"default_timezone"`
	API             APIConfig    `yaml:"api"`
	Batch           BatchConfig  `yaml:"batch"`
	Engine          EngineConfig `yaml:"engine"`
}

// DefaultConfig returns the configuration written on first run
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		DefaultTimezone: "UTC",
		API: APIConfig{
			BaseURL: "https://calendar.proton.me/api/",
		},
		Batch: BatchConfig{
			PageSize: batch.DefaultConfig.PageSize,
			Delay:    batch.DefaultConfig.Delay,
		},
		Engine: EngineConfig{
			MaxOccurrences: recurrence.DefaultEngineConfig.MaxGeneratedPerCall,
			Cache:          recurrence.DefaultEngineConfig.CacheEnabled,
		},
	}
}

// Normalize fills zero values with defaults so partial files still work
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = def.DefaultTimezone
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if c.Batch.PageSize <= 0 {
		c.Batch.PageSize = def.Batch.PageSize
	}
	if c.Batch.Delay < 0 {
		c.Batch.Delay = 0
	}
	if c.Engine.MaxOccurrences <= 0 {
		c.Engine.MaxOccurrences = def.Engine.MaxOccurrences
	}
}

// Validate reports settings that cannot be used as given
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := timezone.Load(c.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("default_timezone: %w", err))
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("api.base_url: %w", err))
	} else if !u.IsAbs() {
		errs = append(errs, fmt.Errorf("api.base_url: %q is not absolute", c.API.BaseURL))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// RecurrenceConfig converts the engine section for recurrence.NewEngine
func (c *Config) RecurrenceConfig() recurrence.EngineConfig {
	ec := recurrence.DefaultEngineConfig
	if !c.Engine.Cache {
		ec = recurrence.DisabledCacheConfig
	}
	ec.MaxGeneratedPerCall = c.Engine.MaxOccurrences
	ec.SubsetMaxOccurrences = 2 * c.Engine.MaxOccurrences
	return ec
}

// BatchConfig converts the batch section for batch.NewPipeline. Logger and
// metrics are left to the caller.
func (c *Config) BatchConfig() batch.Config {
	return batch.Config{
		PageSize: c.Batch.PageSize,
		Delay:    c.Batch.Delay,
	}
}

// ApplyEnv overrides fields from CALSEAL_* variables looked up through
// lookup, typically os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LOG_LEVEL":        &c.LogLevel,
		"DEFAULT_TIMEZONE": &c.DefaultTimezone,
		"API_URL":          &c.API.BaseURL,
		"API_UID":          &c.API.UID,
		"API_TOKEN":        &c.API.Token,
	}
	for name, field := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*field = v
		}
	}

	var errs []error
	if v, ok := lookup(EnvPrefix + "BATCH_PAGE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sBATCH_PAGE_SIZE: %w", EnvPrefix, err))
		} else {
			c.Batch.PageSize = n
		}
	}
	if v, ok := lookup(EnvPrefix + "BATCH_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sBATCH_DELAY: %w", EnvPrefix, err))
		} else {
			c.Batch.Delay = d
		}
	}
	if v, ok := lookup(EnvPrefix + "ENGINE_CACHE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sENGINE_CACHE: %w", EnvPrefix, err))
		} else {
			c.Engine.Cache = b
		}
	}
	return errors.Join(errs...)
}

// Load reads the YAML file at path. A missing file is created with
// DefaultConfig (0600) and the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			// the caller may still run on defaults if the save fails
			return cfg, Save(path, cfg)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically through a temp file and rename
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calseal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

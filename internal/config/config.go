// Package config loads engine configuration from defaults, a YAML or CUE
// file, and MEMSTATE_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/serializer"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MEMSTATE_"

// Backends lists the storage backends a config may name.
var Backends = []string{"memory", "file", "sqlite", "badger"}

// Config is the user-facing engine configuration.
type Config struct {
	Backend        string   `yaml:"backend" json:"backend" env:"BACKEND"`
	Location       string   `yaml:"location" json:"location" env:"LOCATION"`
	Serializer     string   `yaml:"serializer" json:"serializer" env:"SERIALIZER"`
	MaxBatchSize   int      `yaml:"max_batch_size" json:"max_batch_size" env:"MAX_BATCH_SIZE"`
	MaxBatchWait   Duration `yaml:"max_batch_wait" json:"max_batch_wait" env:"MAX_BATCH_WAIT"`
	Durability     string   `yaml:"durability" json:"durability" env:"DURABILITY"`
	JournalQueries bool     `yaml:"journal_queries" json:"journal_queries" env:"JOURNAL_QUERIES"`
	DedupWindow    int      `yaml:"dedup_window" json:"dedup_window" env:"DEDUP_WINDOW"`
	QueueCapacity  int      `yaml:"queue_capacity" json:"queue_capacity" env:"QUEUE_CAPACITY"`
	QueryIsolation bool     `yaml:"query_isolation" json:"query_isolation" env:"QUERY_ISOLATION"`
}

// Duration is a time.Duration that reads and writes as "5ms" style text.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	ec := engine.DefaultConfig()
	return Config{
		Backend:       "file",
		Location:      "memstate.journal",
		Serializer:    ec.Serializer,
		MaxBatchSize:  ec.MaxBatchSize,
		MaxBatchWait:  Duration(ec.MaxBatchWait),
		Durability:    string(ec.Durability),
		DedupWindow:   ec.DedupWindow,
		QueueCapacity: 1024,
	}
}

// Load builds a Config from defaults, the file at path (skipped when path
// is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MEMSTATE_* variables. Unset variables leave
// fields unchanged.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if !slices.Contains(Backends, c.Backend) {
		errs = append(errs, fmt.Errorf("backend: must be one of %v, got %q", Backends, c.Backend))
	}
	if c.Location == "" {
		errs = append(errs, errors.New("location: must not be empty"))
	}
	if !slices.Contains(serializer.Names(), c.Serializer) {
		errs = append(errs, fmt.Errorf("serializer: must be one of %v, got %q", serializer.Names(), c.Serializer))
	}
	if c.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("max_batch_size: must be positive, got %d", c.MaxBatchSize))
	}
	if c.MaxBatchWait <= 0 {
		errs = append(errs, fmt.Errorf("max_batch_wait: must be positive, got %s", time.Duration(c.MaxBatchWait)))
	}
	switch engine.Durability(c.Durability) {
	case engine.DurabilityStrict, engine.DurabilityRelaxed:
	default:
		errs = append(errs, fmt.Errorf("durability: must be strict or relaxed, got %q", c.Durability))
	}
	if c.DedupWindow < 0 {
		errs = append(errs, fmt.Errorf("dedup_window: must be >= 0, got %d", c.DedupWindow))
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("queue_capacity: must be >= 0, got %d", c.QueueCapacity))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EngineOptions converts c to an engine.Config. The caller still supplies
// the storage provider for c.Backend, the command registry, and the model
// factory.
func (c Config) EngineOptions() engine.Config {
	ec := engine.DefaultConfig()
	ec.Backend = c.Backend
	ec.Location = c.Location
	ec.Serializer = c.Serializer
	ec.MaxBatchSize = c.MaxBatchSize
	ec.MaxBatchWait = time.Duration(c.MaxBatchWait)
	ec.Durability = engine.Durability(c.Durability)
	ec.JournalQueries = c.JournalQueries
	ec.DedupWindow = c.DedupWindow
	ec.QueueCapacity = c.QueueCapacity
	ec.QueryIsolation = c.QueryIsolation
	return ec
}

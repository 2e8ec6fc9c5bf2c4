// Package config loads tracker settings from YAML files and SN_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in configuration.
const (
	ProviderHeap = "heap"
	ProviderMmap = "mmap"
)

// Config holds every tunable knob of a tracker.
type Config struct {
	Provider         string      `yaml:"provider"`
	AllocLimit       uint64      `yaml:"alloc_limit"`
	FastCache        FastCache   `yaml:"fast_cache"`
	FreeOnClose      bool        `yaml:"free_on_close"`
	MaintenanceEvery int         `yaml:"maintenance_every"`
	Diagnostics      Diagnostics `yaml:"diagnostics"`
	Log              Log         `yaml:"log"`
}

// FastCache controls the small lookup cache in front of the registry.
type FastCache struct {
	Enabled bool `yaml:"enabled"`
	Locked  bool `yaml:"locked"`
}

// Diagnostics controls what the crash reporter prints.
type Diagnostics struct {
	DumpCache    bool `yaml:"dump_cache"`
	DumpRegistry bool `yaml:"dump_registry"`
}

// Log controls the structured logger.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when nothing else is given.
func Default() Config {
	return Config{
		Provider:         ProviderHeap,
		FastCache:        FastCache{Enabled: true},
		MaintenanceEvery: 1,
		Diagnostics:      Diagnostics{DumpCache: true, DumpRegistry: true},
		Log:              Log{Level: "info"},
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values that YAML typing cannot.
func (c Config) Validate() error {
	switch c.Provider {
	case "", ProviderHeap, ProviderMmap:
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if c.MaintenanceEvery < 0 {
		return errors.New("config: maintenance_every must not be negative")
	}
	return nil
}

// FromEnv overlays SN_* environment variables on cfg.
func FromEnv(cfg Config) (Config, error) {
	return fromLookup(cfg, os.LookupEnv)
}

func fromLookup(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(name string, dst *bool) {
		v, ok := lookup(name)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", name, err))
			return
		}
		*dst = b
	}

	str("SN_PROVIDER", &cfg.Provider)
	if v, ok := lookup("SN_ALLOC_LIMIT"); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: SN_ALLOC_LIMIT: %w", err))
		} else {
			cfg.AllocLimit = n
		}
	}
	boolean("SN_FAST_CACHE", &cfg.FastCache.Enabled)
	boolean("SN_CACHE_LOCK", &cfg.FastCache.Locked)
	boolean("SN_FREE_ON_CLOSE", &cfg.FreeOnClose)
	if v, ok := lookup("SN_MAINTENANCE_EVERY"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: SN_MAINTENANCE_EVERY: %w", err))
		} else {
			cfg.MaintenanceEvery = n
		}
	}
	boolean("SN_DUMP_CACHE", &cfg.Diagnostics.DumpCache)
	boolean("SN_DUMP_REGISTRY", &cfg.Diagnostics.DumpRegistry)
	str("SN_LOG_LEVEL", &cfg.Log.Level)

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, cfg.Validate()
}

// Package profile holds the process-wide configuration defaults for the
// query cache. A Profile is built once at startup and read-only afterwards.
package profile

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the process-wide default configuration. Per-query options
// override these values at query creation.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string
	// CacheDuration is the default eviction window for queries.
	CacheDuration time.Duration
	// RefetchDuration is the default staleness window for queries.
	RefetchDuration time.Duration
	// CleanupInterval is how often the registry scans for evictable queries.
	CleanupInterval time.Duration
	// Rethrow is the default error propagation policy for fetch failures.
	Rethrow bool
	// Driver is the storage backend ("sqlite" or "postgres"); empty disables
	// the persistent storage collaborator.
	Driver string
	// DSN points to where the storage backend keeps its data.
	DSN string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// Default returns the built-in defaults with no environment lookup.
func Default() *Profile {
	return &Profile{
		Mode:            "dev",
		CacheDuration:   5 * time.Minute,
		RefetchDuration: 30 * time.Second,
		CleanupInterval: time.Minute,
	}
}

// FromEnv loads the profile from QUERYCACHE_* environment variables,
// falling back to the built-in defaults.
//
// Recognized variables: QUERYCACHE_MODE, QUERYCACHE_CACHE_DURATION,
// QUERYCACHE_REFETCH_DURATION, QUERYCACHE_CLEANUP_INTERVAL,
// QUERYCACHE_RETHROW, QUERYCACHE_DRIVER, QUERYCACHE_DSN.
// Durations use Go syntax ("30s", "5m").
func FromEnv() (*Profile, error) {
	v := viper.New()
	v.SetEnvPrefix("querycache")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("mode", def.Mode)
	v.SetDefault("cache_duration", def.CacheDuration)
	v.SetDefault("refetch_duration", def.RefetchDuration)
	v.SetDefault("cleanup_interval", def.CleanupInterval)
	v.SetDefault("rethrow", false)
	v.SetDefault("driver", "")
	v.SetDefault("dsn", "")

	p := &Profile{
		Mode:            v.GetString("mode"),
		CacheDuration:   v.GetDuration("cache_duration"),
		RefetchDuration: v.GetDuration("refetch_duration"),
		CleanupInterval: v.GetDuration("cleanup_interval"),
		Rethrow:         v.GetBool("rethrow"),
		Driver:          v.GetString("driver"),
		DSN:             v.GetString("dsn"),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Normalized returns a copy with zero fields filled from the built-in
// defaults. The receiver is not mutated. Hand-constructed profiles go
// through this before use so a zero duration can never reach a ticker.
func (p *Profile) Normalized() *Profile {
	def := Default()
	if p == nil {
		return def
	}
	out := *p
	if out.Mode == "" {
		out.Mode = def.Mode
	}
	if out.CacheDuration <= 0 {
		out.CacheDuration = def.CacheDuration
	}
	if out.RefetchDuration <= 0 {
		out.RefetchDuration = def.RefetchDuration
	}
	if out.CleanupInterval <= 0 {
		out.CleanupInterval = def.CleanupInterval
	}
	return &out
}

// Validate checks the profile for values the cache cannot operate with.
func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" {
		return errors.Errorf("unsupported mode %q", p.Mode)
	}
	if p.CacheDuration <= 0 {
		return errors.New("cache duration must be positive")
	}
	if p.RefetchDuration <= 0 {
		return errors.New("refetch duration must be positive")
	}
	if p.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	switch p.Driver {
	case "", "sqlite", "postgres":
	default:
		return errors.Errorf("unknown storage driver %q: only 'sqlite' and 'postgres' are supported", p.Driver)
	}
	if p.Driver != "" && p.DSN == "" {
		return errors.Errorf("driver %q requires a DSN", p.Driver)
	}
	return nil
}

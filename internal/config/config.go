// Package config loads the single immutable configuration value the rest
// of the platform is constructed from. File-based settings come from
// YAML; credentials and the database DSN come from the environment so
// secrets never land in a file on disk.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable, process-wide configuration value. It is
// constructed once in main and passed explicitly to every component —
// there is no package-level singleton.
type Config struct {
	UpstreamBaseURL string   `yaml:"upstream_base_url"`
	UpstreamSTSURL  string   `yaml:"upstream_sts_url"`
	Areas           []string `yaml:"areas"`

	ColdStartDate        time.Time     `yaml:"-"`
	ColdStartDateStr     string        `yaml:"cold_start_date"`
	HotColdBoundary      time.Duration `yaml:"-"`
	HotColdBoundaryDays  int           `yaml:"hot_cold_boundary_days"`
	ArchiveSafetyDelay   time.Duration `yaml:"-"`
	ArchiveSafetyDelayH  int           `yaml:"archive_safety_delay_hours"`
	ActiveWindowLength   time.Duration `yaml:"-"`
	ActiveWindowHours    int           `yaml:"active_window_hours"`
	TradeBackfillChunk   time.Duration `yaml:"-"`
	TradeBackfillChunkH  int           `yaml:"trade_backfill_chunk_hours"`
	RevisionStreamChunk  time.Duration `yaml:"-"`
	RevisionStreamChunkH int           `yaml:"revision_stream_chunk_hours"`

	ArchivalWorkers int `yaml:"archival_workers"`

	TradeSyncInterval      time.Duration `yaml:"-"`
	TradeSyncMinutes       int           `yaml:"trade_sync_minutes"`
	CandleGenInterval      time.Duration `yaml:"-"`
	CandleGenMinutes       int           `yaml:"candle_gen_minutes"`
	OrderFlowSyncInterval  time.Duration `yaml:"-"`
	OrderFlowSyncMinutes   int           `yaml:"order_flow_sync_minutes"`
	LiveTickInterval       time.Duration `yaml:"-"`
	LiveTickMinutes        int           `yaml:"live_tick_minutes"`
	SchedulerMisfireGrace  time.Duration `yaml:"-"`
	SchedulerMisfireGraceM int           `yaml:"scheduler_misfire_grace_minutes"`

	ColdStoreDir string `yaml:"cold_store_dir"`
	LiveStateDir string `yaml:"live_state_dir"`
	LiveMode     string `yaml:"live_mode"`

	// MetricsAddr is the listen address for /metrics and /healthz; empty
	// disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// Credentials and DSN: environment only, never written to the YAML
	// file on disk.
	UpstreamUsername string `yaml:"-"`
	UpstreamPassword string `yaml:"-"`
	PostgresDSN      string `yaml:"-"`
	RedisAddr        string `yaml:"-"`
}

// Default returns the built-in defaults before any
// environment or file overrides are applied.
func Default() Config {
	return Config{
		UpstreamBaseURL:        "https://api.nordpoolgroup.com",
		UpstreamSTSURL:         "https://sts.nordpoolgroup.com/connect/token",
		Areas:                  []string{"SE1", "SE2", "SE3", "SE4"},
		ColdStartDateStr:       "2024-01-01T00:00:00Z",
		HotColdBoundaryDays:    7,
		ArchiveSafetyDelayH:    48,
		ActiveWindowHours:      48,
		TradeBackfillChunkH:    12,
		RevisionStreamChunkH:   4,
		ArchivalWorkers:        10,
		TradeSyncMinutes:       60,
		CandleGenMinutes:       15,
		OrderFlowSyncMinutes:   60,
		LiveTickMinutes:        5,
		SchedulerMisfireGraceM: 5,
		ColdStoreDir:           "data/order_flow",
		LiveStateDir:           "data/live",
		LiveMode:               "PAPER",
		MetricsAddr:            ":9180",
	}
}

// Load starts from Default(), reads a YAML config file over it (if path
// is non-empty) so absent keys keep their defaults and keys set to zero
// stay zero, merges environment-provided secrets, derives the
// time.Duration fields from their integer counterparts, and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		// Unmarshal over the defaults so an absent key keeps its default.
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.derive(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("INGEST_NORDPOOL_USER"); v != "" {
		c.UpstreamUsername = v
	}
	if v := os.Getenv("INGEST_NORDPOOL_PASSWORD"); v != "" {
		c.UpstreamPassword = v
	}
	if v := os.Getenv("INGEST_PG_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("INGEST_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
}

func (c *Config) derive() error {
	t, err := time.Parse(time.RFC3339, c.ColdStartDateStr)
	if err != nil {
		return fmt.Errorf("invalid cold_start_date %q: %w", c.ColdStartDateStr, err)
	}
	c.ColdStartDate = t
	c.HotColdBoundary = time.Duration(c.HotColdBoundaryDays) * 24 * time.Hour
	c.ArchiveSafetyDelay = time.Duration(c.ArchiveSafetyDelayH) * time.Hour
	c.ActiveWindowLength = time.Duration(c.ActiveWindowHours) * time.Hour
	c.TradeBackfillChunk = time.Duration(c.TradeBackfillChunkH) * time.Hour
	c.RevisionStreamChunk = time.Duration(c.RevisionStreamChunkH) * time.Hour
	c.TradeSyncInterval = time.Duration(c.TradeSyncMinutes) * time.Minute
	c.CandleGenInterval = time.Duration(c.CandleGenMinutes) * time.Minute
	c.OrderFlowSyncInterval = time.Duration(c.OrderFlowSyncMinutes) * time.Minute
	c.LiveTickInterval = time.Duration(c.LiveTickMinutes) * time.Minute
	c.SchedulerMisfireGrace = time.Duration(c.SchedulerMisfireGraceM) * time.Minute
	return nil
}

// Validate enforces the FatalConfig boundary: a missing area
// list or an empty DSN stops ingestion for the process; the DSN is not
// parsed or connected to here. Empty
// upstream credentials are permitted — they disable upstream pulls but
// do not prevent the process from serving the Read API.
func (c Config) Validate() error {
	if len(c.Areas) == 0 {
		return fmt.Errorf("fatal config: no areas configured")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("fatal config: INGEST_PG_DSN is required")
	}
	if c.RevisionStreamChunk > 4*time.Hour {
		return fmt.Errorf("fatal config: revision_stream_chunk_hours exceeds the 4h upstream cap")
	}
	return nil
}

// UpstreamEnabled reports whether credentials were supplied; when false,
// the Trade and Order-Flow Ingesters skip their upstream calls but the
// rest of the platform (candles from already-stored trades, the replayer,
// the Read API) still functions.
func (c Config) UpstreamEnabled() bool {
	return c.UpstreamUsername != "" && c.UpstreamPassword != ""
}

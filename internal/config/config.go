// Package config defines the top-level configuration for the arbitrage core
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBCORE_* environment
// variables.
type Config struct {
	Venues    []VenueConfig   `toml:"venues"`
	Feed      FeedConfig      `toml:"feed"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Engine    EngineConfig    `toml:"engine"`
	Router    RouterConfig    `toml:"router"`
	Journal   JournalConfig   `toml:"journal"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// VenueConfig describes one trading venue: its normalized tick stream
// endpoint and the symbols traded there.
type VenueConfig struct {
	ID      string   `toml:"id"`
	WsURL   string   `toml:"ws_url"`
	Symbols []string `toml:"symbols"`
}

// FeedConfig holds the adapter reconnect policy shared by all venues.
type FeedConfig struct {
	BackoffBaseMs  int `toml:"backoff_base_ms"`
	BackoffMaxMs   int `toml:"backoff_max_ms"`
	MaxAttempts    int `toml:"max_attempts"`
	DialTimeoutSec int `toml:"dial_timeout_sec"`
	// TickBuffer is the capacity of the shared adapter -> aggregator channel.
	TickBuffer int `toml:"tick_buffer"`
}

// ArbitrageConfig holds detection parameters.
type ArbitrageConfig struct {
	// MinSpreadPct is the strictly-greater spread threshold in percent.
	MinSpreadPct float64 `toml:"min_spread_pct"`
	// Quantity is the fixed per-leg trade quantity.
	Quantity float64 `toml:"quantity"`
}

// EngineConfig holds execution parameters.
type EngineConfig struct {
	CallTimeoutSec int `toml:"call_timeout_sec"`
	// LaneBuffer is the capacity of each per-venue command channel.
	LaneBuffer int `toml:"lane_buffer"`
}

// RouterConfig holds event router parameters.
type RouterConfig struct {
	HeartbeatSec int `toml:"heartbeat_sec"`
}

// JournalConfig holds PostgreSQL connection parameters for the order journal.
type JournalConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	// RetentionDays is how long terminal records stay before archival.
	RetentionDays int `toml:"retention_days"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	PoolSize      int    `toml:"pool_size"`
	MaxRetries    int    `toml:"max_retries"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	CacheTTLSec   int    `toml:"cache_ttl_sec"`
	StreamMaxLen  int    `toml:"stream_max_len"`
	SignalChannel string `toml:"signal_channel"`
	SignalStream  string `toml:"signal_stream"`
}

// S3Config holds S3-compatible object storage parameters for archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds operator notification settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config with production defaults for everything that has
// a sensible one. Venue list and journal/redis endpoints have no defaults.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			BackoffBaseMs:  2000,
			BackoffMaxMs:   60000,
			MaxAttempts:    10,
			DialTimeoutSec: 15,
			TickBuffer:     1024,
		},
		Arbitrage: ArbitrageConfig{
			MinSpreadPct: 0.1,
			Quantity:     1,
		},
		Engine: EngineConfig{
			CallTimeoutSec: 5,
			LaneBuffer:     256,
		},
		Router: RouterConfig{
			HeartbeatSec: 1,
		},
		Journal: JournalConfig{
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RetentionDays: 30,
		},
		Redis: RedisConfig{
			PoolSize:      8,
			MaxRetries:    3,
			CacheTTLSec:   300,
			StreamMaxLen:  10000,
			SignalChannel: "arb:opportunities",
			SignalStream:  "arb:opportunity-log",
		},
		Mode:     "arbitrage",
		LogLevel: "info",
	}
}

// BackoffBase returns the feed backoff base as a duration.
func (f FeedConfig) BackoffBase() time.Duration {
	return time.Duration(f.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the feed backoff cap as a duration.
func (f FeedConfig) BackoffMax() time.Duration {
	return time.Duration(f.BackoffMaxMs) * time.Millisecond
}

// DialTimeout returns the feed dial bound as a duration.
func (f FeedConfig) DialTimeout() time.Duration {
	return time.Duration(f.DialTimeoutSec) * time.Second
}

// CallTimeout returns the venue call bound as a duration.
func (e EngineConfig) CallTimeout() time.Duration {
	return time.Duration(e.CallTimeoutSec) * time.Second
}

// Heartbeat returns the router heartbeat period as a duration.
func (r RouterConfig) Heartbeat() time.Duration {
	return time.Duration(r.HeartbeatSec) * time.Second
}

// KnownSymbols returns the venue id -> symbols mapping used for order
// validation.
func (c *Config) KnownSymbols() map[string][]string {
	out := make(map[string][]string, len(c.Venues))
	for _, v := range c.Venues {
		out[v.ID] = v.Symbols
	}
	return out
}

// Endpoints returns the venue id -> ws URL mapping for the dialer.
func (c *Config) Endpoints() map[string]string {
	out := make(map[string]string, len(c.Venues))
	for _, v := range c.Venues {
		out[v.ID] = v.WsURL
	}
	return out
}

// Validate checks the configuration for the configured mode.
func (c *Config) Validate() error {
	mode := strings.ToLower(c.Mode)
	switch mode {
	case "arbitrage", "monitor", "archive":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if mode != "archive" {
		if len(c.Venues) == 0 {
			return fmt.Errorf("config: at least one venue is required")
		}
		seen := make(map[string]bool, len(c.Venues))
		for i, v := range c.Venues {
			if v.ID == "" {
				return fmt.Errorf("config: venue %d: id is required", i)
			}
			if seen[v.ID] {
				return fmt.Errorf("config: duplicate venue id %q", v.ID)
			}
			seen[v.ID] = true
			if v.WsURL == "" {
				return fmt.Errorf("config: venue %s: ws_url is required", v.ID)
			}
			if len(v.Symbols) == 0 {
				return fmt.Errorf("config: venue %s: at least one symbol is required", v.ID)
			}
		}
	}

	if mode == "arbitrage" {
		if c.Arbitrage.MinSpreadPct < 0 {
			return fmt.Errorf("config: arbitrage.min_spread_pct must be >= 0")
		}
		if c.Arbitrage.Quantity <= 0 {
			return fmt.Errorf("config: arbitrage.quantity must be > 0")
		}
	}

	if mode == "archive" {
		if !c.Journal.Enabled {
			return fmt.Errorf("config: archive mode requires journal.enabled")
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("config: archive mode requires s3.bucket")
		}
	}

	if c.Journal.Enabled && c.Journal.DSN == "" && c.Journal.Host == "" {
		return fmt.Errorf("config: journal.dsn or journal.host is required when journal is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis is enabled")
	}

	return nil
}

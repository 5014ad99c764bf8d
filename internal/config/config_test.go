package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Venues = []VenueConfig{
		{ID: "venueA", WsURL: "wss://a.example.com/ws", Symbols: []string{"BTC-USD"}},
		{ID: "venueB", WsURL: "wss://b.example.com/ws", Symbols: []string{"BTC-USD"}},
	}
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "arbitrage", cfg.Mode)
	assert.Equal(t, 2*time.Second, cfg.Feed.BackoffBase())
	assert.Equal(t, time.Minute, cfg.Feed.BackoffMax())
	assert.Equal(t, 10, cfg.Feed.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Engine.CallTimeout())
	assert.Equal(t, time.Second, cfg.Router.Heartbeat())
	assert.InEpsilon(t, 0.1, cfg.Arbitrage.MinSpreadPct, 1e-9)
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.Validate())
	})

	t.Run("unsupported mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mode = "scalping"
		assert.Error(t, cfg.Validate())
	})

	t.Run("no venues", func(t *testing.T) {
		cfg := validConfig()
		cfg.Venues = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("duplicate venue id", func(t *testing.T) {
		cfg := validConfig()
		cfg.Venues[1].ID = cfg.Venues[0].ID
		assert.Error(t, cfg.Validate())
	})

	t.Run("venue without symbols", func(t *testing.T) {
		cfg := validConfig()
		cfg.Venues[0].Symbols = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		cfg := validConfig()
		cfg.Arbitrage.Quantity = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("archive requires journal and bucket", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "archive"
		assert.Error(t, cfg.Validate())

		cfg.Journal.Enabled = true
		cfg.Journal.DSN = "postgres://localhost/arb"
		cfg.S3.Bucket = "arb-archive"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("enabled journal needs endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Journal.Enabled = true
		assert.Error(t, cfg.Validate())
		cfg.Journal.Host = "localhost"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("enabled redis needs addr", func(t *testing.T) {
		cfg := validConfig()
		cfg.Redis.Enabled = true
		assert.Error(t, cfg.Validate())
		cfg.Redis.Addr = "localhost:6379"
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadAppliesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "monitor"
log_level = "debug"

[[venues]]
id = "venueA"
ws_url = "wss://a.example.com/ws"
symbols = ["BTC-USD", "ETH-USD"]

[feed]
backoff_base_ms = 500
max_attempts = 5

[arbitrage]
min_spread_pct = 0.25
quantity = 2.0

[redis]
enabled = true
addr = "localhost:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ARBCORE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("ARBCORE_MIN_SPREAD_PCT", "0.4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 500*time.Millisecond, cfg.Feed.BackoffBase())
	assert.Equal(t, 5, cfg.Feed.MaxAttempts)
	// Untouched defaults survive a partial file.
	assert.Equal(t, time.Minute, cfg.Feed.BackoffMax())

	require.Len(t, cfg.Venues, 1)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, cfg.Venues[0].Symbols)

	// Environment overrides the file.
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.InEpsilon(t, 0.4, cfg.Arbitrage.MinSpreadPct, 1e-9)

	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[feed]\nbackof_base_ms = 500\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err, "typoed keys must not be silently ignored")
}

func TestKnownSymbolsAndEndpoints(t *testing.T) {
	cfg := validConfig()
	known := cfg.KnownSymbols()
	assert.Equal(t, []string{"BTC-USD"}, known["venueA"])
	assert.Equal(t, []string{"BTC-USD"}, known["venueB"])

	eps := cfg.Endpoints()
	assert.Equal(t, "wss://a.example.com/ws", eps["venueA"])
}

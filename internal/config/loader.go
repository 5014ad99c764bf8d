package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path on top of Defaults, then applies
// ARBCORE_* environment overrides. A .env file in the working directory is
// loaded first so local runs can keep credentials out of the config file.
func Load(path string) (*Config, error) {
	// Missing .env is fine; it only matters for local development.
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv overrides selected fields from the environment. Only secrets and
// deployment-specific endpoints are overridable; structural settings stay in
// the file.
func applyEnv(cfg *Config) {
	setString(&cfg.Mode, "ARBCORE_MODE")
	setString(&cfg.LogLevel, "ARBCORE_LOG_LEVEL")

	setString(&cfg.Journal.DSN, "ARBCORE_POSTGRES_DSN")
	setString(&cfg.Journal.Host, "ARBCORE_POSTGRES_HOST")
	setInt(&cfg.Journal.Port, "ARBCORE_POSTGRES_PORT")
	setString(&cfg.Journal.Database, "ARBCORE_POSTGRES_DB")
	setString(&cfg.Journal.User, "ARBCORE_POSTGRES_USER")
	setString(&cfg.Journal.Password, "ARBCORE_POSTGRES_PASSWORD")

	setString(&cfg.Redis.Addr, "ARBCORE_REDIS_ADDR")
	setString(&cfg.Redis.Password, "ARBCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBCORE_REDIS_DB")

	setString(&cfg.S3.Endpoint, "ARBCORE_S3_ENDPOINT")
	setString(&cfg.S3.Region, "ARBCORE_S3_REGION")
	setString(&cfg.S3.Bucket, "ARBCORE_S3_BUCKET")
	setString(&cfg.S3.AccessKey, "ARBCORE_S3_ACCESS_KEY")
	setString(&cfg.S3.SecretKey, "ARBCORE_S3_SECRET_KEY")

	setString(&cfg.Notify.TelegramToken, "ARBCORE_TELEGRAM_TOKEN")
	setString(&cfg.Notify.TelegramChatID, "ARBCORE_TELEGRAM_CHAT_ID")
	setString(&cfg.Notify.DiscordWebhookURL, "ARBCORE_DISCORD_WEBHOOK_URL")

	setFloat(&cfg.Arbitrage.MinSpreadPct, "ARBCORE_MIN_SPREAD_PCT")
	setFloat(&cfg.Arbitrage.Quantity, "ARBCORE_QUANTITY")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

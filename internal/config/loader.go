package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, loads a .env file if present, and applies VAULT_* environment
// overrides. The result is not validated; call Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "VAULT_MODE")
	setStr(&cfg.LogLevel, "VAULT_LOG_LEVEL")
	setStr(&cfg.Admin, "VAULT_ADMIN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VAULT_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "VAULT_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "VAULT_POSTGRES_MAX_IDLE_CONNS")
	setDuration(&cfg.Postgres.ConnLifetime, "VAULT_POSTGRES_CONN_LIFETIME")
	setStr(&cfg.Postgres.MigrationsDir, "VAULT_MIGRATIONS_DIR")

	// ── NATS ──
	setStr(&cfg.NATS.URL, "VAULT_NATS_URL")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULT_REDIS_DB")
	setStr(&cfg.Redis.LeaseKey, "VAULT_REDIS_LEASE_KEY")
	setDuration(&cfg.Redis.LeaseTTL, "VAULT_REDIS_LEASE_TTL")
	setDuration(&cfg.Redis.LeaseRenew, "VAULT_REDIS_LEASE_RENEW")
	setDuration(&cfg.Redis.AcquireWait, "VAULT_REDIS_ACQUIRE_WAIT")

	// ── Server ──
	setStr(&cfg.Server.GRPCAddr, "VAULT_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "VAULT_HTTP_ADDR")

	// ── Curve ──
	setInt64(&cfg.Curve.UnitTick, "VAULT_CURVE_UNIT_TICK")
	setInt64(&cfg.Curve.FeeRate, "VAULT_CURVE_FEE_RATE")
	setInt64(&cfg.Curve.MinRate, "VAULT_CURVE_MIN_RATE")
	setInt64(&cfg.Curve.MaxRate, "VAULT_CURVE_MAX_RATE")

	// ── Harvest ──
	setBool(&cfg.Harvest.Enabled, "VAULT_HARVEST_ENABLED")
	setStr(&cfg.Harvest.Schedule, "VAULT_HARVEST_SCHEDULE")
	setInt64(&cfg.Harvest.Amount, "VAULT_HARVEST_AMOUNT")
	setStr(&cfg.Harvest.ResyncSchedule, "VAULT_HARVEST_RESYNC_SCHEDULE")

	// ── Persistence ──
	setInt(&cfg.Persistence.BatchSize, "VAULT_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Persistence.FlushTimeout, "VAULT_PERSIST_FLUSH_TIMEOUT")
	setInt64(&cfg.Persistence.SnapshotInterval, "VAULT_SNAPSHOT_INTERVAL")
	setInt(&cfg.Persistence.PersistChanSize, "VAULT_PERSIST_CHAN_SIZE")
	setInt(&cfg.Persistence.ProjectionChanSize, "VAULT_PROJECTION_CHAN_SIZE")
	setInt(&cfg.Persistence.CommandChanSize, "VAULT_COMMAND_CHAN_SIZE")
	setInt(&cfg.Persistence.LRUCapacity, "VAULT_IDEMPOTENCY_LRU_CAPACITY")
	setInt64(&cfg.Persistence.FullCheckInterval, "VAULT_FULL_CHECK_INTERVAL")

	// ── Standalone ──
	setPrices(&cfg.Standalone.Prices, "VAULT_STANDALONE_PRICES")
	setInt64(&cfg.Standalone.Faucet, "VAULT_STANDALONE_FAUCET")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setPrices parses "USD=1000000,ETH=2500000000". Malformed pairs are skipped;
// a variable with no valid pair leaves dst untouched.
func setPrices(dst *map[string]int64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	prices := make(map[string]int64)
	for _, pair := range strings.Split(v, ",") {
		asset, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || asset == "" {
			continue
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			prices[asset] = n
		}
	}
	if len(prices) > 0 {
		*dst = prices
	}
}

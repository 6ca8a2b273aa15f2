package infra

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// CSVFieldRule overrides the alias list of one canonical CSV field.
type CSVFieldRule struct {
	Field   string   `yaml:"field"`
	Aliases []string `yaml:"aliases"`
}

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 접속 정보를 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr"`
		PprofAddr       string `yaml:"pprof_addr"` // empty disables pprof
		ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
		WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	} `yaml:"server"`

	Store struct {
		Backend     string `yaml:"backend"`
		SQLitePath  string `yaml:"sqlite_path"` // relative paths resolve under the workspace data dir
		PostgresDSN string `yaml:"postgres_dsn"`
		RedisURL    string `yaml:"redis_url"`
		SnapshotDir string `yaml:"snapshot_dir"` // memory backend only; empty disables
	} `yaml:"store"`

	Reservation struct {
		TTLSec            int `yaml:"ttl_sec"`
		RetentionGraceSec int `yaml:"retention_grace_sec"`
		MaxCASRetries     int `yaml:"max_cas_retries"`
		RetryBaseMS       int `yaml:"retry_base_ms"`
		RetryMaxMS        int `yaml:"retry_max_ms"`
	} `yaml:"reservation"`

	Sweeper struct {
		IntervalSec int `yaml:"interval_sec"`
		BatchSize   int `yaml:"batch_size"`
	} `yaml:"sweeper"`

	Alerts struct {
		DefaultThreshold int64 `yaml:"default_threshold"`
	} `yaml:"alerts"`

	RateLimit struct {
		ReserveBurst     int     `yaml:"reserve_burst"`
		ReservePerSecond float64 `yaml:"reserve_per_second"`
	} `yaml:"rate_limit"`

	ERP struct {
		FailureThreshold  int     `yaml:"failure_threshold"`
		OpenTimeoutSec    int     `yaml:"open_timeout_sec"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
	} `yaml:"erp"`

	Audit struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"audit"`

	CSV struct {
		Rules []CSVFieldRule `yaml:"rules"` // empty keeps the built-in alias table
	} `yaml:"csv"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"logging"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "inventory-go"
	cfg.App.Version = "0.1.0"

	cfg.Server.Addr = ":8080"
	cfg.Server.PprofAddr = "localhost:6060"
	cfg.Server.ReadTimeoutSec = 10
	cfg.Server.WriteTimeoutSec = 15

	cfg.Store.Backend = BackendMemory
	cfg.Store.SQLitePath = "stock.db"

	cfg.Reservation.TTLSec = 900
	cfg.Reservation.RetentionGraceSec = 3600
	cfg.Reservation.MaxCASRetries = 8
	cfg.Reservation.RetryBaseMS = 2
	cfg.Reservation.RetryMaxMS = 100

	cfg.Sweeper.IntervalSec = 30
	cfg.Sweeper.BatchSize = 200

	cfg.Alerts.DefaultThreshold = 5

	cfg.RateLimit.ReserveBurst = 100
	cfg.RateLimit.ReservePerSecond = 200

	cfg.ERP.FailureThreshold = 5
	cfg.ERP.OpenTimeoutSec = 30
	cfg.ERP.RequestsPerSecond = 5

	cfg.Audit.Path = "audit.db"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
// A missing file yields DefaultConfig; keys absent from the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Using fmt instead of slog: the logger is built from this config.
		fmt.Printf("⚠️  Config file not found at %s, using defaults\n", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		warnInlineCredentials(cfg)
	}

	// 환경 변수가 설정 파일보다 우선합니다.
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres backend")
		}
	case BackendRedis:
		if !strings.HasPrefix(c.Store.RedisURL, "redis://") && !strings.HasPrefix(c.Store.RedisURL, "rediss://") {
			return fmt.Errorf("invalid redis url: %q", c.Store.RedisURL)
		}
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if c.Reservation.TTLSec <= 0 {
		return fmt.Errorf("reservation ttl must be positive")
	}
	if c.Reservation.RetentionGraceSec < 0 {
		return fmt.Errorf("reservation retention grace must not be negative")
	}
	if c.Reservation.MaxCASRetries < 1 {
		return fmt.Errorf("max_cas_retries must be at least 1")
	}
	if c.Reservation.RetryBaseMS < 0 || c.Reservation.RetryMaxMS < c.Reservation.RetryBaseMS {
		return fmt.Errorf("retry delays must satisfy 0 <= retry_base_ms <= retry_max_ms")
	}
	if c.Sweeper.IntervalSec <= 0 {
		return fmt.Errorf("sweeper interval must be positive")
	}
	if c.Sweeper.BatchSize <= 0 {
		return fmt.Errorf("sweeper batch size must be positive")
	}
	if c.Alerts.DefaultThreshold < 0 {
		return fmt.Errorf("default low-stock threshold must not be negative")
	}
	if c.RateLimit.ReserveBurst <= 0 || c.RateLimit.ReservePerSecond <= 0 {
		return fmt.Errorf("reserve rate limit must be positive")
	}
	if c.ERP.FailureThreshold <= 0 || c.ERP.RequestsPerSecond <= 0 {
		return fmt.Errorf("erp breaker threshold and rate must be positive")
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required when audit is enabled")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.Reservation.TTLSec) * time.Second
}

func (c *Config) RetentionGrace() time.Duration {
	return time.Duration(c.Reservation.RetentionGraceSec) * time.Second
}

func (c *Config) RetryBackoff() Backoff {
	return Backoff{
		Base: time.Duration(c.Reservation.RetryBaseMS) * time.Millisecond,
		Max:  time.Duration(c.Reservation.RetryMaxMS) * time.Millisecond,
	}
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalSec) * time.Second
}

// warnInlineCredentials flags passwords committed to the config file.
func warnInlineCredentials(cfg *Config) {
	if hasURLPassword(cfg.Store.PostgresDSN) || strings.Contains(strings.ToLower(cfg.Store.PostgresDSN), "password=") ||
		hasURLPassword(cfg.Store.RedisURL) {
		fmt.Println("⚠️  SECURITY WARNING: store credentials found in config file.")
		fmt.Println("   Recommendation: Use environment variables instead:")
		fmt.Println("   - INVENTORY_POSTGRES_DSN, INVENTORY_REDIS_URL")
	}
}

func hasURLPassword(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return false
	}
	_, ok := u.User.Password()
	return ok
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("INVENTORY_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("INVENTORY_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("INVENTORY_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("INVENTORY_REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("INVENTORY_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("INVENTORY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

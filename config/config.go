package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values come from environment
// variables (optionally via .env) and may be overridden by the YAML file named
// in CONFIG_FILE.
type Config struct {
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`
	PostgresEnabled  bool   `yaml:"postgres_enabled"`

	MarketBaseURL string        `yaml:"market_base_url"`
	MarketToken   string        `yaml:"market_token"`
	MarketTimeout time.Duration `yaml:"market_timeout"`

	ThermosBaseURL   string        `yaml:"thermos_base_url"`
	ThermosTransport string        `yaml:"thermos_transport"`
	ThermosTimeout   time.Duration `yaml:"thermos_timeout"`
	ChromeBin        string        `yaml:"chrome_bin"`

	ScanMode                 string        `yaml:"scan_mode"`
	PageLimit                int           `yaml:"page_limit"`
	MaxPagesPerGift          int           `yaml:"max_pages_per_gift"`
	MaxConcurrency           int           `yaml:"max_concurrency"`
	MaxRequestsPerCollection int           `yaml:"max_requests_per_collection"`
	RateLimitMs              int           `yaml:"rate_limit_ms"`
	MaxRetries               int           `yaml:"max_retries"`
	RetryBaseDelay           time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay            time.Duration `yaml:"retry_max_delay"`
	RateLimitPadding         time.Duration `yaml:"rate_limit_padding"`
	CheckpointRows           int           `yaml:"checkpoint_rows"`
	CheckpointInterval       time.Duration `yaml:"checkpoint_interval"`
	Collections              []string      `yaml:"collections"`

	JSONOutputPath    string `yaml:"json_output_path"`
	ThermosOutputPath string `yaml:"thermos_output_path"`
	CSVOutputPath     string `yaml:"csv_output_path"`

	Schedule      string `yaml:"schedule"`
	DashboardAddr string `yaml:"dashboard_addr"`
	LogLevel      string `yaml:"log_level"`
}

// Load reads the .env file, then the environment, then the optional YAML
// overlay, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := FromEnv()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() *Config {
	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "gift_floors"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresEnabled:  getEnvBool("POSTGRES_ENABLED", false),

		MarketBaseURL: getEnv("MARKET_BASE_URL", "http://127.0.0.1:8088/tdlib"),
		MarketToken:   getEnv("MARKET_TOKEN", ""),
		MarketTimeout: getEnvDuration("MARKET_TIMEOUT", 30*time.Second),

		ThermosBaseURL:   getEnv("THERMOS_BASE_URL", "https://proxy.thermos.gifts"),
		ThermosTransport: getEnv("THERMOS_TRANSPORT", "http"),
		ThermosTimeout:   getEnvDuration("THERMOS_TIMEOUT", 60*time.Second),
		ChromeBin:        getEnv("CHROME_BIN", ""),

		ScanMode:                 getEnv("SCAN_MODE", "scan"),
		PageLimit:                getEnvInt("PAGE_LIMIT", 200),
		MaxPagesPerGift:          getEnvInt("MAX_PAGES_PER_GIFT", 200),
		MaxConcurrency:           getEnvInt("MAX_CONCURRENCY", 3),
		MaxRequestsPerCollection: getEnvInt("MAX_REQUESTS_PER_COLLECTION", 5),
		RateLimitMs:              getEnvInt("RATE_LIMIT_MS", 0),
		MaxRetries:               getEnvInt("MAX_RETRIES", 5),
		RetryBaseDelay:           getEnvDuration("RETRY_BASE_DELAY", 1500*time.Millisecond),
		RetryMaxDelay:            getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
		RateLimitPadding:         getEnvDuration("RATE_LIMIT_PADDING", time.Second),
		CheckpointRows:           getEnvInt("CHECKPOINT_ROWS", 50),
		CheckpointInterval:       getEnvDuration("CHECKPOINT_INTERVAL", 30*time.Second),
		Collections:              getEnvList("COLLECTIONS"),

		JSONOutputPath:    getEnv("JSON_OUTPUT_PATH", "./output/market_floors.json"),
		ThermosOutputPath: getEnv("THERMOS_OUTPUT_PATH", "./output/thermos_floors.json"),
		CSVOutputPath:     getEnv("CSV_OUTPUT_PATH", ""),

		Schedule:      getEnv("SCHEDULE", ""),
		DashboardAddr: getEnv("DASHBOARD_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// LoadFile overlays the keys present in a YAML file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ScanMode != "scan" && c.ScanMode != "verify" {
		return fmt.Errorf("config: invalid scan mode %q (want scan or verify)", c.ScanMode)
	}
	if c.ThermosTransport != "http" && c.ThermosTransport != "browser" {
		return fmt.Errorf("config: invalid thermos transport %q (want http or browser)", c.ThermosTransport)
	}
	positive := map[string]int{
		"PAGE_LIMIT":                  c.PageLimit,
		"MAX_PAGES_PER_GIFT":          c.MaxPagesPerGift,
		"MAX_CONCURRENCY":             c.MaxConcurrency,
		"MAX_REQUESTS_PER_COLLECTION": c.MaxRequestsPerCollection,
		"MAX_RETRIES":                 c.MaxRetries,
		"CHECKPOINT_ROWS":             c.CheckpointRows,
	}
	for key, v := range positive {
		if v < 1 {
			return fmt.Errorf("config: %s must be positive, got %d", key, v)
		}
	}
	if c.RateLimitMs < 0 {
		return fmt.Errorf("config: RATE_LIMIT_MS must not be negative, got %d", c.RateLimitMs)
	}
	if c.MarketBaseURL == "" {
		return fmt.Errorf("config: MARKET_BASE_URL is required")
	}
	if c.JSONOutputPath == "" {
		return fmt.Errorf("config: JSON_OUTPUT_PATH is required")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30s") or plain milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultGSOLMint         = "gso1xA56hacfgTHTF4F7wN5r4jbnJsKh99vR595uybA"
	DefaultSunriseProgramID = "sunzv8N3A8dRHwUBvxgRDEbWKk8t7yiHR4FLRgFsTX6"
)

// Config holds all application configuration loaded from environment variables.
// Required fields are validated at startup so misconfiguration fails fast.
type Config struct {
	// Server configuration
	ServerAddr       string
	LogLevel         string
	WebhookAuthToken string
	WebhookTimeout   time.Duration

	// Database configuration
	DatabaseURL string

	// Chain configuration
	GSOLMintAddress  string
	SunriseProgramID string
	SolanaRPCURLs    []string
	SolanaRPCRPS     float64

	// Graph query configuration
	MaxGraphDegree     int
	DefaultGraphDegree int
	GraphQueryTimeout  time.Duration

	// NATS configuration
	NATSEnabled bool
	NATSURL     string

	// Temporal configuration
	TemporalEnabled    bool
	TemporalHost       string
	TemporalNamespace  string
	TemporalTaskQueue  string
	TemporalResultWait time.Duration
}

// Load reads configuration from the environment, after merging in a .env file
// from the working directory when one exists. All validation errors are
// reported together.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{}
	var errs []error
	var err error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.WebhookAuthToken = os.Getenv("WEBHOOK_AUTH_TOKEN")
	if cfg.WebhookAuthToken == "" {
		errs = append(errs, fmt.Errorf("WEBHOOK_AUTH_TOKEN is required"))
	}

	if cfg.WebhookTimeout, err = parseDuration("WEBHOOK_TIMEOUT", "30s"); err != nil {
		errs = append(errs, err)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.GSOLMintAddress = getEnvOrDefault("GSOL_MINT_ADDRESS", DefaultGSOLMint)
	cfg.SunriseProgramID = getEnvOrDefault("SUNRISE_PROGRAM_ID", DefaultSunriseProgramID)
	cfg.SolanaRPCURLs = splitList(getEnvOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"))

	rps, err := parseFloat("SOLANA_RPC_RPS", 5)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SolanaRPCRPS = rps
	}

	if cfg.MaxGraphDegree, err = parseInt("MAX_GRAPH_DEGREE", 6); err != nil {
		errs = append(errs, err)
	}
	if cfg.DefaultGraphDegree, err = parseInt("DEFAULT_GRAPH_DEGREE", 2); err != nil {
		errs = append(errs, err)
	}
	if cfg.GraphQueryTimeout, err = parseDuration("GRAPH_QUERY_TIMEOUT", "60s"); err != nil {
		errs = append(errs, err)
	}

	if cfg.NATSEnabled, err = parseBool("NATS_ENABLED", false); err != nil {
		errs = append(errs, err)
	}
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	if cfg.TemporalEnabled, err = parseBool("TEMPORAL_ENABLED", false); err != nil {
		errs = append(errs, err)
	}
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "gsoltrack-ingest")
	if cfg.TemporalResultWait, err = parseDuration("TEMPORAL_RESULT_WAIT", "10s"); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("configuration validation failed: %v", errs)
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints. Useful for configs built in code.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}
	if c.WebhookAuthToken == "" {
		errs = append(errs, fmt.Errorf("WebhookAuthToken is required"))
	}
	if c.MaxGraphDegree < 0 {
		errs = append(errs, fmt.Errorf("MaxGraphDegree must not be negative"))
	}
	if c.DefaultGraphDegree < 0 || c.DefaultGraphDegree > c.MaxGraphDegree {
		errs = append(errs, fmt.Errorf("DefaultGraphDegree (%d) must be between 0 and MaxGraphDegree (%d)",
			c.DefaultGraphDegree, c.MaxGraphDegree))
	}
	if c.GraphQueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GraphQueryTimeout must be positive"))
	}
	if c.WebhookTimeout <= 0 {
		errs = append(errs, fmt.Errorf("WebhookTimeout must be positive"))
	}
	if c.TemporalEnabled && (c.TemporalResultWait <= 0 || c.TemporalResultWait >= c.WebhookTimeout) {
		errs = append(errs, fmt.Errorf("TemporalResultWait (%s) must be positive and shorter than WebhookTimeout (%s)",
			c.TemporalResultWait, c.WebhookTimeout))
	}
	if c.SolanaRPCRPS < 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCRPS must not be negative"))
	}
	if c.TemporalEnabled && (c.TemporalHost == "" || c.TemporalNamespace == "" || c.TemporalTaskQueue == "") {
		errs = append(errs, fmt.Errorf("TemporalHost, TemporalNamespace and TemporalTaskQueue are required when Temporal is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

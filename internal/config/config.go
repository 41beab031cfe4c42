// Package config handles loading and validating configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Ledger backends for monthly spend.
const (
	LedgerBackendPostgres = "postgres"
	LedgerBackendRedis    = "redis"
)

// Config holds all configuration for Sage.
type Config struct {
	// Server
	Port           string
	LogLevel       string
	AllowedOrigins []string

	// Management API
	AdminAPIKey string // Required for /api/v1 endpoints; empty = admin routes disabled

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Cost governance
	LedgerBackend         string
	CostLimitsEnabled     bool
	MaxCostPerRequest     float64
	MaxDailyCostPerUser   float64
	MaxTotalDailyCost     float64
	DefaultMonthlyLimit   float64
	InputCostPerMTok      float64
	OutputCostPerMTok     float64
	OutputTokenBudget     int64
	BudgetFailOpen        bool // If true, allow requests when monthly spend is unreadable
	MaxContextExchanges   int
	RateLimitPerMinute    int64
	SynthesisMinExchanges int

	// Model provider (key held in memory, never stored)
	AnthropicKey     string
	AnthropicBaseURL string
	AnalysisModel    string
	SynthesisModel   string
}

// LoadDotEnv seeds the environment from path if the file exists. Variables
// already set in the environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("SAGE_PORT", "8080"),
		LogLevel:       getEnv("SAGE_LOG_LEVEL", "info"),
		AllowedOrigins: splitList(getEnv("SAGE_CORS_ORIGINS", "*")),

		AdminAPIKey: os.Getenv("SAGE_ADMIN_API_KEY"),

		DBHost:     getEnv("POSTGRES_HOST", "localhost"),
		DBName:     getEnv("POSTGRES_DB", "sage"),
		DBUser:     getEnv("POSTGRES_USER", "sage"),
		DBPassword: getEnv("POSTGRES_PASSWORD", ""),
		DBSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		LedgerBackend: strings.ToLower(getEnv("SAGE_LEDGER_BACKEND", LedgerBackendPostgres)),

		AnthropicKey:     os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnalysisModel:    getEnv("SAGE_ANALYSIS_MODEL", "claude-sonnet-4-5"),
		SynthesisModel:   getEnv("SAGE_SYNTHESIS_MODEL", "claude-opus-4-1"),
	}

	var err error
	if cfg.DBPort, err = getInt("POSTGRES_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.RedisPort, err = getInt("REDIS_PORT", 6379); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	if cfg.CostLimitsEnabled, err = getBool("SAGE_COST_LIMITS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.BudgetFailOpen, err = getBool("SAGE_BUDGET_FAIL_OPEN", true); err != nil {
		return nil, err
	}
	if cfg.MaxCostPerRequest, err = getFloat("SAGE_MAX_COST_PER_REQUEST", 1.00); err != nil {
		return nil, err
	}
	if cfg.MaxDailyCostPerUser, err = getFloat("SAGE_MAX_DAILY_COST_PER_USER", 10.00); err != nil {
		return nil, err
	}
	if cfg.MaxTotalDailyCost, err = getFloat("SAGE_MAX_TOTAL_DAILY_COST", 100.00); err != nil {
		return nil, err
	}
	if cfg.DefaultMonthlyLimit, err = getFloat("SAGE_DEFAULT_MONTHLY_LIMIT", 20.00); err != nil {
		return nil, err
	}
	if cfg.InputCostPerMTok, err = getFloat("SAGE_INPUT_COST_PER_MTOK", 3.00); err != nil {
		return nil, err
	}
	if cfg.OutputCostPerMTok, err = getFloat("SAGE_OUTPUT_COST_PER_MTOK", 15.00); err != nil {
		return nil, err
	}

	budget, err := getInt("SAGE_OUTPUT_TOKEN_BUDGET", 4000)
	if err != nil {
		return nil, err
	}
	cfg.OutputTokenBudget = int64(budget)
	if cfg.MaxContextExchanges, err = getInt("SAGE_MAX_CONTEXT_EXCHANGES", 10); err != nil {
		return nil, err
	}
	if cfg.SynthesisMinExchanges, err = getInt("SAGE_SYNTHESIS_MIN_EXCHANGES", 2); err != nil {
		return nil, err
	}
	rate, err := getInt("SAGE_RATE_LIMIT_PER_MINUTE", 60)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitPerMinute = int64(rate)

	return cfg, nil
}

// Validate rejects configurations that cannot serve requests.
func (c *Config) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"SAGE_MAX_COST_PER_REQUEST":    c.MaxCostPerRequest,
		"SAGE_MAX_DAILY_COST_PER_USER": c.MaxDailyCostPerUser,
		"SAGE_MAX_TOTAL_DAILY_COST":    c.MaxTotalDailyCost,
		"SAGE_DEFAULT_MONTHLY_LIMIT":   c.DefaultMonthlyLimit,
		"SAGE_INPUT_COST_PER_MTOK":     c.InputCostPerMTok,
		"SAGE_OUTPUT_COST_PER_MTOK":    c.OutputCostPerMTok,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", name, v))
		}
	}
	if c.OutputTokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("SAGE_OUTPUT_TOKEN_BUDGET must be positive, got %d", c.OutputTokenBudget))
	}
	if c.MaxContextExchanges <= 0 {
		errs = append(errs, fmt.Errorf("SAGE_MAX_CONTEXT_EXCHANGES must be positive, got %d", c.MaxContextExchanges))
	}
	if c.SynthesisMinExchanges < 0 {
		errs = append(errs, fmt.Errorf("SAGE_SYNTHESIS_MIN_EXCHANGES must not be negative, got %d", c.SynthesisMinExchanges))
	}
	switch c.LedgerBackend {
	case LedgerBackendPostgres, LedgerBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("SAGE_LEDGER_BACKEND must be %q or %q, got %q",
			LedgerBackendPostgres, LedgerBackendRedis, c.LedgerBackend))
	}
	if c.AnalysisModel == "" {
		errs = append(errs, errors.New("SAGE_ANALYSIS_MODEL must be set"))
	}
	return errors.Join(errs...)
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.sslMode())
}

// RedactedDSN returns the DSN with the password masked for safe logging.
func (c *Config) RedactedDSN() string {
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.sslMode())
}

func (c *Config) sslMode() string {
	if c.DBSSLMode == "" {
		return "disable"
	}
	return c.DBSSLMode
}

// RedisAddr returns the Redis address in host:port format.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// SSOT: every environment variable is read here and nowhere else.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Input data files (prebuilt panels from the upstream pipeline)
	Data DataConfig

	// Logging
	LogLevel  string
	LogFormat string

	// API
	API APIConfig
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DataConfig holds paths to the input panels consumed read-only by the
// simulation. All series are loaded once upfront; there is no I/O inside
// the simulation loop.
type DataConfig struct {
	PricePanelPath       string // date,ticker,close[,logret]
	SignalPanelPath      string // date,ticker,x
	CalendarPath         string // date
	RiskFreePath         string // date,rate
	CorporateActionsPath string // ticker,ex_date,factor,action_type
	RuleFlagsPath        string // date,ticker,any_rule,strong_rule
	OutputDir            string
}

// APIConfig holds the read-only results API settings
type APIConfig struct {
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables.
// SSOT: only this function calls os.Getenv().
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8091"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Data: DataConfig{
			PricePanelPath:       getEnv("DATA_PRICE_PANEL", "data/price_panel.csv"),
			SignalPanelPath:      getEnv("DATA_SIGNAL_PANEL", "data/signal_panel.csv"),
			CalendarPath:         getEnv("DATA_CALENDAR", "data/calendar.csv"),
			RiskFreePath:         getEnv("DATA_RISKFREE", "data/riskfree_daily.csv"),
			CorporateActionsPath: getEnv("DATA_CORPORATE_ACTIONS", "data/corporate_actions.csv"),
			RuleFlagsPath:        getEnv("DATA_RULE_FLAGS", "data/rule_flags.csv"),
			OutputDir:            getEnv("DATA_OUTPUT_DIR", "output"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		API: APIConfig{
			RateLimitPerSecond: getEnvAsFloat("API_RATE_LIMIT_RPS", 20),
			RateLimitBurst:     getEnvAsInt("API_RATE_LIMIT_BURST", 40),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}
	return nil
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

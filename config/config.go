package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL  string
	DatabaseName string

	// Ledger configuration
	EntryLifetime time.Duration // How long a credited entry stays spendable; zero means one calendar year
	MaxTxAttempts int           // Attempts per operation on conflicts or transient storage errors
	LockTimeout   time.Duration // Upper bound on waiting for a profile row lock

	// Merit/level configuration
	AdminUserIDs  []uuid.UUID // Users allowed to award merits and resolve disputes
	LevelCostStep int64       // Amount a level cost grows by after each use
	MaxTarotLevel int

	// NATS configuration
	NATSServers       string // Comma-separated; empty disables event forwarding
	NATSSubjectPrefix string

	// Dispute alerts
	DiscordToken          string
	DiscordAlertChannelID string

	// Operations
	MetricsAddr       string // Empty disables the metrics listener
	SweepSchedule     string // Cron spec for the expiry sweep
	OverdueSchedule   string // Cron spec for the overdue escrow check
	ReconcileSchedule string // Cron spec for the cached balance reconciliation

	// Environment
	Environment string // "development", "production" or "test"
	LogLevel    string
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the global configuration instance
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	})
	return instance
}

// SetForTesting replaces the global instance
func SetForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// NewTestConfig returns the defaults with validation skipped
func NewTestConfig() *Config {
	cfg := defaults()
	cfg.Environment = "test"
	return cfg
}

// IsAdmin checks whether a user may award merits and resolve disputes
func (c *Config) IsAdmin(userID uuid.UUID) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func defaults() *Config {
	return &Config{
		MaxTxAttempts:     3,
		LockTimeout:       5 * time.Second,
		LevelCostStep:     1,
		MaxTarotLevel:     21,
		NATSSubjectPrefix: "palomas",
		MetricsAddr:       ":9090",
		SweepSchedule:     "@hourly",
		OverdueSchedule:   "0 9 * * *",
		ReconcileSchedule: "@daily",
		LogLevel:          "info",
	}
}

// load loads configuration from environment variables
func load() (*Config, error) {
	envFile := getEnvWithDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warnf("Could not load env file %s", envFile)
	}

	config := defaults()
	config.DatabaseURL = os.Getenv("DATABASE_URL")
	config.DatabaseName = os.Getenv("DATABASE_NAME")
	config.NATSServers = os.Getenv("NATS_SERVERS")
	config.DiscordToken = os.Getenv("DISCORD_TOKEN")
	config.DiscordAlertChannelID = os.Getenv("DISCORD_ALERT_CHANNEL_ID")
	config.Environment = os.Getenv("ENVIRONMENT")

	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		config.MetricsAddr = v
	}
	config.NATSSubjectPrefix = getEnvWithDefault("NATS_SUBJECT_PREFIX", config.NATSSubjectPrefix)
	config.SweepSchedule = getEnvWithDefault("SWEEP_SCHEDULE", config.SweepSchedule)
	config.OverdueSchedule = getEnvWithDefault("OVERDUE_SCHEDULE", config.OverdueSchedule)
	config.ReconcileSchedule = getEnvWithDefault("RECONCILE_SCHEDULE", config.ReconcileSchedule)
	config.LogLevel = getEnvWithDefault("LOG_LEVEL", config.LogLevel)

	if attempts := os.Getenv("MAX_TX_ATTEMPTS"); attempts != "" {
		if parsed, err := strconv.Atoi(attempts); err == nil && parsed > 0 {
			config.MaxTxAttempts = parsed
		}
	}
	if timeout := os.Getenv("LOCK_TIMEOUT"); timeout != "" {
		if parsed, err := time.ParseDuration(timeout); err == nil && parsed > 0 {
			config.LockTimeout = parsed
		}
	}
	if lifetime := os.Getenv("ENTRY_LIFETIME"); lifetime != "" {
		if parsed, err := time.ParseDuration(lifetime); err == nil && parsed > 0 {
			config.EntryLifetime = parsed
		}
	}
	if step := os.Getenv("LEVEL_COST_STEP"); step != "" {
		if parsed, err := strconv.ParseInt(step, 10, 64); err == nil && parsed >= 0 {
			config.LevelCostStep = parsed
		}
	}

	// Parse admin user IDs
	if adminIDs := os.Getenv("ADMIN_USER_IDS"); adminIDs != "" {
		for _, idStr := range strings.Split(adminIDs, ",") {
			idStr = strings.TrimSpace(idStr)
			if idStr == "" {
				continue
			}
			id, err := uuid.Parse(idStr)
			if err != nil {
				return nil, fmt.Errorf("invalid ADMIN_USER_IDS entry %q: %w", idStr, err)
			}
			config.AdminUserIDs = append(config.AdminUserIDs, id)
		}
	}

	// Set default environment if not specified
	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		if (config.DiscordToken == "") != (config.DiscordAlertChannelID == "") {
			return nil, fmt.Errorf("DISCORD_TOKEN and DISCORD_ALERT_CHANNEL_ID must be set together")
		}
	}

	return config, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

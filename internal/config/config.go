package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env            string        // application environment (e.g. "dev", "prod")
	Port           string        // HTTP port to listen on
	Storage        string        // "mysql" or "memory"
	DBUser         string        // database username
	DBPass         string        // database password (optional)
	DBHost         string        // database host address
	DBPort         string        // database port number
	DBName         string        // database name
	DBAutoMigrate  bool          // apply the embedded schema at startup
	JWTSecret      string        // secret used to verify merchant JWTs
	CronSecretHash string        // bcrypt hash of the cron trigger secret
	AMQPURL        string        // RabbitMQ URL; empty disables publishing
	AMQPDial       time.Duration // connect and handshake timeout for the broker
	Logger         LoggerConfig
	Moderation     ModerationConfig
	Automation     AutomationConfig
}

// LoggerConfig drives the zap logger.
type LoggerConfig struct {
	Level    string // debug, info, warn, error
	Encoding string // json or console
}

// ModerationConfig tunes the visit service.
type ModerationConfig struct {
	BulkMaxVisits   int
	WriteTimeout    time.Duration
	QueueLimit      int
	DefaultDailyCap int
	LockTTL         time.Duration
}

// AutomationConfig tunes the daily sweep.
type AutomationConfig struct {
	InactiveAfterDays   int
	RewardWaitDays      int
	RewardDedupWindow   time.Duration
	LogRetention        time.Duration
	MerchantConcurrency int
	LockTTL             time.Duration // expiry of a crashed sweep's locks; held locks are renewed
}

// Load reads configuration values from environment variables.  Required
// variables are enforced by must() and a missing value stops the program.
// Database variables are only required when STORAGE=mysql.
func Load() Config {
	cfg := Config{
		Env:            must("APP_ENV"),
		Port:           envStr("APP_PORT", "8080"),
		Storage:        envStr("STORAGE", "mysql"),
		JWTSecret:      must("JWT_SECRET"),
		CronSecretHash: must("CRON_SECRET_HASH"),
		AMQPURL:        amqpURL(),
		AMQPDial:       envDur("AMQP_DIAL_TIMEOUT", 3*time.Second),
		Logger: LoggerConfig{
			Level:    envStr("LOGGER_LEVEL", "info"),
			Encoding: envStr("LOGGER_ENCODING", "json"),
		},
		Moderation: LoadModerationConfig(),
		Automation: LoadAutomationConfig(),
	}
	if cfg.Storage == "mysql" {
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
		cfg.DBAutoMigrate = envBool("DB_AUTO_MIGRATE", false)
	}
	return cfg
}

// LoadModerationConfig reads the moderation settings with defaults.
func LoadModerationConfig() ModerationConfig {
	return ModerationConfig{
		BulkMaxVisits:   envInt("BULK_MAX_VISITS", 500),
		WriteTimeout:    envDur("MODERATION_WRITE_TIMEOUT", 15*time.Second),
		QueueLimit:      envInt("MODERATION_QUEUE_LIMIT", 200),
		DefaultDailyCap: envInt("QUARANTINE_DAILY_CAP", 1),
		LockTTL:         envDur("CARD_LOCK_TTL", 10*time.Second),
	}
}

// LoadAutomationConfig reads the automation windows with defaults.
func LoadAutomationConfig() AutomationConfig {
	return AutomationConfig{
		InactiveAfterDays:   envInt("AUTOMATION_INACTIVE_DAYS", 30),
		RewardWaitDays:      envInt("AUTOMATION_REWARD_WAIT_DAYS", 7),
		RewardDedupWindow:   envDur("AUTOMATION_REWARD_DEDUP_WINDOW", 7*24*time.Hour),
		LogRetention:        envDur("AUTOMATION_LOG_RETENTION", 90*24*time.Hour),
		MerchantConcurrency: envInt("AUTOMATION_CONCURRENCY", 4),
		LockTTL:             envDur("AUTOMATION_LOCK_TTL", time.Minute),
	}
}

func amqpURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Settings is the full runtime configuration, read from the environment (and .env when present).
type Settings struct {
	// Tracking store (MySQL)
	DBUser     string `env:"DB_USER" validate:"required"`
	DBPassword string `env:"DB_PASSWORD"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"3306"`
	DBName     string `env:"DB_NAME" validate:"required"`

	DBMaxOpenConns           int `env:"DB_MAX_OPEN_CONNS" envDefault:"10" validate:"gt=0"`
	DBMaxIdleConns           int `env:"DB_MAX_IDLE_CONNS" envDefault:"5" validate:"gte=0"`
	DBConnMaxLifetimeSeconds int `env:"DB_CONN_MAX_LIFETIME_SECONDS" envDefault:"300" validate:"gte=0"`
	DBConnMaxIdleTimeSeconds int `env:"DB_CONN_MAX_IDLE_TIME_SECONDS" envDefault:"60" validate:"gte=0"`

	// Branch event logs (PostgreSQL, one host per branch)
	PGHostTemplate string `env:"PG_HOST_TEMPLATE" envDefault:"qql%03d00.qq"`
	PGPort         int    `env:"PG_PORT" envDefault:"5432" validate:"gt=0"`
	PGDatabase     string `env:"PG_DATABASE" validate:"required"`
	PGUser         string `env:"PG_USER" validate:"required"`
	PGPassword     string `env:"PG_PASSWORD"`
	PGSSLMode      string `env:"PG_SSLMODE" envDefault:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// Authoritative store (Oracle)
	OracleHost     string `env:"ORACLE_HOST"`
	OraclePort     int    `env:"ORACLE_PORT" envDefault:"1521"`
	OracleService  string `env:"ORACLE_SERVICE"`
	OracleUser     string `env:"ORACLE_USER"`
	OraclePassword string `env:"ORACLE_PASSWORD"`
	OracleURL      string `env:"ORACLE_URL"`

	RedisAddress string `env:"REDIS_ADDRESS"`

	PendingWindowDays    int `env:"PENDING_WINDOW_DAYS" envDefault:"10" validate:"gt=0"`
	StatusLookbackDays   int `env:"STATUS_LOOKBACK_DAYS" envDefault:"30" validate:"gt=0"`
	UnresolvedWindowDays int `env:"UNRESOLVED_WINDOW_DAYS" envDefault:"10" validate:"gt=0"`

	CycleInterval      time.Duration `env:"CYCLE_INTERVAL" envDefault:"10m" validate:"gt=0"`
	CleanupInterval    time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h" validate:"gt=0"`
	CleanupEnabled     bool          `env:"CLEANUP_ENABLED" envDefault:"true"`
	CleanupMaxWorkers  int           `env:"CLEANUP_MAX_WORKERS" envDefault:"10" validate:"gt=0"`
	CleanupTaskTimeout time.Duration `env:"CLEANUP_TASK_TIMEOUT" envDefault:"5m" validate:"gt=0"`
	ConnectAttempts    int           `env:"CONNECT_ATTEMPTS" envDefault:"3" validate:"gt=0"`

	LogFile       string `env:"LOG_FILE" envDefault:"monitoramento_log.txt"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`

	PubSubProjectID       string `env:"PUBSUB_PROJECT_ID"`
	PubSubTopic           string `env:"PUBSUB_TOPIC"`
	PubSubCredentialsJSON string `env:"PUBSUB_CREDENTIALS_JSON"`

	GCSBucket          string `env:"GCS_BUCKET"`
	GCSCredentialsJSON string `env:"GCS_CREDENTIALS_JSON"`

	OpsPort            string   `env:"OPS_PORT" envDefault:"8080"`
	OpsJWTSecret       string   `env:"OPS_JWT_SECRET"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	BranchesFile   string        `env:"BRANCHES_FILE"`
	BranchCacheTTL time.Duration `env:"BRANCH_CACHE_TTL" envDefault:"30m"`

	TrackingAutoMigrate bool `env:"TRACKING_AUTO_MIGRATE" envDefault:"false"`
}

var validate = validator.New()

// LoadSettings reads .env (if any) and the process environment, then validates the result.
func LoadSettings() (Settings, error) {
	_ = godotenv.Load()

	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.OracleURL == "" && (s.OracleHost == "" || s.OracleService == "") {
		return fmt.Errorf("invalid settings: ORACLE_URL or ORACLE_HOST+ORACLE_SERVICE is required")
	}
	if strings.Count(s.PGHostTemplate, "%") != 1 {
		return fmt.Errorf("invalid settings: PG_HOST_TEMPLATE must contain exactly one verb, got %q", s.PGHostTemplate)
	}
	return nil
}

// EventLogHost is the PostgreSQL host that serves a branch's event log.
func (s Settings) EventLogHost(branch int) string {
	return fmt.Sprintf(s.PGHostTemplate, branch)
}

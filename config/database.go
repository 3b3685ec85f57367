package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// TrackingDSN builds the MySQL DSN for the monitoring database.
func TrackingDSN(s Settings) string {
	cfg := gomysql.NewConfig()
	cfg.User = s.DBUser
	cfg.Passwd = s.DBPassword
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%s", s.DBHost, s.DBPort)
	cfg.DBName = s.DBName
	cfg.ParseTime = true
	cfg.Loc = time.Local

	// Cloud SQL: DB_HOST=/cloudsql/<CONNECTION_NAME> connects through the proxy socket.
	if strings.HasPrefix(s.DBHost, "/cloudsql/") {
		cfg.Net = "unix"
		cfg.Addr = s.DBHost
	}
	return cfg.FormatDSN()
}

// EventLogDSN builds the PostgreSQL DSN for one branch host.
func EventLogDSN(s Settings, branch int) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
		pgValue(s.EventLogHost(branch)),
		s.PGPort,
		pgValue(s.PGUser),
		pgValue(s.PGPassword),
		pgValue(s.PGDatabase),
		pgValue(s.PGSSLMode),
	)
}

var pgEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// pgValue single-quotes a keyword/value connection string value.
func pgValue(v string) string {
	return "'" + pgEscaper.Replace(v) + "'"
}

// OpenTracking connects to the tracking store, retrying up to CONNECT_ATTEMPTS times.
func OpenTracking(ctx context.Context, s Settings) (*gorm.DB, error) {
	db, err := connectWithRetry(ctx, "tracking", s.ConnectAttempts, func() (*gorm.DB, error) {
		return gorm.Open(mysql.Open(TrackingDSN(s)), initConfig())
	})
	if err != nil {
		return nil, err
	}
	tunePool(db, s.DBMaxOpenConns, s.DBMaxIdleConns, s)
	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		logg.WithFields(logrus.Fields{"field": "Database"}).Warn("tracking connected but failed to install otelgorm plugin: " + pluginErr.Error())
	}
	return db, nil
}

// OpenEventLog connects to one branch's event log. A single attempt: an unreachable branch is skipped
// for this cycle and retried on the next.
func OpenEventLog(ctx context.Context, s Settings, branch int) (*gorm.DB, error) {
	db, err := connectWithRetry(ctx, "event log "+strconv.Itoa(branch), 1, func() (*gorm.DB, error) {
		return gorm.Open(postgres.Open(EventLogDSN(s, branch)), initConfig())
	})
	if err != nil {
		return nil, err
	}
	tunePool(db, 2, 1, s)
	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		logg.WithFields(logrus.Fields{"field": "Database", "branch": branch}).Warn("event log connected but failed to install otelgorm plugin: " + pluginErr.Error())
	}
	if err := db.Use(NewEventLogGuardPlugin()); err != nil {
		CloseGorm(db)
		return nil, fmt.Errorf("install event log guard: %w", err)
	}
	return db, nil
}

// CloseGorm releases the pool behind db. Safe on nil.
func CloseGorm(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

var sleepCtx = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func connectWithRetry(ctx context.Context, name string, attempts int, open func() (*gorm.DB, error)) (*gorm.DB, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := open()
		if err == nil {
			if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
				err = sqlDB.PingContext(ctx)
			}
			if err == nil {
				logg.WithFields(logrus.Fields{"field": "Database", "target": name, "attempt": attempt}).Info("connected")
				return db, nil
			}
			CloseGorm(db)
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logg.WithFields(logrus.Fields{"field": "Database", "target": name, "attempt": attempt}).
			Warn(fmt.Sprintf("failed to connect: %v; retrying in %s", err, sleep))
		if werr := sleepCtx(ctx, sleep); werr != nil {
			return nil, errors.Join(lastErr, werr)
		}
	}
	return nil, fmt.Errorf("connect %s after %d attempt(s): %w", name, attempts, lastErr)
}

func tunePool(db *gorm.DB, maxOpen, maxIdle int, s Settings) {
	sqlDB, err := db.DB()
	if err != nil || sqlDB == nil {
		return
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(s.DBConnMaxLifetimeSeconds) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(s.DBConnMaxIdleTimeSeconds) * time.Second)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// GormConfig is the shared gorm configuration, exported for stores opened outside this package (tests).
func GormConfig() *gorm.Config {
	return initConfig()
}

func initLog() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: true,
		TablePrefix:   "",
	}
}

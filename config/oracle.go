package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	go_ora "github.com/sijms/go-ora/v2"
)

// OracleURL is ORACLE_URL when set, else a go-ora URL built from the host settings.
func OracleURL(s Settings) string {
	if s.OracleURL != "" {
		return s.OracleURL
	}
	return go_ora.BuildUrl(s.OracleHost, s.OraclePort, s.OracleService, s.OracleUser, s.OraclePassword, nil)
}

// OpenAuthority opens and pings the authoritative store.
func OpenAuthority(ctx context.Context, s Settings) (*sql.DB, error) {
	db, err := sql.Open("oracle", OracleURL(s))
	if err != nil {
		return nil, fmt.Errorf("open oracle: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping oracle: %w", err)
	}
	return db, nil
}

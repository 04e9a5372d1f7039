// Package store persists user accounts and analysis history in Postgres or SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"example/veritas-api/app/config"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.DBConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if driver == "sqlite" {
		// single writer keeps SQLite from returning SQLITE_BUSY under load
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	log.Info().Str("driver", driver).Msg("connected to database")
	return &Store{db: db, driver: driver}, nil
}

// OpenSQLite opens a SQLite file and applies the schema. Used by local runs and tests.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	s, err := Open(ctx, config.DBConfig{Driver: "sqlite", SQLitePath: path})
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if s.driver == "sqlite" {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                      BIGSERIAL PRIMARY KEY,
		auth_sub                TEXT NOT NULL UNIQUE,
		email                   TEXT,
		name                    TEXT,
		tier                    TEXT NOT NULL DEFAULT 'free',
		daily_analysis_limit    INTEGER NOT NULL DEFAULT 5,
		today_analysis_count    INTEGER NOT NULL DEFAULT 0,
		last_reset_date         TIMESTAMPTZ NOT NULL,
		subscription_ends_at    TIMESTAMPTZ,
		billing_customer_id     TEXT UNIQUE,
		billing_subscription_id TEXT,
		created_at              TIMESTAMPTZ NOT NULL,
		updated_at              TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS analysis_records (
		id                 BIGSERIAL PRIMARY KEY,
		user_id            BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		url                TEXT,
		title              TEXT,
		trust_score        INTEGER NOT NULL,
		has_misinformation BOOLEAN NOT NULL,
		tags               TEXT NOT NULL DEFAULT '[]',
		bias               TEXT NOT NULL,
		analyzed_at        TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS analysis_records_user_url_idx ON analysis_records (user_id, url);`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                      INTEGER PRIMARY KEY AUTOINCREMENT,
		auth_sub                TEXT NOT NULL UNIQUE,
		email                   TEXT,
		name                    TEXT,
		tier                    TEXT NOT NULL DEFAULT 'free',
		daily_analysis_limit    INTEGER NOT NULL DEFAULT 5,
		today_analysis_count    INTEGER NOT NULL DEFAULT 0,
		last_reset_date         DATETIME NOT NULL,
		subscription_ends_at    DATETIME,
		billing_customer_id     TEXT UNIQUE,
		billing_subscription_id TEXT,
		created_at              DATETIME NOT NULL,
		updated_at              DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS analysis_records (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id            INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		url                TEXT,
		title              TEXT,
		trust_score        INTEGER NOT NULL,
		has_misinformation BOOLEAN NOT NULL,
		tags               TEXT NOT NULL DEFAULT '[]',
		bias               TEXT NOT NULL,
		analyzed_at        DATETIME NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS analysis_records_user_url_idx ON analysis_records (user_id, url);`,
}

// ts normalizes times before they reach the database so SQLite text
// timestamps compare in order.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: ts(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

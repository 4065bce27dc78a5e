// Package db is the revision store: pages, their immutable revision chains,
// links, file metadata, the full-text index and the sync audit trail, kept in
// PostgreSQL.
package db

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vonshlovens/wikiarchive/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the database connection pool
type DB struct {
	Pool   *pgxpool.Pool
	Schema string
}

// New creates a new database connection pool from config
func New(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	database, err := Open(ctx, cfg.ConnectionString(), cfg.Schema)
	if err != nil {
		return nil, err
	}

	slog.Info("connected to database",
		"host", cfg.Host,
		"database", cfg.Database,
		"schema", cfg.Schema)

	return database, nil
}

// Open connects using a raw connection string. schema may be empty when the
// connection string already pins search_path.
func Open(ctx context.Context, connString, schema string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, classify("connect", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("ping", err)
	}

	return &DB{Pool: pool, Schema: schema}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		slog.Debug("database connection closed")
	}
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return classify("ping", db.Pool.Ping(ctx))
}

// EnsureSchema creates the archive schema if it doesn't exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	if db.Schema == "" {
		return nil
	}

	_, err := db.Pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{db.Schema}.Sanitize())
	if err != nil {
		return fmt.Errorf("failed to create schema %s: %w", db.Schema, err)
	}
	return nil
}

// Migrate applies every pending embedded migration. Safe to call on every start.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	stdDB := stdlib.OpenDBFromPool(db.Pool)
	defer stdDB.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	goose.SetTableName(db.versionTable())
	goose.SetLogger(goose.NopLogger())

	if err := goose.UpContext(ctx, stdDB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("migrations completed", "schema", db.Schema)
	return nil
}

// SchemaVersion returns the highest applied migration version
func (db *DB) SchemaVersion(ctx context.Context) (int64, error) {
	stdDB := stdlib.OpenDBFromPool(db.Pool)
	defer stdDB.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("failed to set dialect: %w", err)
	}
	goose.SetTableName(db.versionTable())

	version, err := goose.GetDBVersionContext(ctx, stdDB)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (db *DB) versionTable() string {
	if db.Schema == "" {
		return "goose_db_version"
	}
	return db.Schema + ".goose_db_version"
}

// inTx runs fn inside a transaction, committing on nil error
func (db *DB) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return classify(op, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return classify(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(op, err)
	}
	return nil
}

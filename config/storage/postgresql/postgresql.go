// Package postgres provides PostgresDB server implimentation logic.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/crabzie/workflow-scheduler/config/storage/postgresql/migrations"
	config "github.com/crabzie/workflow-scheduler/config/utils"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	zaptracer "github.com/jackc/pgx-zap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

// DB wraps the pgx pool behind the run history repository together with a squirrel
// builder using Dollar placeholders.
type DB struct {
	*pgxpool.Pool
	QueryBuilder *squirrel.StatementBuilderType
	url          string
}

// poolConfig sizes the pool for the run history writer. Writes arrive in bursts, one per
// finished run, from short-lived persistence goroutines, so a few connections are enough
// and idle ones are closed between bursts. The handful of statements is prepared once per
// connection.
func poolConfig(cfg *config.DB, logger *zap.Logger) (*pgxpool.Config, error) {
	dbCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		dbCfg.MaxConns = cfg.MaxConns
	}
	dbCfg.MinConns = 0
	if cfg.MaxConnIdleTime > 0 {
		dbCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		dbCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	dbCfg.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   zaptracer.NewLogger(logger),
		LogLevel: tracelog.LogLevelWarn,
	}
	dbCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	dbCfg.ConnConfig.StatementCacheCapacity = 16

	return dbCfg, nil
}

// New connects the run history pool and checks it with a ping
func New(ctx context.Context, cfg *config.DB, logger *zap.Logger) (*DB, error) {
	dbCfg, err := poolConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	return &DB{db, &psql, cfg.URL()}, nil
}

// Migrate runs the database migration
func (db *DB) Migrate() error {
	driver, err := iofs.New(migrations.MigrationsFS, ".")
	if err != nil {
		return err
	}

	migrations, err := migrate.NewWithSourceInstance("iofs", driver, db.url)
	if err != nil {
		return err
	}

	if err := migrations.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// Stats reports pool usage for logging
func (db *DB) Stats() []zap.Field {
	st := db.Pool.Stat()
	return []zap.Field{
		zap.Int32("total_conns", st.TotalConns()),
		zap.Int32("idle_conns", st.IdleConns()),
		zap.Int32("max_conns", st.MaxConns()),
	}
}

// Close closes the database connection
func (db *DB) Close() {
	db.Pool.Close()
}

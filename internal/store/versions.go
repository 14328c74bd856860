// Package store persists map version checkpoints to PostgreSQL so the
// authoritative document services can detect which maps changed while they
// were away. The collaboration engine itself never reads from here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/cartoworks/cartoworks/pkg/observability"
)

// ErrVersionNotFound is returned when a map has no recorded version.
var ErrVersionNotFound = errors.New("no version recorded for map")

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// Connect opens the database and verifies it with a bounded retry loop, so a
// server starting alongside its database does not crash-loop on the race.
func Connect(ctx context.Context, cfg DatabaseConfig, logger observability.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(timeout),
	), ctx)
	err = backoff.RetryNotify(
		func() error { return db.PingContext(ctx) },
		policy,
		func(err error, next time.Duration) {
			if logger != nil {
				logger.Warn("database not ready, retrying", map[string]interface{}{
					"error":      err.Error(),
					"next_retry": next.String(),
				})
			}
		},
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// VersionStore records the latest accepted version per map.
type VersionStore struct {
	db     *sqlx.DB
	logger observability.Logger
}

// NewVersionStore creates a store on an open database handle.
func NewVersionStore(db *sqlx.DB, logger observability.Logger) *VersionStore {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &VersionStore{db: db, logger: logger}
}

// EnsureSchema creates the checkpoint table when it does not exist yet.
// Deployments with managed migrations can skip this.
func (s *VersionStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS map_versions (
			map_id     TEXT PRIMARY KEY,
			version    BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure map_versions schema: %w", err)
	}
	return nil
}

// OnVersionChanged implements the engine's version sink: it upserts the
// latest version for the map. Out-of-order delivery is tolerated by keeping
// the larger of the stored and incoming versions.
func (s *VersionStore) OnVersionChanged(ctx context.Context, mapID string, version int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO map_versions (map_id, version, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (map_id) DO UPDATE
		SET version = GREATEST(map_versions.version, EXCLUDED.version),
		    updated_at = EXCLUDED.updated_at`,
		mapID, version)
	if err != nil {
		return fmt.Errorf("record version %d for map %s: %w", version, mapID, err)
	}
	return nil
}

// GetVersion returns the last recorded version for a map.
func (s *VersionStore) GetVersion(ctx context.Context, mapID string) (int64, error) {
	var version int64
	err := s.db.GetContext(ctx, &version,
		`SELECT version FROM map_versions WHERE map_id = $1`, mapID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrVersionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get version for map %s: %w", mapID, err)
	}
	return version, nil
}

// DeleteVersion drops the checkpoint for a map, for map deletion flows.
func (s *VersionStore) DeleteVersion(ctx context.Context, mapID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM map_versions WHERE map_id = $1`, mapID)
	if err != nil {
		return fmt.Errorf("delete version for map %s: %w", mapID, err)
	}
	return nil
}

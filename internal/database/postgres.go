package database

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

var DB *pgxpool.Pool

const applicationName = "clubinbox"

// PoolSettings sizes the shared pool. Zero fields fall back to
// DefaultPoolSettings.
type PoolSettings struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// PingTimeout bounds each readiness check; PingAttempts is how many are
	// made before giving up.
	PingTimeout  time.Duration
	PingAttempts int
}

func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
		PingAttempts:    5,
	}
}

func (s PoolSettings) withDefaults() PoolSettings {
	d := DefaultPoolSettings()
	if s.MaxConns <= 0 {
		s.MaxConns = d.MaxConns
	}
	if s.MinConns <= 0 {
		s.MinConns = d.MinConns
	}
	if s.MinConns > s.MaxConns {
		s.MinConns = s.MaxConns
	}
	if s.MaxConnLifetime <= 0 {
		s.MaxConnLifetime = d.MaxConnLifetime
	}
	if s.MaxConnIdleTime <= 0 {
		s.MaxConnIdleTime = d.MaxConnIdleTime
	}
	if s.PingTimeout <= 0 {
		s.PingTimeout = d.PingTimeout
	}
	if s.PingAttempts <= 0 {
		s.PingAttempts = d.PingAttempts
	}
	return s
}

// poolConfig parses dbURL and applies settings. An application_name already
// present in the URL wins.
func poolConfig(dbURL string, settings PoolSettings) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	settings = settings.withDefaults()
	config.MaxConns = settings.MaxConns
	config.MinConns = settings.MinConns
	config.MaxConnLifetime = settings.MaxConnLifetime
	config.MaxConnIdleTime = settings.MaxConnIdleTime

	if _, ok := config.ConnConfig.RuntimeParams["application_name"]; !ok {
		config.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return config, nil
}

// ConnectDB opens the shared pool and waits until Postgres answers. The
// server usually starts alongside its database, so a failed ping is retried
// with a doubling delay until settings.PingAttempts or ctx runs out.
func ConnectDB(ctx context.Context, dbURL string, settings PoolSettings, logger *log.Logger) error {
	settings = settings.withDefaults()
	config, err := poolConfig(dbURL, settings)
	if err != nil {
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	delay := 500 * time.Millisecond
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, settings.PingTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt >= settings.PingAttempts || ctx.Err() != nil {
			pool.Close()
			return fmt.Errorf("unable to ping database after %d attempts: %w", attempt, err)
		}

		logger.Warn("Database not ready", "attempt", attempt, "retry_in", delay, "err", err)
		select {
		case <-ctx.Done():
			pool.Close()
			return fmt.Errorf("unable to ping database: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	DB = pool
	logger.Info("Database connected",
		"max_conns", config.MaxConns,
		"min_conns", config.MinConns,
		"host", config.ConnConfig.Host,
		"database", config.ConnConfig.Database,
	)
	return nil
}

func CloseDB() {
	if DB != nil {
		DB.Close()
	}
}

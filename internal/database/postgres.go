package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	_ "github.com/lib/pq"
	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/logger"
)

// Postgres wraps the SQL database connection
type Postgres struct {
	*sql.DB
}

// NewPostgres opens a PostgreSQL pool and waits for the server to answer,
// retrying with exponential backoff until cfg.ConnectTimeout elapses.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 4)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	boff := backoff.Backoff{
		Min: 250 * time.Millisecond,
		Max: 5 * time.Second,
	}

	for {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		pingCancel()
		if err == nil {
			return &Postgres{DB: db}, nil
		}

		dur := boff.Duration()
		log.Warn().
			Err(err).
			Dur("retrying after", dur).
			Msg("database not reachable")

		timer := time.NewTimer(dur)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		case <-timer.C:
		}
	}
}

// HealthCheck verifies the database connection is healthy
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.PingContext(ctx)
}

// BeginTx starts a new transaction with default options
func (p *Postgres) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return p.DB.BeginTx(ctx, nil)
}

package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"log/slog"

	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/netutil"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by name.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Connect opens the database, retrying with exponential backoff until cfg.ConnectTimeout elapses,
// then configures the pool. It returns (nil, nil) for the memory driver.
func Connect(cfg Config) (*sqlx.DB, error) {
	if cfg.Driver == DriverMemory {
		return nil, nil
	}
	if cfg.Driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	start := time.Now()
	db, attempts, err := connectWithBackoff(ctx, cfg)
	took := time.Since(start)
	if err != nil {
		logger.DB.Error("db connect failed",
			slog.String("event", "db.connect"),
			slog.String("driver", cfg.Driver),
			slog.String("host", cfg.Host),
			slog.String("db", cfg.Name),
			slog.Int("attempts", attempts),
			slog.Duration("duration", logger.RoundMS(took)),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// One writer at a time; WAL lets readers proceed.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	logger.DB.Info("db connected",
		slog.String("event", "db.connect"),
		slog.String("driver", cfg.Driver),
		slog.String("host", cfg.Host),
		slog.String("db", cfg.Name),
		slog.Int("attempts", attempts),
		slog.Int("pool_open", db.Stats().MaxOpenConnections),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	return db, nil
}

func connectWithBackoff(ctx context.Context, cfg Config) (*sqlx.DB, int, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN())
		if err == nil {
			return db, attempt, nil
		}
		lastErr = err

		delay := netutil.Backoff(250*time.Millisecond, 5*time.Second, attempt)
		logger.DB.Warn("db not ready",
			slog.String("event", "db.wait"),
			slog.String("driver", cfg.Driver),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("err", err.Error()),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, fmt.Errorf("timeout reached waiting for database: %w", lastErr)
		case <-timer.C:
		}
	}
}

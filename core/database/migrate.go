package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/m3rciful/copperxbot/core/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// RunMigrations applies all embedded up migrations. It is a no-op for the memory driver.
func RunMigrations(cfg Config) error {
	if cfg.Driver == DriverMemory {
		return nil
	}
	ctx := logger.Background()
	files := listMigrationFiles(migrationsFS, migrationsDir)
	logFiles(ctx, "resolve", files, slog.String("driver", cfg.Driver))

	src, err := iofs.New(migrationsFS, migrationsDir)
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.MigrateURL())
	if err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "init",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.LogEvent(ctx, logger.MIG, slog.LevelWarn, "close",
				slog.String("status", "fail"),
				slog.String("err", errors.Join(srcErr, dbErr).Error()),
			)
		}
	}()

	from := currentVersion(m)
	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "apply",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return fmt.Errorf("migration execution failed: %w", err)
	}
	took := time.Since(start)

	to := currentVersion(m)
	applied := selectApplied(files, from, to)
	if len(applied) > 0 {
		logFiles(ctx, "apply", applied)
	}
	logger.LogEvent(ctx, logger.MIG, slog.LevelInfo, "summary",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", from),
		slog.Uint64("to_ver", to),
		slog.Int("files", len(applied)),
		slog.Duration("duration", took),
	)
	return nil
}

// currentVersion is 0 before the first migration and on a dirty or unreadable state.
func currentVersion(m *migrate.Migrate) uint64 {
	v, _, err := m.Version()
	if err != nil {
		return 0
	}
	return uint64(v)
}

func logFiles(ctx context.Context, event string, files []string, attrs ...slog.Attr) {
	preview, truncated := logger.SummarizeStrings(files, 6)
	attrs = append(attrs,
		slog.Int("files_total", len(files)),
		slog.String("files_preview", preview),
	)
	if truncated {
		attrs = append(attrs, slog.Bool("files_truncated", true))
	}
	logger.LogEvent(ctx, logger.MIG, slog.LevelDebug, event, attrs...)
}

func listMigrationFiles(fsys fs.FS, dir string) []string {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names
}

func parseVersion(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}

func selectApplied(files []string, from, to uint64) []string {
	if to <= from {
		return nil
	}
	var out []string
	for _, f := range files {
		if v := parseVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}

package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/copperxbot/core/config"
	coredatabase "github.com/m3rciful/copperxbot/core/database"
	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/session"
)

// Options control the generic bootstrap pipeline.
type Options struct {
	Config   *coreconfig.Config
	Database coredatabase.Config
	Session  session.Options

	LoggerInit func(*coreconfig.Config) error
	Connect    func(coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(coredatabase.Config) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	// DB is nil for the memory driver.
	DB       *sqlx.DB
	Sessions *session.Manager
}

// Run initializes the logger, connects the session store and applies migrations.
// A store that stays unreachable past the connect timeout fails the boot.
func Run(opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	dbCfg := opts.Database
	if err := dbCfg.Normalize(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(dbCfg); err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	var backend session.Backend
	if db == nil {
		backend = session.NewMemoryBackend()
	} else {
		backend = session.NewSQLBackend(db)
	}
	logger.DB.Info("session store ready",
		slog.String("event", "store.ready"),
		slog.String("driver", dbCfg.Driver),
	)

	return &Result{DB: db, Sessions: session.NewManager(backend, opts.Session)}, nil
}

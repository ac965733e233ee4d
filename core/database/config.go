package database

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

const (
	// DriverMemory keeps sessions in process memory; no database is opened.
	DriverMemory = "memory"
	// DriverPostgres selects PostgreSQL through lib/pq.
	DriverPostgres = "postgres"
	// DriverSQLite selects the pure-Go SQLite driver.
	DriverSQLite = "sqlite"

	// DefaultSQLitePath is used when the sqlite driver is selected without a path.
	DefaultSQLitePath = "data/copperxbot.db"
)

// Config holds database connection settings.
type Config struct {
	Driver         string        `yaml:"driver" envconfig:"DB_DRIVER"`
	Host           string        `yaml:"host" envconfig:"DB_HOST"`
	Port           string        `yaml:"port" envconfig:"DB_PORT"`
	User           string        `yaml:"user" envconfig:"DB_USER"`
	Password       string        `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string        `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string        `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int           `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	Path           string        `yaml:"path" envconfig:"DB_PATH"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"DB_CONNECT_TIMEOUT"`
}

// Normalize fills defaults and validates the driver specific fields. Sessions survive
// restarts by default: an empty driver selects sqlite at DefaultSQLitePath, and memory
// has to be chosen explicitly.
func (c *Config) Normalize() error {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	switch c.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Host == "" || c.Name == "" {
			return fmt.Errorf("database.host and database.name are required for driver %q", c.Driver)
		}
		if c.Port == "" {
			c.Port = "5432"
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case DriverSQLite:
		c.Path = strings.TrimSpace(c.Path)
		if c.Path == "" {
			c.Path = DefaultSQLitePath
		}
	default:
		return fmt.Errorf("invalid database.driver %q; allowed: memory, postgres, sqlite", c.Driver)
	}
	return nil
}

// DSN returns the driver specific data source name used by database/sql.
func (c Config) DSN() string {
	switch c.Driver {
	case DriverSQLite:
		return c.Path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	default:
		return c.postgresURL()
	}
}

// MigrateURL returns the golang-migrate database URL.
func (c Config) MigrateURL() string {
	if c.Driver == DriverSQLite {
		return "sqlite://" + c.Path
	}
	return c.postgresURL()
}

// postgresURL escapes credentials, so passwords with spaces or quotes survive.
func (c Config) postgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

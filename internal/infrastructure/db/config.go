package db

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds database connection configuration
type Config struct {
	DSN             string        `yaml:"dsn" env:"PG_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"PG_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"PG_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"PG_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"PG_CONN_MAX_IDLE_TIME"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"PG_QUERY_TIMEOUT"`
	Enabled         bool          `yaml:"enabled" env:"PG_ENABLED"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"PG_AUTO_MIGRATE"`
}

// DefaultConfig returns reasonable defaults for database connections
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
		Enabled:         false, // Disabled by default - requires explicit configuration
	}
}

// ApplyDefaults fills zero pool settings
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = d.MaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = d.MaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = d.ConnMaxIdleTime
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = d.QueryTimeout
	}
}

// ApplyEnvOverrides applies PG_* environment variables on top of file values
func (c *Config) ApplyEnvOverrides() {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		c.DSN = dsn
	}

	if enabled := os.Getenv("PG_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			c.Enabled = val
		}
	}

	if migrate := os.Getenv("PG_AUTO_MIGRATE"); migrate != "" {
		if val, err := strconv.ParseBool(migrate); err == nil {
			c.AutoMigrate = val
		}
	}

	if maxOpen := os.Getenv("PG_MAX_OPEN_CONNS"); maxOpen != "" {
		if val, err := strconv.Atoi(maxOpen); err == nil {
			c.MaxOpenConns = val
		}
	}

	if maxIdle := os.Getenv("PG_MAX_IDLE_CONNS"); maxIdle != "" {
		if val, err := strconv.Atoi(maxIdle); err == nil {
			c.MaxIdleConns = val
		}
	}

	if queryTimeout := os.Getenv("PG_QUERY_TIMEOUT"); queryTimeout != "" {
		if val, err := time.ParseDuration(queryTimeout); err == nil {
			c.QueryTimeout = val
		}
	}
}

// Validate checks the configuration is usable
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.DSN == "" {
		return fmt.Errorf("database DSN is required when database is enabled")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) cannot exceed max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}
	return nil
}

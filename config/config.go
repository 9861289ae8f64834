// server configuration: compiled-in defaults, merged with environment
// overrides and CLI flags; the last valid value wins
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/guregu/null.v3"
)

type Config struct {
	Address    null.String `json:"address" envconfig:"HTTPD_ADDRESS"`
	Port       null.Int    `json:"port" envconfig:"HTTPD_PORT"`
	DocRoot    null.String `json:"docRoot" envconfig:"HTTPD_DOC_ROOT"`
	Index      null.String `json:"index" envconfig:"HTTPD_INDEX"`
	Workers    null.Int    `json:"workers" envconfig:"HTTPD_WORKERS"`
	QueueDepth null.Int    `json:"queueDepth" envconfig:"HTTPD_QUEUE_DEPTH"`
	MaxConns   null.Int    `json:"maxConns" envconfig:"HTTPD_MAX_CONNS"`
	DBConns    null.Int    `json:"dbConns" envconfig:"HTTPD_DB_CONNS"`
	LogLevel   null.String `json:"logLevel" envconfig:"HTTPD_LOG_LEVEL"`
}

// NewConfig returns the compiled-in defaults. Values are marked invalid so
// that any later layer overrides them.
func NewConfig() Config {
	return Config{
		Address:    null.NewString("0.0.0.0", false),
		Port:       null.NewInt(8080, false),
		DocRoot:    null.NewString("./www", false),
		Index:      null.NewString("index.html", false),
		Workers:    null.NewInt(8, false),
		QueueDepth: null.NewInt(10000, false),
		MaxConns:   null.NewInt(65536, false),
		DBConns:    null.NewInt(0, false),
		LogLevel:   null.NewString("info", false),
	}
}

// Apply layers cfg on top of c, keeping c's value wherever cfg carries none.
func (c Config) Apply(cfg Config) Config {
	if cfg.Address.Valid {
		c.Address = cfg.Address
	}
	if cfg.Port.Valid {
		c.Port = cfg.Port
	}
	if cfg.DocRoot.Valid {
		c.DocRoot = cfg.DocRoot
	}
	if cfg.Index.Valid {
		c.Index = cfg.Index
	}
	if cfg.Workers.Valid {
		c.Workers = cfg.Workers
	}
	if cfg.QueueDepth.Valid {
		c.QueueDepth = cfg.QueueDepth
	}
	if cfg.MaxConns.Valid {
		c.MaxConns = cfg.MaxConns
	}
	if cfg.DBConns.Valid {
		c.DBConns = cfg.DBConns
	}
	if cfg.LogLevel.Valid {
		c.LogLevel = cfg.LogLevel
	}
	return c
}

// GetConsolidatedConfig merges defaults, HTTPD_* environment variables and
// the given flag overrides, in that order.
func GetConsolidatedConfig(flags Config) (Config, error) {
	c := NewConfig()

	var env Config
	if err := envconfig.Process("", &env); err != nil {
		return c, fmt.Errorf("reading environment: %w", err)
	}
	c = c.Apply(env)
	c = c.Apply(flags)

	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Port.Int64 < 1 || c.Port.Int64 > 65535 {
		return fmt.Errorf("port %d out of range", c.Port.Int64)
	}
	if c.Workers.Int64 < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers.Int64)
	}
	if c.QueueDepth.Int64 < 1 {
		return fmt.Errorf("queue depth must be positive, got %d", c.QueueDepth.Int64)
	}
	if c.MaxConns.Int64 < 1 {
		return fmt.Errorf("max connections must be positive, got %d", c.MaxConns.Int64)
	}
	if c.DBConns.Int64 < 0 {
		return fmt.Errorf("db connections must not be negative, got %d", c.DBConns.Int64)
	}
	if c.DocRoot.String == "" {
		return fmt.Errorf("document root must be set")
	}
	return nil
}

package client

import (
	"context"

	"github.com/satishbabariya/aegis/expr"
	"github.com/satishbabariya/aegis/internal/config"
	"github.com/satishbabariya/aegis/query/executor"
)

// DialectConfig is passed through to the underlying driver.
type DialectConfig struct {
	// URL is the connection string (pool DSN or file path).
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// ComputedFields maps model → field → the expression computing it.
type ComputedFields map[string]map[string]expr.Expr

// Procedure is a named callback callable through Client.Procedure.
type Procedure func(ctx context.Context, c *Client, args ...interface{}) (interface{}, error)

// Options configures a client.
type Options struct {
	// DialectConfig is handed to the underlying driver.
	DialectConfig DialectConfig

	// Plugins are registered in order and their hooks run in that order. A
	// plugin carries hooks only; it adds no client extensions.
	Plugins []Plugin

	// Log receives every compiled statement and its parameters.
	Log executor.LogFunc

	// ComputedFields supplies per-model expressions for computed fields.
	ComputedFields ComputedFields

	// Procedures are named callbacks callable via Client.Procedure.
	Procedures map[string]Procedure

	// FixPostgresTimezone toggles the Date timezone correction.
	FixPostgresTimezone bool

	// ValidateInput disables runtime argument validation when set to
	// false; the default validates.
	ValidateInput *bool
}

func (o Options) validateInput() bool {
	return o.ValidateInput == nil || *o.ValidateInput
}

// OptionsFromConfig derives options from a loaded configuration file.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		DialectConfig: DialectConfig{
			URL:          cfg.DatabaseURL,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
		},
		FixPostgresTimezone: cfg.FixPostgresTimezone,
		ValidateInput:       cfg.ValidateInput,
	}
	return opts
}

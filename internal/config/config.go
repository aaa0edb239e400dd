// Package config loads client configuration from files and the
// environment. Lookup order: explicit path, ./aegis.{yaml,yml,json},
// environment variables (with .env support via godotenv).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Config is the file/env-sourced subset of the client options.
type Config struct {
	Provider            string `mapstructure:"provider"`
	DatabaseURL         string `mapstructure:"database_url"`
	Log                 bool   `mapstructure:"log"`
	ValidateInput       *bool  `mapstructure:"validate_input"`
	FixPostgresTimezone bool   `mapstructure:"fix_postgres_timezone"`
	MaxOpenConns        int    `mapstructure:"max_open_conns"`
	MaxIdleConns        int    `mapstructure:"max_idle_conns"`
}

// Load reads configuration. path may be empty to use the default lookup.
func Load(path string) (*Config, error) {
	return LoadFs(afero.NewOsFs(), path)
}

// LoadFs reads configuration from the given filesystem; tests pass an
// in-memory fs.
func LoadFs(fs afero.Fs, path string) (*Config, error) {
	// .env is optional and never an error when absent.
	_ = godotenv.Load()

	v := viper.New()
	v.SetFs(fs)
	v.SetEnvPrefix("AEGIS")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("aegis")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errorsAs(err, &notFound) {
			// No config file is fine; the environment may carry everything.
		} else if _, statErr := fs.Stat(path); path != "" && statErr != nil {
			return nil, fmt.Errorf("config file %s: %w", path, statErr)
		} else if path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

func errorsAs(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/aegis.yaml", []byte(`
provider: sqlite
database_url: file:test.db
log: true
fix_postgres_timezone: true
max_open_conns: 4
`), 0o644))

	cfg, err := LoadFs(fs, "/aegis.yaml")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Provider)
	assert.Equal(t, "file:test.db", cfg.DatabaseURL)
	assert.True(t, cfg.Log)
	assert.True(t, cfg.FixPostgresTimezone)
	assert.Equal(t, 4, cfg.MaxOpenConns)
}

func TestMissingExplicitFileFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := LoadFs(fs, "/nope.yaml")
	assert.Error(t, err)
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")
	fs := afero.NewMemMapFs()
	cfg, err := LoadFs(fs, "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, EnvironmentTest, cfg.SRI.Environment)
	assert.Equal(t, "1", cfg.SRI.EnvironmentCode())
	assert.Contains(t, cfg.SRI.ReceptionURL, "celcer.sri.gob.ec")
	assert.Contains(t, cfg.SRI.AuthorizationURL, "AutorizacionComprobantesOffline")
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("OSIRIS_SRI_ENVIRONMENT", "PRODUCTION")
	t.Setenv("OSIRIS_QUEUE_MAX_ATTEMPTS", "5")
	t.Setenv("OSIRIS_QUEUE_BASE_BACKOFF", "1m")
	t.Setenv("OSIRIS_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, EnvironmentProduction, cfg.SRI.Environment)
	assert.Equal(t, "2", cfg.SRI.EnvironmentCode())
	assert.Contains(t, cfg.SRI.ReceptionURL, "https://cel.sri.gob.ec")
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Queue.BaseBackoff)
	assert.True(t, cfg.Redis.Enabled())
}

func TestLoad_FileIsRead(t *testing.T) {
	dir := t.TempDir()
	yaml := "sri:\n  ruc: \"1790012345001\"\n  reception_url: http://localhost:9999/recepcion\ndb:\n  name: facturacion\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "1790012345001", cfg.SRI.RUC)
	assert.Equal(t, "http://localhost:9999/recepcion", cfg.SRI.ReceptionURL)
	assert.Contains(t, cfg.SRI.AuthorizationURL, "celcer.sri.gob.ec")
	assert.Contains(t, cfg.DB.DSN(), "/facturacion?sslmode=disable")
}

func TestLoad_RejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("OSIRIS_SRI_ENVIRONMENT", "staging")
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestDBConfig_DSNEscapesPassword(t *testing.T) {
	c := DBConfig{Host: "db", Port: 5432, User: "app", Password: "p@ss/word", Name: "osiris", SSLMode: "disable"}
	assert.Equal(t, "postgres://app:p%40ss%2Fword@db:5432/osiris?sslmode=disable", c.DSN())

	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}

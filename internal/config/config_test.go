package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		StoreDriver:   "memory",
		StorageDriver: "local",
		ProviderMode:  ProviderModeAuto,
		TextBackend:   "openai",
		AIMaxAttempts: 3,
		MaxCharacters: 5,
	}
}

func TestUseSimulatedProviders(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.UseSimulatedProviders(), "auto without key")

	cfg.AIAPIKey = "sk-test"
	assert.False(t, cfg.UseSimulatedProviders(), "auto with key")

	cfg.ProviderMode = ProviderModeSimulated
	assert.True(t, cfg.UseSimulatedProviders())

	cfg = validConfig()
	cfg.ProviderMode = ProviderModeLive
	assert.False(t, cfg.UseSimulatedProviders())
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.StoreDriver = "mongo"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.StorageDriver = "gcs"
	assert.ErrorContains(t, bad.Validate(), "GCS_BUCKET")

	bad = cfg
	bad.ProviderMode = ProviderModeLive
	assert.ErrorContains(t, bad.Validate(), "ai_api_key")

	bad = cfg
	bad.AIMaxAttempts = 0
	assert.Error(t, bad.Validate())
}

func TestGetMaskedDSN(t *testing.T) {
	cfg := Config{DBUser: "story", DBPassword: "s3cr3t", DBHost: "db", DBPort: "5432", DBName: "storytime", DBSSLMode: "disable"}
	assert.Equal(t, "postgres://story:s3cr3t@db:5432/storytime?sslmode=disable", cfg.GetDSN())
	assert.Equal(t, "postgres://story:********@db:5432/storytime?sslmode=disable", cfg.getMaskedDSN())
}

func TestReadSecretOrEnv(t *testing.T) {
	dir := t.TempDir()
	old := secretsDir
	secretsDir = dir
	t.Cleanup(func() { secretsDir = old })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ai_api_key"), []byte(" from-file \n"), 0o600))
	t.Setenv("AI_API_KEY", "from-env")
	t.Setenv("DB_PASSWORD", "db-env")

	got, err := readSecretOrEnv("ai_api_key", "AI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	got, err = readSecretOrEnv("db_password", "DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "db-env", got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), []byte("  "), 0o600))
	_, err = readSecretOrEnv("empty", "UNUSED")
	assert.Error(t, err)
}

package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "loud", Encoding: "xml", OutputPath: filepath.Join(t.TempDir(), "out.log")})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}

func TestNewDebug(t *testing.T) {
	l, err := New(Config{Level: "DEBUG", Encoding: "console", OutputPath: filepath.Join(t.TempDir(), "out.log")})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}

func TestSetupZerolog(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	SetupZerolog("warn", "production")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	SetupZerolog("", "development")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestNewAddsServiceField(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.log")
	l, err := New(Config{Level: "info", OutputPath: out, Service: "storytime-server", Sample: true})
	require.NoError(t, err)
	l.Info("Story created")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "storytime-server", entry["service"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "Story created", entry["msg"])
}

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, Level("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, Level("warning"))
	assert.Equal(t, zapcore.ErrorLevel, Level(" error "))
	assert.Equal(t, zapcore.InfoLevel, Level("chatty"))
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		log, err := New("warn", format)
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	}
}

func TestBuildWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.log")
	log, err := Build(Options{Level: "info", Format: "json", File: path, MaxBackups: 2})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("warehouse created")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"warehouse created"`)
	assert.Contains(t, string(data), `"service":"inventory"`)
	assert.NotContains(t, string(data), "hidden")
}

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitLoggerLevelOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")

	require.NoError(t, InitLogger("production"))

	core := GetLogger().Core()
	assert.True(t, core.Enabled(zapcore.ErrorLevel))
	assert.False(t, core.Enabled(zapcore.InfoLevel))
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")

	assert.Error(t, InitLogger("development"))
}

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		env     string
		level   string
		enabled zapcore.Level
		muted   zapcore.Level
	}{
		{env: "production", level: "", enabled: zapcore.InfoLevel, muted: zapcore.DebugLevel},
		{env: "production", level: "debug", enabled: zapcore.DebugLevel, muted: zapcore.DebugLevel - 1},
		{env: "production", level: "warn", enabled: zapcore.WarnLevel, muted: zapcore.InfoLevel},
		{env: "development", level: "", enabled: zapcore.DebugLevel, muted: zapcore.DebugLevel - 1},
		{env: "development", level: "error", enabled: zapcore.ErrorLevel, muted: zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			logger, err := NewLogger(tt.env, tt.level)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.muted))
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger("production", "loud")
	assert.Error(t, err)
}

func TestLoggerConfig(t *testing.T) {
	prod := loggerConfig("production")
	assert.Equal(t, "json", prod.Encoding)
	assert.Nil(t, prod.Sampling)
	assert.Equal(t, "ts", prod.EncoderConfig.TimeKey)
	assert.Equal(t, serviceName, prod.InitialFields["service"])
	assert.Equal(t, "production", prod.InitialFields["env"])

	dev := loggerConfig("development")
	assert.Equal(t, "console", dev.Encoding)
	assert.Equal(t, []string{"stdout"}, dev.OutputPaths)
}

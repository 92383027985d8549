package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		env   string
		level string
		want  zapcore.Level
	}{
		{"production", "debug", zapcore.DebugLevel},
		{"production", "WARN", zapcore.WarnLevel},
		{"development", "error", zapcore.ErrorLevel},
		{"production", "verboso", zapcore.InfoLevel},
		{"production", "", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		log, err := New(tc.env, tc.level)
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(tc.want), "%s/%s", tc.env, tc.level)
		if tc.want > zapcore.DebugLevel {
			assert.False(t, log.Core().Enabled(tc.want-1), "%s/%s", tc.env, tc.level)
		}
	}
}

func TestForInstance(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ForInstance(zap.New(core), "loja").Info("conectado")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "loja", logs.All()[0].ContextMap()["instance_id"])
}

package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/taskmaster/lifecycle/internal/infrastructure/config"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return FromZap(zap.New(core)), logs
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggerConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)

	l, err := New(config.LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestInfo_UsesKeyValuePairs(t *testing.T) {
	l, logs := observed()
	l.WithComponent("reconcile").Info("Sweep started", "batch_size", 200)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Sweep started", entry.Message)
	assert.Equal(t, "reconcile", entry.ContextMap()["component"])
	assert.EqualValues(t, 200, entry.ContextMap()["batch_size"])
}

func TestLogTransition(t *testing.T) {
	l, logs := observed()

	l.LogTransition("approve", "t1", "a1", "pending_approval", "approved", nil)
	l.LogTransition("approve", "t1", "a2", "pending_approval", "", errors.New("invalid state"))

	require.Equal(t, 2, logs.Len())
	applied, refused := logs.All()[0], logs.All()[1]
	assert.Equal(t, zapcore.InfoLevel, applied.Level)
	assert.Equal(t, "approved", applied.ContextMap()["to"])
	assert.Equal(t, zapcore.WarnLevel, refused.Level)
	assert.Equal(t, "invalid state", refused.ContextMap()["error"])
}

func TestLogReconcile_WarnsOnFailures(t *testing.T) {
	l, logs := observed()

	l.LogReconcile(true, 10, 2, 300, 0, false)
	l.LogReconcile(false, 10, 2, 300, 1, false)

	assert.Equal(t, zapcore.InfoLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}

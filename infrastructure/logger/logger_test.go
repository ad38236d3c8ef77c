package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWithFileOutputs(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Level:      "debug",
		Outputs:    []string{"file"},
		OutputFile: filepath.Join(dir, "greenfloor.log"),
		ErrorFile:  filepath.Join(dir, "error.log"),
		Format:     "console",
	})
	require.NoError(t, err)
	l.LogCycle("cycle_start", 1, nil)
	assert.NoError(t, l.Close())
}

func TestEventHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core))

	l.LogAction("m1", map[string]interface{}{"size": 5, "repeat": 2})
	l.LogGate("m1", map[string]interface{}{"direction": "sell"})
	l.LogDiagnostic("m2", "direction_not_configured", nil)
	l.LogError(errors.New("boom"), nil)

	entries := logs.All()
	require.Len(t, entries, 4)

	action := entries[0].ContextMap()
	assert.Equal(t, "action_event", entries[0].Message)
	assert.Equal(t, "planned_action", action["event"])
	assert.Equal(t, "m1", action["market_id"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "direction_not_configured", entries[2].ContextMap()["event"])
	assert.Equal(t, "boom", entries[3].ContextMap()["error"])
}

func TestWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := Wrap(zap.New(core)).WithFields(map[string]interface{}{"market_id": "m1"})
	l.Info("hello")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "m1", logs.All()[0].ContextMap()["market_id"])
}

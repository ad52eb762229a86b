package logsvc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/roster"
)

func newObserved(t *testing.T) (*RollbarLogger, *observer.ObservedLogs) {
	t.Helper()
	obsCore, logs := observer.New(zapcore.DebugLevel)
	conf := testConfig()
	return NewRollbarLogger(zap.New(obsCore), conf), logs
}

func testConfig() *core.Config {
	return &core.Config{Env: "TEST", TestMode: true, AppName: "Peer Eval"}
}

func TestRollbarLogger(t *testing.T) {
	l, logs := newObserved(t)

	student := roster.Student{ID: "1001", Name: "Alice Ampere", Email: "alice@test.ca", Group: "1"}
	l.Error("saving evaluation", errors.New("sheet locked"), student, map[string]interface{}{"attempt": 3}, "extra")
	l.Info("roster reloaded", roster.Student{})
	l.Debug("tick")
	l.Warn("slow relay")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)

	e := entries[0]
	assert.Equal(t, zapcore.ErrorLevel, e.Level)
	assert.Equal(t, "saving evaluation", e.Message)
	ctx := e.ContextMap()
	assert.Equal(t, "sheet locked", ctx["error"])
	assert.Equal(t, "1001", ctx["student_id"])
	assert.EqualValues(t, 3, ctx["attempt"])
	assert.Equal(t, "extra", ctx["arg3"])

	_, hasStudent := entries[1].ContextMap()["student_id"]
	assert.False(t, hasStudent, "empty students are not logged")

	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
}

func TestNewZap(t *testing.T) {
	conf := testConfig()
	zl, err := NewZap(conf)
	require.NoError(t, err)
	assert.False(t, zl.Core().Enabled(zapcore.ErrorLevel), "silent in test mode")

	conf.TestMode = false
	conf.Debug = true
	zl, err = NewZap(conf)
	require.NoError(t, err)
	assert.True(t, zl.Core().Enabled(zapcore.DebugLevel))

	conf.Debug = false
	zl, err = NewZap(conf)
	require.NoError(t, err)
	assert.False(t, zl.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, zl.Core().Enabled(zapcore.InfoLevel))
}

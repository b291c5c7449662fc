package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBridge_DisabledReturnsBase(t *testing.T) {
	base := zap.NewNop()
	lp := &LoggerProvider{}
	assert.Same(t, base, lp.Bridge(base, "farm", zapcore.InfoLevel))
}

func TestLevelFilterCore(t *testing.T) {
	inner, recorded := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}

	assert.False(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.ErrorLevel))

	logger := zap.New(core.With([]zapcore.Field{zap.String("component", "ledger")}))
	logger.Info("dropped")
	logger.Warn("kept")

	entries := recorded.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
	assert.Equal(t, "ledger", entries[0].ContextMap()["component"])
}

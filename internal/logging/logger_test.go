package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gpkgparity/internal/config"
)

func TestNew_Levels(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "error", Format: "json"}, false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))

	logger, err = New(config.LoggingConfig{Level: "error"}, true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel), "verbose forces debug")

	logger, err = New(config.LoggingConfig{}, false)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = New(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}

func TestFilter_DropsDisabledCategories(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := config.LoggingConfig{Categories: map[string]bool{"transform": false}}
	logger := zap.New(Filter(core, cfg))

	Get(logger, CategoryTransform).Info("hidden")
	Get(logger, CategoryTransform).With(zap.String("field", "id")).Warn("hidden too")
	Get(logger, CategoryCommit).Info("shown")
	Get(logger, CategoryLoader).Named("child").Info("shown nested")
	logger.Info("shown root")

	var messages []string
	for _, e := range logs.All() {
		messages = append(messages, e.Message)
	}
	assert.Equal(t, []string{"shown", "shown nested", "shown root"}, messages)
}

func TestFilter_NoCategoriesIsPassthrough(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Same(t, core, Filter(core, config.LoggingConfig{}))
}

func TestTimer_Stop(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := Get(zap.New(core), CategoryCommit)

	elapsed := StartTimer(logger, "commit").Stop()
	assert.GreaterOrEqual(t, int64(elapsed), int64(0))

	entries := logs.FilterMessage("commit completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "commit", entries[0].LoggerName)
	assert.Contains(t, entries[0].ContextMap(), "elapsed")
}

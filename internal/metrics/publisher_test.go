package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kebairia/jujubackup/internal/health"
	"github.com/kebairia/jujubackup/internal/logger"
)

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestPublish_Success(t *testing.T) {
	dir := t.TempDir()
	pub := NewPublisher(dir, logger.Nop())

	err := pub.Publish(Outcome{Duration: 1500 * time.Millisecond, Severity: health.OK, Purged: 1})
	require.NoError(t, err)

	var stats Stats
	readJSON(t, filepath.Join(dir, StatsFilename), &stats)
	assert.Equal(t, Stats{Duration: 1.5, StatusOK: 1, ResultCode: 0}, stats)

	var state State
	readJSON(t, filepath.Join(dir, StateFilename), &state)
	assert.Equal(t, State{Completed: 1, Failed: 0, Purged: 1}, state)
}

func TestPublish_Failure(t *testing.T) {
	dir := t.TempDir()
	pub := NewPublisher(dir, logger.Nop())

	require.NoError(t, pub.Publish(Outcome{Duration: time.Second, Severity: health.Critical}))

	var stats Stats
	readJSON(t, filepath.Join(dir, StatsFilename), &stats)
	assert.Equal(t, 2, stats.ResultCode)
	assert.Zero(t, stats.StatusOK)

	var state State
	readJSON(t, filepath.Join(dir, StateFilename), &state)
	assert.Equal(t, State{Completed: 0, Failed: 1, Purged: 0}, state)
}

func TestPublish_MissingDirectory(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	dir := filepath.Join(t.TempDir(), "absent")
	pub := NewPublisher(dir, logger.FromZap(zap.New(core)))

	require.NoError(t, pub.Publish(Outcome{Severity: health.OK}))
	assert.NoDirExists(t, dir)
	assert.Equal(t, 1, logs.FilterMessageSnippet("does not exist").Len())
}

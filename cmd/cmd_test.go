package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/kebairia/jujubackup/internal/health"
	"github.com/kebairia/jujubackup/internal/logger"
)

func TestRunCheck(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "backup.tar.gz")
	require.NoError(t, os.WriteFile(artifact, []byte("x"), 0o644))
	path := filepath.Join(dir, "auto_backup_results.json")
	ev := &health.Evaluator{Clock: testclock.NewClock(time.Now())}

	tests := []struct {
		name    string
		content string
		maxAge  int
		want    string
		code    int
	}{
		{
			name:    "ok",
			content: `{"controller_backups": [{"download_path": "` + artifact + `"}]}`,
			want:    "OK: backups are OK\n",
			code:    0,
		},
		{
			name:    "error",
			content: `{"ERROR": "boom"}`,
			want:    "CRITICAL: Detected error when performing backup: 'boom'\n",
			code:    2,
		},
		{
			name:    "invalid",
			content: `not json`,
			want:    "CRITICAL: Invalid backup results file: " + path + "\n",
			code:    2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			var out bytes.Buffer
			code := runCheck(&out, ev, path, tt.maxAge)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestRunCheck_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	var out bytes.Buffer
	code := runCheck(&out, health.NewEvaluator(), path, 25)
	assert.Equal(t, 2, code)
	assert.Equal(t, "CRITICAL: backup results file not found: "+path+"\n", out.String())
}

func TestRunCheck_Stale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auto_backup_results.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	ev := &health.Evaluator{Clock: testclock.NewClock(time.Now().Add(26 * time.Hour))}

	var out bytes.Buffer
	code := runCheck(&out, ev, path, 25)
	assert.Equal(t, 2, code)
	assert.Equal(t, "CRITICAL: backup results file "+path+" is older than max age 25 hours\n", out.String())

	out.Reset()
	assert.Equal(t, 0, runCheck(&out, ev, path, 0))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 2, ExitCode(&exitError{code: 2}))
	assert.Equal(t, 3, ExitCode(errors.Join(errors.New("x"), &exitError{code: 3})))
}

func TestRunOptions(t *testing.T) {
	defer func() { purgeDays, taskTimeoutSeconds, omitModels = 0, 0, nil }()

	opts := runOptions(10 * time.Minute)
	assert.Equal(t, 10*time.Minute, opts.TaskTimeout)
	assert.Equal(t, 0, opts.RetentionDays)
	assert.True(t, opts.Omit.IsEmpty())

	purgeDays, taskTimeoutSeconds, omitModels = 7, 120, []string{"c:admin/a", "c:admin/a", "c:admin/b"}
	opts = runOptions(10 * time.Minute)
	assert.Equal(t, 2*time.Minute, opts.TaskTimeout)
	assert.Equal(t, 7, opts.RetentionDays)
	assert.Equal(t, []string{"c:admin/a", "c:admin/b"}, opts.Omit.SortedValues())
}

func TestLogLevels(t *testing.T) {
	defer func() { Debug = false }()

	require.NoError(t, runCmd.PersistentPreRunE(runCmd, nil))
	assert.Equal(t, zapcore.ErrorLevel, logger.Level())

	require.NoError(t, rootCmd.PersistentPreRunE(installCmd, nil))
	assert.Equal(t, zapcore.InfoLevel, logger.Level())

	Debug = true
	require.NoError(t, runCmd.PersistentPreRunE(runCmd, nil))
	assert.Equal(t, zapcore.DebugLevel, logger.Level())
}

func TestLoadConfig_EnvWithoutFile(t *testing.T) {
	previous := ConfigFile
	defer func() { ConfigFile = previous }()
	ConfigFile = filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("JUJU_BACKUP_ALL_BACKUP_OUTPUT_DIRECTORY", "/srv/backups")

	cfg, err := loadConfig(runCmd)
	require.NoError(t, err)
	assert.Equal(t, "/srv/backups", cfg.Backup.OutputDirectory)
}

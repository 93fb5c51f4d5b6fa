package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/jujubackup/internal/logger"
)

func writeAged(t *testing.T, path string, age time.Duration, now time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestPurge(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	day := 24 * time.Hour

	old := filepath.Join(dir, "ctrl", "controller-backup-old.tar.gz")
	older := filepath.Join(dir, "ctrl", "model", "mysql", "dump-older.gz")
	borderline := filepath.Join(dir, "ctrl", "juju-client-config.tar.gz")
	fresh := filepath.Join(dir, "ctrl", "controller-backup-new.tar.gz")

	writeAged(t, old, 9*day, now)
	writeAged(t, older, 30*day, now)
	writeAged(t, borderline, 7*day+time.Hour, now)
	writeAged(t, fresh, time.Hour, now)

	result, err := Purge(dir, 7, now, logger.Nop())
	require.NoError(t, err)

	assert.Equal(t, PurgeResult{Files: 2, Bytes: 20}, result)
	assert.NoFileExists(t, old)
	assert.NoFileExists(t, older)
	assert.FileExists(t, borderline)
	assert.FileExists(t, fresh)
	assert.DirExists(t, filepath.Join(dir, "ctrl", "model", "mysql"))
}

func TestPurge_Disabled(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	path := filepath.Join(dir, "ancient.tgz")
	writeAged(t, path, 365*24*time.Hour, now)

	result, err := Purge(dir, 0, now, logger.Nop())
	require.NoError(t, err)
	assert.Zero(t, result.Files)
	assert.FileExists(t, path)
}

func TestPurge_MissingDirectory(t *testing.T) {
	_, err := Purge(filepath.Join(t.TempDir(), "nope"), 7, time.Now(), logger.Nop())
	assert.ErrorIs(t, err, ErrPurge)
}

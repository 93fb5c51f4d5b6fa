package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_ParsesBackupSection(t *testing.T) {
	path := writeConfig(t, `
backup:
  output_directory: "/srv/backups"
  schedule: "10 20 * * *"
  retention_days: 7
  task_timeout: 60s
  overall_timeout: 2h
  compress: true
  exclude_charms: [ceph-mon]
exporter:
  port: 10001
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/srv/backups", cfg.Backup.OutputDirectory)
	assert.Equal(t, "10 20 * * *", cfg.Backup.Schedule)
	assert.Equal(t, 7, cfg.Backup.RetentionDays)
	assert.Equal(t, 60*time.Second, cfg.Backup.TaskTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Backup.OverallTimeout)
	assert.True(t, cfg.Backup.Compress)
	assert.Equal(t, []string{"ceph-mon"}, cfg.Backup.ExcludeCharms)
	assert.Equal(t, 10001, cfg.Exporter.Port)

	// defaults survive a partial file
	assert.Equal(t, BackupUsername, cfg.Backup.User)
	assert.Equal(t, DefaultDataDir+"/auto_backup_results.json", cfg.Paths.ResultsFile)
	assert.Equal(t, 25, cfg.Monitoring.ResultsMaxAgeHours)
}

func TestLoadConfig_Include(t *testing.T) {
	dir := t.TempDir()
	inc := filepath.Join(dir, "juju.yaml")
	require.NoError(t, os.WriteFile(inc, []byte("juju:\n  binary: /snap/bin/juju\n"), 0o600))

	path := writeConfig(t, "include: ["+inc+"]\n")

	var cfg Config
	require.NoError(t, cfg.Load(path))
	assert.Equal(t, "/snap/bin/juju", cfg.Juju.Binary)
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	path := writeConfig(t, "backup:\n  output_dir: /tmp\n")
	var cfg Config
	assert.ErrorIs(t, cfg.Load(path), ErrLoadConfig)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	var cfg Config
	assert.ErrorIs(t, cfg.Load(filepath.Join(t.TempDir(), "nope.yaml")), ErrLoadConfig)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := Default()
	bad.Backup.Schedule = "10 20 * *"
	bad.Exporter.Port = 0
	bad.Backup.RetentionDays = -1
	err := bad.Validate()
	require.ErrorIs(t, err, ErrValidateConfig)
	assert.Contains(t, err.Error(), "backup.schedule")
	assert.Contains(t, err.Error(), "exporter.port")
	assert.Contains(t, err.Error(), "retention_days")
}

func TestPaths(t *testing.T) {
	p := Default().Paths
	assert.Equal(t, "/var/lib/jujubackupall/ssh/juju_id_rsa", p.SSHPrivateKey())
	assert.Equal(t, "/var/lib/jujubackupall/ssh/juju_id_rsa.pub", p.SSHPublicKey())
	assert.Equal(t, "/var/lib/jujubackupall/cookies", p.CookiesDir())
}

func TestFromEnv(t *testing.T) {
	t.Setenv("JUJU_BACKUP_ALL_BACKUP_RETENTION_DAYS", "3")
	t.Setenv("JUJU_BACKUP_ALL_BACKUP_OVERALL_TIMEOUT", "90m")
	t.Setenv("JUJU_BACKUP_ALL_PATHS_RESULTS_FILE", "/tmp/results.json")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Backup.RetentionDays)
	assert.Equal(t, 90*time.Minute, cfg.Backup.OverallTimeout)
	assert.Equal(t, "/tmp/results.json", cfg.Paths.ResultsFile)
	assert.Equal(t, BackupUsername, cfg.Backup.User)

	t.Setenv("JUJU_BACKUP_ALL_BACKUP_RETENTION_DAYS", "-1")
	_, err = FromEnv()
	assert.ErrorIs(t, err, ErrValidateConfig)
}

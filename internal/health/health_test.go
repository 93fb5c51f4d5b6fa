package health

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeResults(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "auto_backup_results.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("backup"), 0o600))
}

func TestEvaluate_OK(t *testing.T) {
	dir := t.TempDir()
	controller := filepath.Join(dir, "c.tgz")
	app := filepath.Join(dir, "mysql.gz")
	touch(t, controller)
	touch(t, app)

	path := writeResults(t, dir, `{
		"controller_backups": [{"download_path": "`+controller+`"}],
		"config_backups": [],
		"app_backups": [{"app": "mysql", "download_path": "`+app+`"}],
		"summary": "not a backup list"
	}`)

	result := NewEvaluator().Evaluate(path, 25*time.Hour)
	assert.Equal(t, OK, result.Severity)
	assert.Equal(t, "OK: backups are OK", result.Line())
	assert.Equal(t, 0, result.Severity.ExitCode())
}

func TestEvaluate_OKWithUntypedMetadata(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "backup.tgz")
	touch(t, artifact)

	for name, content := range map[string]string{
		"numeric controller": `{"controller_backups": [{"controller": 7, "download_path": "` + artifact + `"}]}`,
		"model object": `{"app_backups": [{"app": "mysql", "download_path": "` + artifact +
			`", "model": {"name": "m", "uuid": "x"}}]}`,
		"numeric unit": `{"app_backups": [{"unit": 0, "download_path": "` + artifact + `"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := writeResults(t, t.TempDir(), content)
			result := NewEvaluator().Evaluate(path, 25*time.Hour)
			assert.Equal(t, "OK: backups are OK", result.Line())
		})
	}
}

func TestEvaluate_Critical(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "c.tgz")
	touch(t, existing)

	cases := []struct {
		name     string
		content  string
		contains string
	}{
		{
			name:     "error trace",
			content:  `{"ERROR": "Traceback (most recent call last): boom"}`,
			contains: "Detected error when performing backup: 'Traceback (most recent call last): boom'",
		},
		{
			name:     "error trace wins over valid backups",
			content:  `{"controller_backups": [{"download_path": "` + existing + `"}], "ERROR": "crash"}`,
			contains: "crash",
		},
		{
			name:     "partial failures",
			content:  `{"controller_backups": [{"download_path": "` + existing + `"}], "errors": [{"name": "ctrl", "error": "timeout"}]}`,
			contains: "Detected error when performing backup",
		},
		{
			name:     "missing download_path",
			content:  `{"app_backups": [{"app": "mysql"}]}`,
			contains: "Missing backup download_path for: app_backups",
		},
		{
			name:     "nonexistent artifact",
			content:  `{"controller_backups": [{"download_path": "/nonexistent/c.tgz"}]}`,
			contains: "Backup file is missing for: controller_backups",
		},
		{
			name:     "artifact is a directory",
			content:  `{"controller_backups": [{"download_path": "` + dir + `"}]}`,
			contains: "Backup file is missing for: controller_backups",
		},
		{
			name:     "not json",
			content:  `definitely not json`,
			contains: "Invalid backup results file",
		},
		{
			name:     "backups value is not a list",
			content:  `{"app_backups": "mysql"}`,
			contains: "Invalid backup results file",
		},
		{
			name:     "backups value is null",
			content:  `{"app_backups": null}`,
			contains: "Invalid backup results file",
		},
		{
			name:     "download_path is not a string",
			content:  `{"app_backups": [{"download_path": 12}]}`,
			contains: "Invalid backup results file",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeResults(t, t.TempDir(), tc.content)
			result := NewEvaluator().Evaluate(path, 0)
			assert.Equal(t, Critical, result.Severity)
			assert.Equal(t, 2, result.Severity.ExitCode())
			assert.Contains(t, result.Message, tc.contains)
		})
	}
}

func TestEvaluate_NotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	for _, maxAge := range []time.Duration{0, 25 * time.Hour} {
		result := NewEvaluator().Evaluate(path, maxAge)
		assert.Equal(t, Critical, result.Severity)
		assert.Contains(t, result.Message, "backup results file not found")
	}
}

func TestEvaluate_Staleness(t *testing.T) {
	dir := t.TempDir()
	path := writeResults(t, dir, `{"controller_backups": []}`)
	info, err := os.Stat(path)
	require.NoError(t, err)

	evaluator := &Evaluator{Clock: testclock.NewClock(info.ModTime().Add(26 * time.Hour))}

	result := evaluator.Evaluate(path, 25*time.Hour)
	assert.Equal(t, Critical, result.Severity)
	assert.Contains(t, result.Message, "is older than max age 25 hours")

	// zero disables the check, however old the file is
	evaluator.Clock = testclock.NewClock(info.ModTime().Add(1000 * time.Hour))
	result = evaluator.Evaluate(path, 0)
	assert.Equal(t, OK, result.Severity)

	evaluator.Clock = testclock.NewClock(info.ModTime().Add(time.Hour))
	result = evaluator.Evaluate(path, 25*time.Hour)
	assert.Equal(t, OK, result.Severity)
}

func TestEvaluate_NeverWarningOrUnknown(t *testing.T) {
	dir := t.TempDir()
	contents := []string{
		`{}`,
		`{"ERROR": ""}`,
		`{"errors": []}`,
		`{"x_backups": [{}]}`,
		`[]`,
		`null`,
	}
	for _, content := range contents {
		path := writeResults(t, dir, content)
		severity := NewEvaluator().Evaluate(path, 0).Severity
		assert.NotEqual(t, Warning, severity, content)
		assert.NotEqual(t, Unknown, severity, content)
	}
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "OK", OK.String())
	assert.Equal(t, "WARNING", Warning.String())
	assert.Equal(t, "CRITICAL", Critical.String())
	assert.Equal(t, "UNKNOWN", Unknown.String())
	assert.Equal(t, "UNKNOWN", Severity(9).String())
	assert.Equal(t, 3, Unknown.ExitCode())
}

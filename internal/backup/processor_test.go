package backup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/collections/set"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/jujubackup/internal/logger"
)

func script(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "juju-backup-all")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecProcessor_Args(t *testing.T) {
	p := NewExecProcessor(
		WithOutputDir("/opt/backups"),
		WithControllers("ctrl-a", "ctrl-b"),
		WithExclusions(true, false, []string{"ceph-mon"}, []string{"ctrl-a:admin/k8s"}),
		WithLogger(logger.Nop()),
	)

	args := p.Args(set.NewStrings("ctrl-b:admin/default"), 90*time.Second)
	assert.Equal(t, []string{
		"--output-dir", "/opt/backups",
		"--controller", "ctrl-a",
		"--controller", "ctrl-b",
		"--exclude-controller-backup",
		"--exclude-charm", "ceph-mon",
		"--exclude-model", "ctrl-a:admin/k8s",
		"--exclude-model", "ctrl-b:admin/default",
		"--task-timeout", "90",
	}, args)
}

func TestExecProcessor_Process(t *testing.T) {
	cmd := script(t, `echo "connecting to controllers"
echo '{"controller_backups": [{"controller": "c", "download_path": "/tmp/c.tgz"}], "app_backups": []}'`)

	p := NewExecProcessor(WithCommand(cmd), WithOutputDir(t.TempDir()), WithLogger(logger.Nop()))
	p.Stderr = io.Discard

	doc, err := p.Process(context.Background(), set.NewStrings(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"controller_backups", "app_backups"}, doc.BackupKinds())
}

func TestExecProcessor_CommandFails(t *testing.T) {
	cmd := script(t, `echo "bad config" >&2; exit 3`)
	p := NewExecProcessor(WithCommand(cmd), WithLogger(logger.Nop()))
	p.Stderr = io.Discard

	_, err := p.Process(context.Background(), set.NewStrings(), 0)
	assert.ErrorIs(t, err, ErrBackupFailed)
}

func TestExecProcessor_UnreadableOutput(t *testing.T) {
	cmd := script(t, `echo "done"`)
	p := NewExecProcessor(WithCommand(cmd), WithLogger(logger.Nop()))

	_, err := p.Process(context.Background(), set.NewStrings(), 0)
	assert.ErrorIs(t, err, ErrBackupFailed)
}

func TestExecProcessor_Timeout(t *testing.T) {
	cmd := script(t, `exec sleep 5`)
	p := NewExecProcessor(
		WithCommand(cmd),
		WithOverallTimeout(50*time.Millisecond),
		WithLogger(logger.Nop()),
	)

	_, err := p.Process(context.Background(), set.NewStrings(), 0)
	assert.ErrorIs(t, err, ErrTimeout)
}

package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/juju/collections/set"

	"github.com/kebairia/jujubackup/internal/logger"
	"github.com/kebairia/jujubackup/internal/results"
)

var (
	ErrTimeout      = errors.New("backup timed out")
	ErrBackupFailed = errors.New("backup failed")
)

// Processor runs the actual backups. Implementations attempt every target
// not in omit independently and report per-target failures in the
// document's "errors" field; an error return means the whole run failed.
type Processor interface {
	Process(ctx context.Context, omit set.Strings, taskTimeout time.Duration) (*results.Document, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, omit set.Strings, taskTimeout time.Duration) (*results.Document, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, omit set.Strings, taskTimeout time.Duration) (*results.Document, error) {
	return f(ctx, omit, taskTimeout)
}

// ExecOption lets you override default settings on an ExecProcessor.
type ExecOption func(*ExecProcessor)

// ExecProcessor delegates to the juju-backup-all command, which prints the
// results document on standard output.
type ExecProcessor struct {
	Command                   string
	JujuData                  string
	OutputDir                 string
	Controllers               []string
	ExcludeControllerBackup   bool
	ExcludeClientConfigBackup bool
	ExcludeCharms             []string
	ExcludeModels             []string
	// Timeout bounds the whole command; zero means no overall limit.
	Timeout time.Duration
	Logger  logger.Logger
	Stderr  io.Writer
}

// NewExecProcessor returns an ExecProcessor with overrides applied.
func NewExecProcessor(opts ...ExecOption) *ExecProcessor {
	p := &ExecProcessor{
		Command: "juju-backup-all",
		Logger:  logger.Global(),
		Stderr:  os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithCommand overrides the backup executable.
func WithCommand(command string) ExecOption {
	return func(p *ExecProcessor) {
		if command != "" {
			p.Command = command
		}
	}
}

// WithJujuData sets JUJU_DATA for the command.
func WithJujuData(dir string) ExecOption {
	return func(p *ExecProcessor) {
		if dir != "" {
			p.JujuData = dir
		}
	}
}

// WithOutputDir overrides where backups are written.
func WithOutputDir(dir string) ExecOption {
	return func(p *ExecProcessor) {
		if dir != "" {
			p.OutputDir = dir
		}
	}
}

// WithControllers limits the run to the named controllers.
func WithControllers(names ...string) ExecOption {
	return func(p *ExecProcessor) {
		p.Controllers = append(p.Controllers, names...)
	}
}

// WithExclusions configures what is left out of every run.
func WithExclusions(controllerBackup, clientConfig bool, charms, models []string) ExecOption {
	return func(p *ExecProcessor) {
		p.ExcludeControllerBackup = controllerBackup
		p.ExcludeClientConfigBackup = clientConfig
		p.ExcludeCharms = append(p.ExcludeCharms, charms...)
		p.ExcludeModels = append(p.ExcludeModels, models...)
	}
}

// WithOverallTimeout bounds the whole command.
func WithOverallTimeout(timeout time.Duration) ExecOption {
	return func(p *ExecProcessor) {
		p.Timeout = timeout
	}
}

// WithLogger overrides the logger.
func WithLogger(log logger.Logger) ExecOption {
	return func(p *ExecProcessor) {
		if log != nil {
			p.Logger = log
		}
	}
}

// Args builds the command line for one run.
func (p *ExecProcessor) Args(omit set.Strings, taskTimeout time.Duration) []string {
	args := []string{"--output-dir", p.OutputDir}
	for _, name := range p.Controllers {
		args = append(args, "--controller", name)
	}
	if p.ExcludeControllerBackup {
		args = append(args, "--exclude-controller-backup")
	}
	if p.ExcludeClientConfigBackup {
		args = append(args, "--exclude-juju-client-config-backup")
	}
	for _, charm := range p.ExcludeCharms {
		args = append(args, "--exclude-charm", charm)
	}
	models := set.NewStrings(p.ExcludeModels...).Union(omit)
	for _, model := range models.SortedValues() {
		args = append(args, "--exclude-model", model)
	}
	if taskTimeout > 0 {
		args = append(args, "--task-timeout", strconv.Itoa(int(taskTimeout.Seconds())))
	}
	return args
}

// Process runs the backup command and parses its output.
func (p *ExecProcessor) Process(ctx context.Context, omit set.Strings, taskTimeout time.Duration) (*results.Document, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, p.Timeout, ErrTimeout)
		defer cancel()
	}

	args := p.Args(omit, taskTimeout)
	cmd := exec.CommandContext(ctx, p.Command, args...)
	cmd.Env = os.Environ()
	if p.JujuData != "" {
		cmd.Env = append(cmd.Env, "JUJU_DATA="+p.JujuData)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = p.Stderr

	p.Logger.Info("backup started",
		"command", p.Command,
		"output_dir", p.OutputDir,
		"omit", omit.SortedValues(),
	)

	startTime := time.Now()
	if err := cmd.Run(); err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, p.Command, p.Timeout)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrBackupFailed, p.Command, err)
	}

	doc, err := results.Parse(lastJSONObject(stdout.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable output of %s: %v", ErrBackupFailed, p.Command, err)
	}

	p.Logger.Info("backup completed",
		"command", p.Command,
		"duration", time.Since(startTime).String(),
		"kinds", doc.BackupKinds(),
	)
	return doc, nil
}

// lastJSONObject skips any progress text printed before the results.
func lastJSONObject(out []byte) []byte {
	out = bytes.TrimSpace(out)
	if i := strings.LastIndex(string(out), "\n{"); i >= 0 {
		return out[i+1:]
	}
	return out
}

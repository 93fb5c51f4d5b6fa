package operations

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/juju/collections/set"

	"github.com/kebairia/jujubackup/internal/backup"
	"github.com/kebairia/jujubackup/internal/guard"
	"github.com/kebairia/jujubackup/internal/logger"
	"github.com/kebairia/jujubackup/internal/metrics"
	"github.com/kebairia/jujubackup/internal/results"
)

// RunOptions are the per-invocation settings of a scheduled run.
type RunOptions struct {
	// Omit lists models left out of this run.
	Omit set.Strings
	// RetentionDays enables purging of older backups when positive.
	RetentionDays int
	// TaskTimeout bounds each individual backup task.
	TaskTimeout time.Duration
}

// panicError carries a recovered panic out of a run.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// RunBackup performs one guarded scheduled run.
//
// Only one run may hold the marker at a time; a second run returns an error
// matching guard.ErrAlreadyRunning without touching the results file or the
// stats. Otherwise the results file always ends up describing this run: the
// processor's document on success, a document holding only "ERROR" on
// failure. The marker is released, the results file evaluated and the stats
// published on every path, after which the original failure is returned.
func (om *OperationManager) RunBackup(ctx context.Context, opts RunOptions) error {
	marker, err := guard.Acquire(om.cfg.Paths.PIDFile)
	if err != nil {
		om.log.Error("backup run refused", "error", err.Error())
		return err
	}

	log := om.log.With("run_id", uuid.NewString())
	start := om.clock.Now()
	purged := 0

	log.Info("backup run started",
		"omit", opts.Omit.SortedValues(),
		"retention_days", opts.RetentionDays,
		"task_timeout", opts.TaskTimeout.String(),
	)

	defer func() {
		if err := marker.Release(); err != nil {
			log.Error("cannot remove run marker", "path", marker.Path(), "error", err.Error())
		}
		result := om.evaluator.Evaluate(om.cfg.Paths.ResultsFile, 0)
		outcome := metrics.Outcome{
			Duration: om.clock.Now().Sub(start),
			Severity: result.Severity,
			Purged:   purged,
		}
		if err := om.publisher.Publish(outcome); err != nil {
			log.Error("cannot publish backup stats", "error", err.Error())
		}
		log.Info("backup run finished",
			"status", result.Line(),
			"duration", outcome.Duration.String(),
			"purged", purged,
		)
	}()

	err = om.attempt(ctx, log, opts, &purged)
	if err != nil {
		log.Error("backup run failed", "error", err.Error())
		if werr := om.store.Write(results.ErrorDocument(failureTrace(err))); werr != nil {
			log.Error("cannot write error results", "path", om.cfg.Paths.ResultsFile, "error", werr.Error())
		}
	}
	return err
}

// attempt runs the steps whose failure turns into an ERROR document.
func (om *OperationManager) attempt(ctx context.Context, log logger.Logger, opts RunOptions, purged *int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	doc, err := om.backup(ctx, log, opts.Omit, opts.TaskTimeout)
	if err != nil {
		return err
	}
	if err := om.store.Write(doc); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	log.Debug("backup results written", "path", om.cfg.Paths.ResultsFile)

	if opts.RetentionDays > 0 {
		if _, err := backup.Purge(om.cfg.Backup.OutputDirectory, opts.RetentionDays, om.clock.Now(), log); err != nil {
			return err
		}
		*purged = 1
	}
	return nil
}

// PerformBackup runs an unguarded on-demand backup and returns its results
// without persisting them.
func (om *OperationManager) PerformBackup(ctx context.Context, omit set.Strings) (*results.Document, error) {
	return om.backup(ctx, om.log, omit, om.cfg.Backup.TaskTimeout)
}

// backup pushes the SSH key, delegates to the processor and compresses the
// produced artifacts when enabled.
func (om *OperationManager) backup(ctx context.Context, log logger.Logger, omit set.Strings, taskTimeout time.Duration) (*results.Document, error) {
	if _, err := om.PushKeys(ctx); err != nil {
		return nil, fmt.Errorf("pre-flight ssh key push: %w", err)
	}

	doc, err := om.processor.Process(ctx, omit, taskTimeout)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: no results returned", backup.ErrBackupFailed)
	}

	if om.cfg.Backup.Compress {
		if err := CompressArtifacts(doc, log); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// failureTrace renders err for the ERROR field, with the goroutine stack for
// recovered panics.
func failureTrace(err error) string {
	var p *panicError
	if errors.As(err, &p) {
		return p.Error() + "\n" + string(p.stack)
	}
	return err.Error()
}

// Package health classifies a backup results file into a Nagios severity.
package health

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/juju/clock"

	"github.com/kebairia/jujubackup/internal/fileutil"
	"github.com/kebairia/jujubackup/internal/results"
)

// Severity is a Nagios status. Higher is worse.
type Severity int

const (
	OK Severity = iota
	Warning
	Critical
	Unknown
)

var severityNames = map[Severity]string{
	OK:       "OK",
	Warning:  "WARNING",
	Critical: "CRITICAL",
	Unknown:  "UNKNOWN",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ExitCode is the plugin exit status for s.
func (s Severity) ExitCode() int { return int(s) }

// Result is the outcome of one evaluation.
type Result struct {
	Severity Severity
	Message  string
}

// Line renders the single output line expected by the monitoring agent.
func (r Result) Line() string {
	return fmt.Sprintf("%s: %s", r.Severity, r.Message)
}

func critical(format string, args ...any) Result {
	return Result{Severity: Critical, Message: fmt.Sprintf(format, args...)}
}

// Evaluator inspects results files.
type Evaluator struct {
	Clock clock.Clock
}

// NewEvaluator returns an Evaluator using the wall clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{Clock: clock.WallClock}
}

// Evaluate classifies the results file at path. A maxAge of zero disables
// the staleness check.
//
// Pipeline failures (missing, stale or unreadable file) are checked before
// content failures; both map to Critical. Warning and Unknown are never
// returned.
func (e *Evaluator) Evaluate(path string, maxAge time.Duration) Result {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return critical("backup results file not found: %s", path)
	}

	if maxAge > 0 {
		age := e.Clock.Now().Sub(info.ModTime())
		if age > maxAge {
			return critical("backup results file %s is older than max age %s hours",
				path, strconv.FormatFloat(maxAge.Hours(), 'f', -1, 64))
		}
	}

	doc, err := results.NewStore(path).Read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, results.ErrNotFound) {
			return critical("backup results file not found: %s", path)
		}
		return critical("Invalid backup results file: %s", path)
	}
	return evaluateDocument(path, doc)
}

func evaluateDocument(path string, doc *results.Document) Result {
	if trace, ok := doc.Error(); ok {
		return critical("Detected error when performing backup: '%s'", results.String(trace))
	}
	if failures, ok := doc.Errors(); ok {
		return critical("Detected error when performing backup: '%s'", results.String(failures))
	}

	for _, kind := range doc.BackupKinds() {
		entries, err := doc.RawEntries(kind)
		if err != nil {
			return critical("Invalid backup results file: %s", path)
		}
		for _, raw := range entries {
			entry, hasPath, err := results.DecodeEntry(raw)
			switch {
			case !hasPath:
				return critical("Missing backup download_path for: %s, details: %s",
					kind, results.String(raw))
			case err != nil:
				return critical("Invalid backup results file: %s", path)
			case !fileutil.IsRegularFile(entry.DownloadPath):
				return critical("Backup file is missing for: %s, details: %s",
					kind, results.String(raw))
			}
		}
	}

	return Result{Severity: OK, Message: "backups are OK"}
}

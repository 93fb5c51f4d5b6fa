package metrics

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kebairia/jujubackup/internal/fileutil"
	"github.com/kebairia/jujubackup/internal/health"
	"github.com/kebairia/jujubackup/internal/logger"
)

const (
	StatsFilename = "backup_stats.json"
	StateFilename = "backup_state.json"
)

// Stats describes how the last run went.
type Stats struct {
	Duration   float64 `json:"duration"`
	StatusOK   float64 `json:"status_ok"`
	ResultCode int     `json:"result_code"`
}

// State is the completion summary of the last run.
type State struct {
	Completed float64 `json:"completed"`
	Failed    float64 `json:"failed"`
	Purged    int     `json:"purged"`
}

// Outcome is what a run hands over once it is finished.
type Outcome struct {
	Duration time.Duration
	Severity health.Severity
	Purged   int
}

// Stats derives the stats document.
func (o Outcome) Stats() Stats {
	return Stats{
		Duration:   o.Duration.Seconds(),
		StatusOK:   o.statusOK(),
		ResultCode: o.Severity.ExitCode(),
	}
}

// State derives the state document.
func (o Outcome) State() State {
	ok := o.statusOK()
	return State{
		Completed: ok,
		Failed:    1 - ok,
		Purged:    o.Purged,
	}
}

func (o Outcome) statusOK() float64 {
	if o.Severity == health.OK {
		return 1
	}
	return 0
}

// Publisher writes run statistics for the exporter.
type Publisher struct {
	dir string
	log logger.Logger
}

// NewPublisher returns a Publisher writing into dir.
func NewPublisher(dir string, log logger.Logger) *Publisher {
	return &Publisher{dir: dir, log: log}
}

// Dir returns the destination directory.
func (p *Publisher) Dir() string { return p.dir }

// Publish writes both documents. A missing destination directory means the
// exporter is not installed; the documents are skipped with a warning.
func (p *Publisher) Publish(outcome Outcome) error {
	if !fileutil.DirExists(p.dir) {
		p.log.Warn("exporter directory does not exist, skip writing backup info",
			"dir", p.dir,
		)
		return nil
	}

	docs := []struct {
		name string
		body any
	}{
		{StatsFilename, outcome.Stats()},
		{StateFilename, outcome.State()},
	}
	for _, doc := range docs {
		path := filepath.Join(p.dir, doc.name)
		if err := fileutil.WriteJSON(path, doc.body); err != nil {
			return fmt.Errorf("publish %s: %w", doc.name, err)
		}
		p.log.Debug("backup info written", "path", path)
	}
	return nil
}

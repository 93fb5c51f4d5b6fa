// Package exporter serves the backup statistics as Prometheus metrics and
// manages the exporter service on the host.
package exporter

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kebairia/jujubackup/internal/logger"
	"github.com/kebairia/jujubackup/internal/metrics"
)

const namespace = "juju_backup_all"

// Collector exposes the last run's stats files as gauges. Files are read on
// every scrape so a finished run shows up without restarting the exporter.
type Collector struct {
	dir string
	log logger.Logger

	duration   *prometheus.Desc
	statusOK   *prometheus.Desc
	resultCode *prometheus.Desc
	completed  *prometheus.Desc
	failed     *prometheus.Desc
	purged     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector reading from dir.
func NewCollector(dir string, log logger.Logger) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "backup", name), help, nil, nil)
	}
	return &Collector{
		dir:        dir,
		log:        log,
		duration:   desc("duration_seconds", "Duration of the last backup run in seconds."),
		statusOK:   desc("status_ok", "1 if the last backup run was healthy, 0 otherwise."),
		resultCode: desc("result_code", "Health check exit code of the last backup run."),
		completed:  desc("completed", "1 if the last backup run completed."),
		failed:     desc("failed", "1 if the last backup run failed."),
		purged:     desc("purged", "Purge passes executed by the last backup run."),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.duration
	ch <- c.statusOK
	ch <- c.resultCode
	ch <- c.completed
	ch <- c.failed
	ch <- c.purged
}

// Collect implements the prometheus.Collector interface. A missing or
// unreadable file drops its metrics from the scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var stats metrics.Stats
	if c.read(metrics.StatsFilename, &stats) {
		ch <- prometheus.MustNewConstMetric(c.duration, prometheus.GaugeValue, stats.Duration)
		ch <- prometheus.MustNewConstMetric(c.statusOK, prometheus.GaugeValue, stats.StatusOK)
		ch <- prometheus.MustNewConstMetric(c.resultCode, prometheus.GaugeValue, float64(stats.ResultCode))
	}

	var state metrics.State
	if c.read(metrics.StateFilename, &state) {
		ch <- prometheus.MustNewConstMetric(c.completed, prometheus.GaugeValue, state.Completed)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.GaugeValue, state.Failed)
		ch <- prometheus.MustNewConstMetric(c.purged, prometheus.GaugeValue, float64(state.Purged))
	}
}

func (c *Collector) read(name string, v any) bool {
	path := filepath.Join(c.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		c.log.Debug("stats file not readable", "path", path, "error", err.Error())
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.log.Warn("invalid stats file", "path", path, "error", err.Error())
		return false
	}
	return true
}

// Package ssdlc logs service lifecycle events in the format security
// monitoring expects.
package ssdlc

import (
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/kebairia/jujubackup/internal/logger"
)

// Event is a system lifecycle event.
type Event string

const (
	Startup  Event = "sys_startup"
	Shutdown Event = "sys_shutdown"
	Restart  Event = "sys_restart"
	Crash    Event = "sys_crash"
)

// ExporterService is the service name of the metrics exporter.
const ExporterService = "juju-backup-all-exporter"

var descriptions = map[Event]string{
	Startup:  "juju-backup-all start service %s",
	Shutdown: "juju-backup-all shutdown service %s",
	Restart:  "juju-backup-all restart service %s",
	Crash:    "juju-backup-all service %s crash",
}

// Recorder writes lifecycle events for one service.
type Recorder struct {
	log     logger.Logger
	clock   clock.Clock
	service string
}

// NewRecorder returns a Recorder for service. The wall clock is used when
// clk is nil.
func NewRecorder(log logger.Logger, clk clock.Clock, service string) *Recorder {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Recorder{log: log, clock: clk, service: service}
}

// Record logs event with an optional extra message.
func (r *Recorder) Record(event Event, msg string) {
	format, ok := descriptions[event]
	if !ok {
		format = string(event) + " %s"
	}
	description := strings.TrimSpace(fmt.Sprintf(format, r.service) + " " + msg)

	r.log.Warn("ssdlc system event",
		"datetime", r.clock.Now().Format(time.RFC3339),
		"appid", "service."+r.service,
		"event", string(event)+":"+r.service,
		"level", "WARN",
		"description", description,
	)
}

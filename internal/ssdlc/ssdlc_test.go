package ssdlc

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kebairia/jujubackup/internal/logger"
)

func TestRecord(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRecorder(logger.FromZap(zap.New(core)), testclock.NewClock(now), ExporterService)

	r.Record(Startup, "")
	r.Record(Restart, "health check failed")

	entries := logs.FilterMessage("ssdlc system event").All()
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, zapcore.WarnLevel, first.Level)
	assert.Equal(t, map[string]any{
		"datetime":    "2025-01-01T12:00:00Z",
		"appid":       "service.juju-backup-all-exporter",
		"event":       "sys_startup:juju-backup-all-exporter",
		"level":       "WARN",
		"description": "juju-backup-all start service juju-backup-all-exporter",
	}, first.ContextMap())

	assert.Equal(t,
		"juju-backup-all restart service juju-backup-all-exporter health check failed",
		entries[1].ContextMap()["description"])
}

func TestRecord_AllEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewRecorder(logger.FromZap(zap.New(core)), nil, "svc")

	for _, event := range []Event{Startup, Shutdown, Restart, Crash} {
		r.Record(event, "")
	}

	var got []any
	for _, e := range logs.All() {
		got = append(got, e.ContextMap()["description"])
	}
	assert.Equal(t, []any{
		"juju-backup-all start service svc",
		"juju-backup-all shutdown service svc",
		"juju-backup-all restart service svc",
		"juju-backup-all service svc crash",
	}, got)
}

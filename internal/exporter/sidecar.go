package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"gopkg.in/yaml.v3"

	"github.com/kebairia/jujubackup/internal/config"
	"github.com/kebairia/jujubackup/internal/fileutil"
	"github.com/kebairia/jujubackup/internal/logger"
	"github.com/kebairia/jujubackup/internal/ssdlc"
)

// ErrNotInstalled indicates an operation on an exporter that is not present.
var ErrNotInstalled = errors.New("exporter is not installed")

const (
	healthAttempts   = 3
	healthRetryDelay = 5 * time.Second
	healthTimeout    = 5 * time.Second
)

// Settings are the operator-facing exporter options a reconcile compares.
type Settings struct {
	Snap    string
	Channel string
	Port    int
}

// SettingsFrom extracts the reconciled settings from cfg.
func SettingsFrom(cfg config.ExporterConfig) Settings {
	return Settings{Snap: cfg.Snap, Channel: cfg.Channel, Port: cfg.Port}
}

// TargetPublisher announces where the exporter can be scraped.
type TargetPublisher interface {
	PublishTargets(ctx context.Context, targets []string) error
}

// FileTargetPublisher writes Prometheus scrape job specs to a JSON file.
type FileTargetPublisher struct {
	Path string
}

type staticConfig struct {
	Targets []string `json:"targets"`
}

type scrapeJob struct {
	StaticConfigs []staticConfig `json:"static_configs"`
}

// PublishTargets implements TargetPublisher.
func (p FileTargetPublisher) PublishTargets(_ context.Context, targets []string) error {
	jobs := []scrapeJob{{StaticConfigs: []staticConfig{{Targets: targets}}}}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scrape jobs: %w", err)
	}
	if err := fileutil.EnsureDirectoryExist(filepath.Dir(p.Path), 0o755); err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(p.Path, append(data, '\n'), 0o644)
}

// SidecarOption lets you override default settings on a Sidecar.
type SidecarOption func(*Sidecar)

// WithSnapClient replaces the snap client.
func WithSnapClient(c SnapClient) SidecarOption {
	return func(s *Sidecar) {
		if c != nil {
			s.snap = c
		}
	}
}

// WithClock replaces the clock used between health probes.
func WithClock(clk clock.Clock) SidecarOption {
	return func(s *Sidecar) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithHTTPClient replaces the client used for health probes.
func WithHTTPClient(c *http.Client) SidecarOption {
	return func(s *Sidecar) {
		if c != nil {
			s.http = c
		}
	}
}

// WithRetryDelay overrides the delay between health probes.
func WithRetryDelay(d time.Duration) SidecarOption {
	return func(s *Sidecar) {
		s.retryDelay = d
	}
}

// WithHealthURL overrides the probed metrics endpoint.
func WithHealthURL(url string) SidecarOption {
	return func(s *Sidecar) {
		s.healthURL = url
	}
}

// Sidecar manages the exporter snap.
type Sidecar struct {
	name       string
	cfg        config.ExporterConfig
	snap       SnapClient
	log        logger.Logger
	events     *ssdlc.Recorder
	clock      clock.Clock
	http       *http.Client
	retryDelay time.Duration
	healthURL  string
}

// NewSidecar returns a Sidecar for cfg.
func NewSidecar(cfg config.ExporterConfig, log logger.Logger, opts ...SidecarOption) *Sidecar {
	s := &Sidecar{
		name:       config.ExporterName,
		cfg:        cfg,
		snap:       NewSnapClient(),
		log:        log,
		clock:      clock.WallClock,
		http:       &http.Client{Timeout: healthTimeout},
		retryDelay: healthRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = ssdlc.NewRecorder(log, s.clock, ssdlc.ExporterService)
	return s
}

// InstallOrRefresh installs the exporter from the configured local snap
// file, or from the store channel.
func (s *Sidecar) InstallOrRefresh(ctx context.Context) error {
	s.log.Info("installing exporter snap", "snap", s.cfg.Snap, "channel", s.cfg.Channel)
	var err error
	if s.cfg.Snap != "" {
		err = s.snap.InstallLocal(ctx, s.cfg.Snap)
	} else {
		err = s.snap.Install(ctx, s.name, s.cfg.Channel)
	}
	if err != nil {
		return fmt.Errorf("install exporter: %w", err)
	}
	s.log.Info("exporter snap installed")
	return nil
}

// Remove uninstalls the exporter.
func (s *Sidecar) Remove(ctx context.Context) error {
	return s.installed(ctx, "remove", func() error {
		if err := s.snap.Remove(ctx, s.name); err != nil {
			return err
		}
		s.events.Record(ssdlc.Shutdown, "snap removed")
		return nil
	})
}

// Start starts the exporter service.
func (s *Sidecar) Start(ctx context.Context) error {
	return s.installed(ctx, "start", func() error {
		if err := s.snap.Start(ctx, s.name); err != nil {
			return err
		}
		s.events.Record(ssdlc.Startup, "")
		return nil
	})
}

// Stop stops the exporter service.
func (s *Sidecar) Stop(ctx context.Context) error {
	return s.installed(ctx, "stop", func() error {
		if err := s.snap.Stop(ctx, s.name); err != nil {
			return err
		}
		s.events.Record(ssdlc.Shutdown, "")
		return nil
	})
}

// Restart restarts the exporter service.
func (s *Sidecar) Restart(ctx context.Context) error {
	return s.installed(ctx, "restart", func() error {
		if err := s.snap.Restart(ctx, s.name); err != nil {
			return err
		}
		s.events.Record(ssdlc.Restart, "")
		return nil
	})
}

// Configure writes the exporter configuration and restarts the service.
func (s *Sidecar) Configure(ctx context.Context, port int, statsDir string) error {
	return s.installed(ctx, "configure", func() error {
		data, err := yaml.Marshal(ServerConfig{Port: port, Level: s.cfg.Level, BackupPath: statsDir})
		if err != nil {
			return fmt.Errorf("encode exporter config: %w", err)
		}
		if err := fileutil.EnsureDirectoryExist(filepath.Dir(s.cfg.ConfigFile), 0o755); err != nil {
			return err
		}
		if err := fileutil.WriteFileAtomic(s.cfg.ConfigFile, data, 0o644); err != nil {
			return fmt.Errorf("write exporter config: %w", err)
		}
		s.cfg.Port = port
		s.cfg.StatsDir = statsDir
		if err := s.snap.Restart(ctx, s.name); err != nil {
			return err
		}
		s.events.Record(ssdlc.Restart, "configuration changed")
		return nil
	})
}

// CheckHealth probes the metrics endpoint, restarting the service between
// failed attempts. It reports whether the exporter ended up healthy.
func (s *Sidecar) CheckHealth(ctx context.Context) bool {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return s.probe(ctx)
		},
		NotifyFunc: func(err error, attempt int) {
			s.log.Warn("exporter health check failed", "attempt", attempt, "error", err.Error())
			if attempt >= healthAttempts {
				return
			}
			if err := s.Restart(ctx); err != nil {
				s.log.Warn("cannot restart exporter", "error", err.Error())
			}
		},
		Attempts: healthAttempts,
		Delay:    s.retryDelay,
		Clock:    s.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		if last := retry.LastError(err); last != nil {
			err = last
		}
		s.log.Error("exporter is not healthy, check the exporter service",
			"attempts", healthAttempts,
			"error", err.Error(),
		)
		s.events.Record(ssdlc.Crash, "health check failed")
		return false
	}
	return true
}

// Reconcile applies a configuration change from prev to next.
func (s *Sidecar) Reconcile(ctx context.Context, prev, next Settings, targets TargetPublisher) error {
	if prev != next {
		s.log.Info("exporter config changed")
	}
	s.cfg.Snap, s.cfg.Channel = next.Snap, next.Channel

	if prev.Snap != next.Snap || prev.Channel != next.Channel {
		if err := s.InstallOrRefresh(ctx); err != nil {
			return err
		}
	}
	if prev.Port != next.Port {
		if err := targets.PublishTargets(ctx, []string{"*:" + strconv.Itoa(next.Port)}); err != nil {
			return fmt.Errorf("publish scrape targets: %w", err)
		}
		s.log.Info("updated scrape targets", "port", next.Port)
		if err := s.Configure(ctx, next.Port, s.cfg.StatsDir); err != nil {
			return err
		}
	}
	return nil
}

// RelationChanged starts the exporter when a metrics consumer joins and
// stops it when the consumer departs.
func (s *Sidecar) RelationChanged(ctx context.Context, joined bool) error {
	if joined {
		return s.Start(ctx)
	}
	return s.Stop(ctx)
}

func (s *Sidecar) installed(ctx context.Context, op string, fn func() error) error {
	present, err := s.snap.Present(ctx, s.name)
	if err != nil {
		return fmt.Errorf("%s exporter: %w", op, err)
	}
	if !present {
		s.log.Error("cannot operate the exporter because it is not installed", "operation", op)
		return fmt.Errorf("%w: cannot %s %s", ErrNotInstalled, op, s.name)
	}
	if err := fn(); err != nil {
		s.log.Error("exporter operation failed", "operation", op, "error", err.Error())
		return fmt.Errorf("%s exporter: %w", op, err)
	}
	s.log.Info("exporter operation done", "operation", op)
	return nil
}

func (s *Sidecar) probe(ctx context.Context) error {
	url := s.healthURL
	if url == "" {
		url = "http://localhost:" + strconv.Itoa(s.cfg.Port) + "/metrics"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return nil
}

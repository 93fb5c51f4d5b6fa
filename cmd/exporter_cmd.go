package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/kebairia/jujubackup/internal/config"
	"github.com/kebairia/jujubackup/internal/exporter"
	"github.com/kebairia/jujubackup/internal/fileutil"
	"github.com/kebairia/jujubackup/internal/logger"
	"github.com/kebairia/jujubackup/internal/ssdlc"
)

var (
	exporterConfigFile string
	relationDeparted   bool
)

var exporterCmd = &cobra.Command{
	Use:   "exporter",
	Short: "Serve or manage the Prometheus exporter",
}

var exporterServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the backup statistics on /metrics",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := exporter.LoadServerConfig(exporterConfigFile)
		if err != nil {
			return err
		}
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("exporter log level %q: %w", cfg.Level, err)
		}
		if Debug {
			level = zapcore.DebugLevel
		}
		log, err := logger.Init(logger.WithLevel(level))
		if err != nil {
			return err
		}

		srv, err := exporter.NewServer(cfg, log)
		if err != nil {
			return err
		}
		events := ssdlc.NewRecorder(log, nil, ssdlc.ExporterService)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events.Record(ssdlc.Startup, "")
		if err := srv.ListenAndServe(ctx); err != nil {
			events.Record(ssdlc.Crash, err.Error())
			return err
		}
		events.Record(ssdlc.Shutdown, "")
		return nil
	},
}

func newSidecar(cmd *cobra.Command) (*exporter.Sidecar, config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, cfg, err
	}
	return exporter.NewSidecar(cfg.Exporter, logger.Global()), cfg, nil
}

func sidecarCommand(use, short string, fn func(cmd *cobra.Command, s *exporter.Sidecar, cfg config.Config) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := newSidecar(cmd)
			if err != nil {
				return err
			}
			return fn(cmd, s, cfg)
		},
	}
}

var (
	exporterInstallCmd = sidecarCommand("install", "Install or refresh the exporter snap",
		func(cmd *cobra.Command, s *exporter.Sidecar, _ config.Config) error {
			return s.InstallOrRefresh(cmd.Context())
		})
	exporterStartCmd = sidecarCommand("start", "Start the exporter service",
		func(cmd *cobra.Command, s *exporter.Sidecar, _ config.Config) error {
			return s.Start(cmd.Context())
		})
	exporterStopCmd = sidecarCommand("stop", "Stop the exporter service",
		func(cmd *cobra.Command, s *exporter.Sidecar, _ config.Config) error {
			return s.Stop(cmd.Context())
		})
	exporterRestartCmd = sidecarCommand("restart", "Restart the exporter service",
		func(cmd *cobra.Command, s *exporter.Sidecar, _ config.Config) error {
			return s.Restart(cmd.Context())
		})
	exporterRemoveCmd = sidecarCommand("remove", "Remove the exporter snap",
		func(cmd *cobra.Command, s *exporter.Sidecar, _ config.Config) error {
			return s.Remove(cmd.Context())
		})
	exporterConfigureCmd = sidecarCommand("configure", "Write the exporter configuration and restart it",
		func(cmd *cobra.Command, s *exporter.Sidecar, cfg config.Config) error {
			return s.Configure(cmd.Context(), cfg.Exporter.Port, cfg.Exporter.StatsDir)
		})
	exporterHealthCmd = sidecarCommand("health", "Probe the exporter, restarting it if needed",
		func(cmd *cobra.Command, s *exporter.Sidecar, _ config.Config) error {
			if !s.CheckHealth(cmd.Context()) {
				return errors.New("exporter is not healthy")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "exporter is healthy")
			return nil
		})
	exporterRelationCmd = sidecarCommand("relation", "Start the exporter for a joined metrics consumer, or stop it with --departed",
		func(cmd *cobra.Command, s *exporter.Sidecar, _ config.Config) error {
			return s.RelationChanged(cmd.Context(), !relationDeparted)
		})
	exporterReconcileCmd = sidecarCommand("reconcile", "Apply exporter setting changes since the last reconcile",
		func(cmd *cobra.Command, s *exporter.Sidecar, cfg config.Config) error {
			return reconcileExporter(cmd, s, cfg)
		})
)

// reconcileExporter compares the configured exporter settings with the ones
// applied last and records the new settings once applied.
func reconcileExporter(cmd *cobra.Command, s *exporter.Sidecar, cfg config.Config) error {
	statePath := cfg.Paths.ExporterState()
	next := exporter.SettingsFrom(cfg.Exporter)

	var prev exporter.Settings
	if data, err := os.ReadFile(statePath); err == nil {
		if err := yaml.Unmarshal(data, &prev); err != nil {
			return fmt.Errorf("read exporter state %s: %w", statePath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read exporter state %s: %w", statePath, err)
	}

	targets := exporter.FileTargetPublisher{Path: cfg.Paths.ScrapeJobs()}
	if err := s.Reconcile(cmd.Context(), prev, next, targets); err != nil {
		return err
	}

	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode exporter state: %w", err)
	}
	return fileutil.WriteFileAtomic(statePath, data, 0o600)
}

func init() {
	exporterServeCmd.Flags().
		StringVar(&exporterConfigFile, "exporter-config", config.Default().Exporter.ConfigFile, "path to the exporter config file")
	exporterRelationCmd.Flags().
		BoolVar(&relationDeparted, "departed", false, "the metrics consumer departed")

	exporterCmd.AddCommand(
		exporterServeCmd,
		exporterInstallCmd,
		exporterStartCmd,
		exporterStopCmd,
		exporterRestartCmd,
		exporterRemoveCmd,
		exporterConfigureCmd,
		exporterHealthCmd,
		exporterRelationCmd,
		exporterReconcileCmd,
	)
}

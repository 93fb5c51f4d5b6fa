package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/kebairia/jujubackup/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// ServerConfig is the exporter configuration file written by Configure.
type ServerConfig struct {
	Port       int    `mapstructure:"port"        yaml:"port"`
	Level      string `mapstructure:"level"       yaml:"level"`
	BackupPath string `mapstructure:"backup_path" yaml:"backup_path"`
}

// LoadServerConfig reads the exporter configuration file.
func LoadServerConfig(path string) (ServerConfig, error) {
	v := viper.New()
	v.SetDefault("port", 10000)
	v.SetDefault("level", "INFO")
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	var cfg ServerConfig
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read exporter config %s: %w", path, err)
	}
	if err := v.UnmarshalExact(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal exporter config: %w", err)
	}
	if cfg.BackupPath == "" {
		return cfg, errors.New("exporter config: backup_path is required")
	}
	return cfg, nil
}

// Server is the exporter HTTP endpoint.
type Server struct {
	addr     string
	registry *prometheus.Registry
	log      logger.Logger
}

// NewServer registers a Collector for cfg.BackupPath on a private registry.
func NewServer(cfg ServerConfig, log logger.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(cfg.BackupPath, log)); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	return &Server{
		addr:     net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		registry: registry,
		log:      log,
	}, nil
}

// Handler serves /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("exporter listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("exporter server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("exporter shutdown: %w", err)
	}
	s.log.Info("exporter stopped")
	return nil
}
